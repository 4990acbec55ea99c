package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newDebugAllocator(t *testing.T) *Allocator {
	return newTestAllocator(t, func(c *Config) { c.DebugBlocks = true })
}

// Test_Debug_WrongSizeIsFatal frees a chunk with a different size.
func Test_Debug_WrongSizeIsFatal(t *testing.T) {
	a := newDebugAllocator(t)
	c := a.Alloc(40)
	requireFatal(t, ErrSizeMismatch, func() {
		a.Free(41, c)
	})
}

// Test_Debug_DoubleFreeIsFatal frees the same chunk twice.
func Test_Debug_DoubleFreeIsFatal(t *testing.T) {
	a := newDebugAllocator(t)
	th := a.NewThread()
	defer th.Close()

	c := th.Alloc(40)
	th.Free(40, c)
	requireFatal(t, ErrUnknownAddress, func() {
		th.Free(40, c)
	})
}

// Test_Debug_UnknownAddressIsFatal frees memory that never came from the
// allocator.
func Test_Debug_UnknownAddressIsFatal(t *testing.T) {
	a := newDebugAllocator(t)
	requireFatal(t, ErrUnknownAddress, func() {
		a.Free(64, make([]byte, 64))
	})
}

// Test_Debug_SystemPathIsChecked covers allocations above the slab range.
func Test_Debug_SystemPathIsChecked(t *testing.T) {
	a := newDebugAllocator(t)
	c := a.Alloc(5000)
	requireFatal(t, ErrSizeMismatch, func() {
		a.Free(4999, c)
	})
	a.Free(5000, c)
	require.Zero(t, a.Stats().Debug.Entries)
}

// Test_Debug_FreeChainIsChecked checks every link of a chain.
func Test_Debug_FreeChainIsChecked(t *testing.T) {
	a := newDebugAllocator(t)
	first := a.Alloc(32)
	second := a.Alloc(32)
	a.Free(32, second)

	requireFatal(t, ErrUnknownAddress, func() {
		a.FreeChain(32, first, func(b []byte) []byte {
			if addrOf(b) == addrOf(first) {
				return second
			}
			return nil
		})
	})
}

// Test_Debug_BalancedTrafficLeavesNoEntries runs mixed traffic and checks the
// registry drains.
func Test_Debug_BalancedTrafficLeavesNoEntries(t *testing.T) {
	a := newDebugAllocator(t)
	var held [][]byte
	var sizes []int
	for i := range 2000 {
		size := 1 + (i*37)%3000
		held = append(held, a.Alloc(size))
		sizes = append(sizes, size)
	}
	require.Equal(t, len(held), a.Stats().Debug.Entries)
	for i, c := range held {
		a.Free(sizes[i], c)
	}
	require.Zero(t, a.Stats().Debug.Entries)
}
