//go:build linux || darwin

package pages

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Mmap_PageAndOverAligned(t *testing.T) {
	m := NewMmap()
	ps := SystemPageSize()

	for _, req := range [][2]int{{ps, ps}, {ps, 4 * ps}, {4 * ps, 4 * ps}, {16 * ps, 16 * ps}} {
		block, err := m.Alloc(req[0], req[1])
		require.NoError(t, err)
		requireAligned(t, block, req[0], req[1])

		// The mapping is writable end to end.
		block[0], block[len(block)-1] = 0xA5, 0x5A
		require.Equal(t, byte(0xA5), block[0])
		require.NoError(t, m.Release(block))
	}
}

func Test_Mmap_RefusesSubPage(t *testing.T) {
	m := NewMmap()
	_, err := m.Alloc(128, 128)
	require.ErrorIs(t, err, ErrUnsupported)
	require.ErrorIs(t, m.Release(make([]byte, 16)), ErrUnknownBlock)
}

func Test_Default_SmallAndLargeBlocks(t *testing.T) {
	p := Default()
	ps := SystemPageSize()
	for _, size := range []int{128, ps, 2 * ps} {
		block, err := p.Alloc(size, size)
		require.NoError(t, err)
		requireAligned(t, block, size, size)
		require.NoError(t, p.Release(block))
	}
}
