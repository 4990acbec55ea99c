package alloc

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Test_Thread_SteadyStateStaysLocal checks that alternating alloc/free on one
// Thread is served by its own magazines after the first reload.
func Test_Thread_SteadyStateStaysLocal(t *testing.T) {
	a := newTestAllocator(t, nil)
	th := a.NewThread()
	defer th.Close()

	for range 10_000 {
		c := th.Alloc(24)
		th.Free(24, c)
	}
	ix, _ := a.ClassOf(24)
	st := a.cache.stats(ix)
	require.EqualValues(t, 1, st.pops)
	require.Zero(t, st.pushes)
}

// Test_Thread_SwapBeforeReload checks that freed chunks are reused from the
// back magazine before the shared cache is consulted.
func Test_Thread_SwapBeforeReload(t *testing.T) {
	a := newTestAllocator(t, nil)
	th := a.NewThread()
	defer th.Close()

	ix, _ := a.ClassOf(16)
	n := a.MagazineThreshold(ix)

	var held [][]byte
	for range n {
		held = append(held, th.Alloc(16))
	}
	// Front is now empty; refill the back.
	for _, c := range held {
		th.Free(16, c)
	}
	for range n {
		th.Alloc(16)
	}
	require.EqualValues(t, 1, a.cache.stats(ix).pops)
}

// Test_Thread_OverflowPushesToCache checks that a full pair hands a magazine
// to the shared cache.
func Test_Thread_OverflowPushesToCache(t *testing.T) {
	a := newTestAllocator(t, nil)
	th := a.NewThread()

	ix, _ := a.ClassOf(16)
	n := a.MagazineThreshold(ix)

	var held [][]byte
	for range 3 * n {
		held = append(held, th.Alloc(16))
	}
	for _, c := range held {
		th.Free(16, c)
	}
	st := a.cache.stats(ix)
	require.Positive(t, st.pushes)
	require.Positive(t, st.magazines)
	requireHeld(t, a, nil)

	th.Close()
	require.Zero(t, a.Stats().Threads)
	requireHeld(t, a, nil)
}

// Test_Thread_CloseReturnsSmallMagazinesToSlab checks teardown of a pair whose
// magazines are too small to cache.
func Test_Thread_CloseReturnsSmallMagazinesToSlab(t *testing.T) {
	a := newTestAllocator(t, nil)
	th := a.NewThread()

	ix, _ := a.ClassOf(16)
	n := a.MagazineThreshold(ix)

	var held [][]byte
	for range n {
		held = append(held, th.Alloc(16))
	}
	th.Free(16, held[0])
	th.Free(16, held[1])
	held = held[2:]

	th.Close()
	require.Zero(t, a.cache.stats(ix).magazines)
	requireHeld(t, a, map[int]int{ix: len(held)})
	require.Equal(t, len(held), a.slabs.stats(ix).chunksInUse)

	for _, c := range held {
		a.Free(16, c)
	}
}

// Test_Thread_ReusableAfterClose checks that a closed Thread starts over.
func Test_Thread_ReusableAfterClose(t *testing.T) {
	a := newTestAllocator(t, nil)
	th := a.NewThread()
	th.Free(32, th.Alloc(32))
	th.Close()
	th.Close()

	c := th.Alloc(32)
	require.Len(t, c, 32)
	require.Equal(t, 1, a.Stats().Threads)
	th.Free(32, c)
	th.Close()
	require.Zero(t, a.Stats().Threads)
	requireHeld(t, a, nil)
}

// Test_Thread_PooledThreadClosedByCleanup checks that a pooled Thread dropped
// by the GC hands its magazines back to the shared cache.
func Test_Thread_PooledThreadClosedByCleanup(t *testing.T) {
	if testing.Short() {
		t.Skip("forces GC cycles")
	}
	a := newTestAllocator(t, nil)
	ix, _ := a.ClassOf(32)

	var held [][]byte
	for range 100 {
		held = append(held, a.Alloc(32))
	}
	for _, c := range held {
		a.Free(32, c)
	}
	require.Positive(t, a.Stats().Threads, "allocator calls run on a pooled Thread")
	requireHeld(t, a, nil)

	// sync.Pool keeps a victim generation, so it takes more than one cycle.
	require.Eventually(t, func() bool {
		runtime.GC()
		return a.Stats().Threads == 0
	}, 10*time.Second, 10*time.Millisecond)

	st := a.cache.stats(ix)
	require.Positive(t, st.magazines)
	require.Positive(t, st.chunks)
	requireHeld(t, a, nil)
}
