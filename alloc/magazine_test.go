package alloc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/slabkit/internal/pages"
)

func newTestCache(t *testing.T, clock Clock, workingSet time.Duration) *magazineCache {
	t.Helper()
	geo := newGeometry(testPageSize)
	sa := newSlabAllocator(&geo, pages.Heap{}, 1, discard)
	return newMagazineCache(&geo, sa, clock, workingSet, discard)
}

// Test_MagazineCache_PopSynthesizes checks that an empty cache builds a
// magazine of threshold chunks straight from the slab layer.
func Test_MagazineCache_PopSynthesizes(t *testing.T) {
	mc := newTestCache(t, newFakeClock(), time.Second)

	m := mc.pop(0)
	require.Equal(t, mc.threshold(0), m.size())
	require.Equal(t, m.size(), mc.slabs.stats(0).chunksInUse)
	require.Zero(t, mc.stats(0).magazines)
	require.EqualValues(t, 1, mc.stats(0).pops)
}

// Test_MagazineCache_LIFO checks that the most recently pushed magazine is
// popped first.
func Test_MagazineCache_LIFO(t *testing.T) {
	mc := newTestCache(t, newFakeClock(), time.Hour)

	m1 := mc.pop(0)
	m2 := mc.pop(0)
	mc.push(0, m1)
	mc.push(0, m2)
	require.Equal(t, 2, mc.stats(0).magazines)

	require.Same(t, m2, mc.pop(0))
	require.Same(t, m1, mc.pop(0))
	require.Zero(t, mc.stats(0).magazines)
}

// Test_MagazineCache_SmallMagazineGoesToSlab checks that a magazine below
// MinMagazine is not cached.
func Test_MagazineCache_SmallMagazineGoesToSlab(t *testing.T) {
	mc := newTestCache(t, newFakeClock(), time.Hour)

	m := mc.pop(0)
	full := m.size()
	for m.size() > MinMagazine-1 {
		mc.slabs.free(0, m.pop())
	}
	require.Equal(t, MinMagazine-1, mc.slabs.stats(0).chunksInUse)

	mc.push(0, m)
	require.Zero(t, mc.stats(0).magazines)
	require.Zero(t, mc.slabs.stats(0).chunksInUse)
	require.Greater(t, full, MinMagazine)
}

// Test_MagazineCache_TrimsAgedMagazines ages cached magazines past the
// working set and checks the next push returns them to the slab layer.
func Test_MagazineCache_TrimsAgedMagazines(t *testing.T) {
	mc := newTestCache(t, newFakeClock(), time.Second)

	var mags []*magazine
	for range 4 {
		mags = append(mags, mc.pop(0))
	}
	for _, m := range mags[:3] {
		mc.push(0, m)
	}
	require.Equal(t, 3, mc.stats(0).magazines)

	mc.mu.Lock()
	for m, i := mc.heads[0], 0; i < 3; m, i = m.next, i+1 {
		m.stamp = mc.lastStamp - 2*mc.workingSet
	}
	mc.mu.Unlock()

	mc.push(0, mags[3])
	st := mc.stats(0)
	require.Equal(t, 1, st.magazines)
	require.Equal(t, mags[3].size(), st.chunks)
	require.Equal(t, st.chunks, mc.slabs.stats(0).chunksInUse)
}

// Test_MagazineCache_TrimsOnClockAdvance checks eviction driven by the clock,
// including the coarse stamp that is only refreshed every few pushes.
func Test_MagazineCache_TrimsOnClockAdvance(t *testing.T) {
	clock := newFakeClock()
	mc := newTestCache(t, clock, time.Second)

	var mags []*magazine
	for range maxStampCounter + 2 {
		mags = append(mags, mc.pop(0))
	}

	mc.push(0, mags[0])
	clock.Advance(2 * time.Second)

	// The stamp is stale for the next maxStampCounter pushes, so nothing ages.
	for _, m := range mags[1 : maxStampCounter+1] {
		mc.push(0, m)
	}
	require.Equal(t, maxStampCounter+1, mc.stats(0).magazines)

	// This push refreshes the stamp and trims everything older than a second.
	mc.push(0, mags[maxStampCounter+1])
	require.Equal(t, 1, mc.stats(0).magazines)
	require.EqualValues(t, 2000, mc.lastStamp)
}

// Test_MagazineCache_ZeroWorkingSet checks that a zero window caches nothing.
func Test_MagazineCache_ZeroWorkingSet(t *testing.T) {
	mc := newTestCache(t, newFakeClock(), 0)
	mc.push(0, mc.pop(0))
	require.Zero(t, mc.stats(0).magazines)
	require.Zero(t, mc.slabs.stats(0).chunksInUse)
}

// Test_MagazineCache_ContentionCounter drives the counter up with a
// contended acquisition and back down with a run of uncontended ones.
func Test_MagazineCache_ContentionCounter(t *testing.T) {
	mc := newTestCache(t, newFakeClock(), time.Second)

	for attempt := 0; mc.contention[0].Load() == 0; attempt++ {
		require.Less(t, attempt, 100, "never observed contention")

		mc.mu.Lock()
		done := make(chan struct{})
		go func() {
			mc.lockAdaptive(0)
			mc.mu.Unlock()
			close(done)
		}()
		time.Sleep(5 * time.Millisecond)
		mc.mu.Unlock()
		<-done
	}
	require.EqualValues(t, 1, mc.contention[0].Load())
	base := magazineThreshold(16, testPageSize, 0)
	require.GreaterOrEqual(t, mc.threshold(0), base)

	for range uncontendedRun - 1 {
		mc.lockAdaptive(0)
		mc.mu.Unlock()
	}
	require.EqualValues(t, 1, mc.contention[0].Load())
	mc.lockAdaptive(0)
	mc.mu.Unlock()
	require.Zero(t, mc.contention[0].Load())
}

// Test_MagazineCache_ContentionSaturates checks the counter never passes
// MaxMagazine and the threshold stays bounded.
func Test_MagazineCache_ContentionSaturates(t *testing.T) {
	mc := newTestCache(t, newFakeClock(), time.Second)
	last := mc.geo.numClasses - 1
	mc.contention[last].Store(MaxMagazine)
	mc.contention[0].Store(MaxMagazine)

	mc.mu.Lock()
	done := make(chan struct{})
	go func() {
		mc.lockAdaptive(0)
		mc.mu.Unlock()
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	mc.mu.Unlock()
	<-done

	require.EqualValues(t, MaxMagazine, mc.contention[0].Load())
	require.Equal(t, MaxMagazine, mc.threshold(0))
	require.Equal(t, magazineLimit(classChunkSize(last)), mc.threshold(last))
}
