package alloc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/slabkit/internal/buf"
)

// testPageSize pins the geometry so class layouts do not depend on the host.
const testPageSize = 4096

// fakeClock is a Clock that only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestAllocator builds an allocator with a fixed page size. mutate may
// adjust the configuration first.
func newTestAllocator(t testing.TB, mutate func(*Config)) *Allocator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxPageSize = testPageSize
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// classAudit counts the chunks of one class by where they are.
type classAudit struct {
	out      int // handed out by the slab layer
	cached   int // in shared cache magazines
	threaded int // in Thread magazines
}

// held is how many chunks callers must be holding for the books to balance.
func (c classAudit) held() int {
	return c.out - c.cached - c.threaded
}

// auditChunks walks every slab free list, cached magazine and Thread
// magazine, failing on any chunk seen twice. The allocator must be quiescent.
func auditChunks(t testing.TB, a *Allocator) []classAudit {
	t.Helper()
	a.start()

	// Pool cleanups may close Threads at any time.
	a.closing.Lock()
	defer a.closing.Unlock()

	res := make([]classAudit, a.geo.numClasses)
	seen := make(map[uintptr]string)
	mark := func(addr uintptr, where string) {
		if prev, dup := seen[addr]; dup {
			t.Fatalf("chunk %#x found in %s and %s", addr, prev, where)
		}
		seen[addr] = where
	}

	auditSlabs(t, a, res, mark)
	auditCache(a, res, mark)
	auditThreads(a, res, mark)
	return res
}

func auditSlabs(t testing.TB, a *Allocator, res []classAudit, mark func(uintptr, string)) {
	a.slabs.mu.Lock()
	defer a.slabs.mu.Unlock()

	for ix := range a.slabs.classes {
		c := &a.slabs.classes[ix]

		ring := 0
		if c.head != noSlab {
			for id := c.head; ; {
				ring++
				id = c.slabs[id].next
				if id == c.head {
					break
				}
			}
		}
		require.Equal(t, c.live, ring, "class %d ring length", ix)

		for id := range c.slabs {
			s := &c.slabs[id]
			if s.page == nil {
				continue
			}
			require.Positive(t, s.nAllocated, "class %d slab %d is empty but kept", ix, id)
			free := 0
			for off := s.free; off != endOfList; off = buf.U32LE(s.page[off:]) {
				mark(s.base+uintptr(off), "slab free list")
				free++
				require.LessOrEqual(t, free, s.nChunks, "class %d slab %d free list loops", ix, id)
			}
			require.Equal(t, s.nChunks-s.nAllocated, free, "class %d slab %d free count", ix, id)
			res[ix].out += s.nAllocated
		}
	}
}

func auditCache(a *Allocator, res []classAudit, mark func(uintptr, string)) {
	a.cache.mu.Lock()
	defer a.cache.mu.Unlock()

	for ix, head := range a.cache.heads {
		if head == nil {
			continue
		}
		m := head
		for {
			for _, c := range m.chunks {
				mark(addrOf(c), "cached magazine")
				res[ix].cached++
			}
			m = m.next
			if m == head {
				break
			}
		}
	}
}

func auditThreads(a *Allocator, res []classAudit, mark func(uintptr, string)) {
	a.threadsMu.Lock()
	defer a.threadsMu.Unlock()

	for th := range a.threads {
		for ix, p := range th.mags {
			for _, m := range []*magazine{p.front, p.back} {
				if m == nil {
					continue
				}
				for _, c := range m.chunks {
					mark(addrOf(c), "thread magazine")
					res[ix].threaded++
				}
			}
		}
	}
}

// requireHeld checks that callers hold exactly want[ix] chunks of each class
// (zero for classes missing from want).
func requireHeld(t testing.TB, a *Allocator, want map[int]int) {
	t.Helper()
	for ix, c := range auditChunks(t, a) {
		require.Equal(t, want[ix], c.held(), "class %d (chunk %d)", ix, classChunkSize(ix))
	}
}

// requireFatal runs fn and checks it panics with a *FatalError wrapping target.
func requireFatal(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected a fatal panic")
		fe, ok := r.(*FatalError)
		require.True(t, ok, "panic value %T is not *FatalError: %v", r, r)
		require.ErrorIs(t, fe, target)
	}()
	fn()
}
