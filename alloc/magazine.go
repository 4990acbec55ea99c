package alloc

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxStampCounter is how many pushes reuse one clock reading.
	maxStampCounter = 7

	// uncontendedRun is how many uncontended lock acquisitions in a row lower
	// a contention counter by one.
	uncontendedRun = 12
)

// magazine is a batch of chunks of one class. Cached magazines form a
// circular list per class, most recently pushed first.
type magazine struct {
	chunks     [][]byte
	stamp      int64 // ms since the cache origin
	prev, next *magazine
}

func (m *magazine) size() int {
	if m == nil {
		return 0
	}
	return len(m.chunks)
}

// pop removes the most recently added chunk.
func (m *magazine) pop() []byte {
	n := len(m.chunks) - 1
	c := m.chunks[n]
	m.chunks[n] = nil
	m.chunks = m.chunks[:n]
	return c
}

// magazineCache is the global depot of full magazines, one list per class.
type magazineCache struct {
	mu sync.Mutex

	heads      []*magazine
	counts     []int // magazines cached per class
	pops       []int64
	pushes     []int64
	contention []atomic.Int32

	mutexCounter int
	stampCounter int
	lastStamp    int64
	origin       time.Time
	clock        Clock
	workingSet   int64 // ms

	geo   *geometry
	slabs *slabAllocator
	spare sync.Pool
	log   *slog.Logger
}

func newMagazineCache(geo *geometry, slabs *slabAllocator, clock Clock, workingSet time.Duration, log *slog.Logger) *magazineCache {
	n := geo.numClasses
	return &magazineCache{
		heads:        make([]*magazine, n),
		counts:       make([]int, n),
		pops:         make([]int64, n),
		pushes:       make([]int64, n),
		contention:   make([]atomic.Int32, n),
		stampCounter: maxStampCounter,
		origin:       clock.Now(),
		clock:        clock,
		workingSet:   workingSet.Milliseconds(),
		geo:          geo,
		slabs:        slabs,
		spare:        sync.Pool{New: func() any { return new(magazine) }},
		log:          log,
	}
}

// lockAdaptive takes the magazine lock and feeds the outcome into the
// contention counter of class ix. Counters are written under the lock and
// read without it.
func (mc *magazineCache) lockAdaptive(ix int) {
	if mc.mu.TryLock() {
		mc.mutexCounter--
		if mc.mutexCounter <= -uncontendedRun {
			mc.mutexCounter = 0
			if v := mc.contention[ix].Load(); v > 0 {
				mc.contention[ix].Store(v - 1)
			}
		}
		return
	}

	mc.mu.Lock()
	mc.mutexCounter++
	if mc.mutexCounter >= 1 {
		mc.mutexCounter = 0
		mc.contention[ix].Store(min(mc.contention[ix].Load()+1, MaxMagazine))
	}
}

// threshold is the current magazine size for class ix.
func (mc *magazineCache) threshold(ix int) int {
	return magazineThreshold(classChunkSize(ix), mc.geo.maxPageSize, int(mc.contention[ix].Load()))
}

// newMagazine returns an empty magazine with room for n chunks.
func (mc *magazineCache) newMagazine(n int) *magazine {
	m := mc.spare.Get().(*magazine)
	m.chunks = slices.Grow(m.chunks[:0], n)
	return m
}

// recycle keeps the magazine struct for reuse. Its chunks must already be gone.
func (mc *magazineCache) recycle(m *magazine) {
	if m == nil {
		return
	}
	clear(m.chunks)
	m.chunks = m.chunks[:0]
	m.prev, m.next, m.stamp = nil, nil, 0
	mc.spare.Put(m)
}

// pop takes the most recently cached magazine of class ix, or builds a fresh
// one from the slab layer when the cache is empty.
func (mc *magazineCache) pop(ix int) *magazine {
	mc.lockAdaptive(ix)
	mc.pops[ix]++
	head := mc.heads[ix]
	if head == nil {
		n := mc.threshold(ix)
		mc.mu.Unlock()

		m := mc.newMagazine(n)
		m.chunks = mc.slabs.allocBatch(ix, n, m.chunks)
		return m
	}

	if head.next == head {
		mc.heads[ix] = nil
	} else {
		head.prev.next = head.next
		head.next.prev = head.prev
		mc.heads[ix] = head.next
	}
	mc.counts[ix]--
	mc.mu.Unlock()

	head.prev, head.next, head.stamp = nil, nil, 0
	return head
}

// push caches m as the most recent magazine of class ix and trims magazines
// that have been idle for the working-set window. Magazines smaller than
// MinMagazine go straight back to the slab layer.
func (mc *magazineCache) push(ix int, m *magazine) {
	if m.size() < MinMagazine {
		if m != nil {
			mc.slabs.freeBatch(ix, m.chunks)
			mc.recycle(m)
		}
		return
	}

	mc.mu.Lock()
	mc.pushes[ix]++
	if head := mc.heads[ix]; head == nil {
		m.next, m.prev = m, m
	} else {
		tail := head.prev
		m.next, m.prev = head, tail
		tail.next = m
		head.prev = m
	}
	mc.updateStampLocked()
	m.stamp = mc.lastStamp
	mc.heads[ix] = m
	mc.counts[ix]++
	trash := mc.trimLocked(ix, mc.lastStamp)
	mc.mu.Unlock()

	mc.release(ix, trash)
}

// updateStampLocked refreshes the coarse stamp every maxStampCounter+1 calls.
func (mc *magazineCache) updateStampLocked() {
	if mc.stampCounter >= maxStampCounter {
		mc.lastStamp = mc.clock.Now().Sub(mc.origin).Milliseconds()
		mc.stampCounter = 0
		return
	}
	mc.stampCounter++
}

// trimLocked unlinks magazines from the tail whose stamp is at least one
// working-set window older than stamp.
func (mc *magazineCache) trimLocked(ix int, stamp int64) []*magazine {
	var trash []*magazine
	for mc.heads[ix] != nil {
		tail := mc.heads[ix].prev
		if stamp-tail.stamp < mc.workingSet {
			break
		}
		if tail.next == tail {
			mc.heads[ix] = nil
		} else {
			tail.prev.next = tail.next
			tail.next.prev = tail.prev
		}
		tail.prev, tail.next = nil, nil
		mc.counts[ix]--
		trash = append(trash, tail)
	}
	return trash
}

// release hands trimmed magazines back to the slab layer.
func (mc *magazineCache) release(ix int, trash []*magazine) {
	if len(trash) == 0 {
		return
	}
	n := 0
	for _, m := range trash {
		n += len(m.chunks)
		mc.slabs.freeBatch(ix, m.chunks)
		mc.recycle(m)
	}
	mc.log.Debug("magazines trimmed", "class", ix, "magazines", len(trash), "chunks", n)
}

// magazineClassStats is a locked snapshot of one class.
type magazineClassStats struct {
	magazines int
	chunks    int
	pops      int64
	pushes    int64
}

func (mc *magazineCache) stats(ix int) magazineClassStats {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	st := magazineClassStats{magazines: mc.counts[ix], pops: mc.pops[ix], pushes: mc.pushes[ix]}
	if head := mc.heads[ix]; head != nil {
		m := head
		for {
			st.chunks += len(m.chunks)
			m = m.next
			if m == head {
				break
			}
		}
	}
	return st
}
