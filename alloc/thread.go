package alloc

import "runtime"

// Thread is a per-goroutine cache: for every size class a front magazine
// that serves allocations and a back magazine that collects frees. A Thread
// must not be used by two goroutines at once.
//
// Magazines are created on first use and handed back to the shared cache by
// Close. A closed Thread may be used again; it starts out empty.
type Thread struct {
	a    *Allocator
	mags []magazinePair
}

type magazinePair struct {
	front, back *magazine
}

// NewThread returns an empty Thread bound to a.
func (a *Allocator) NewThread() *Thread {
	return &Thread{a: a}
}

// Alloc is Allocator.Alloc served from this Thread's magazines.
func (t *Thread) Alloc(size int) []byte {
	return t.a.alloc(t, size, false)
}

// AllocZeroed is Allocator.AllocZeroed served from this Thread's magazines.
func (t *Thread) AllocZeroed(size int) []byte {
	return t.a.alloc(t, size, true)
}

// Copy is Allocator.Copy served from this Thread's magazines.
func (t *Thread) Copy(src []byte) []byte {
	return t.a.copy(t, src)
}

// Free is Allocator.Free into this Thread's magazines.
func (t *Thread) Free(size int, chunk []byte) {
	t.a.free(t, size, chunk)
}

// FreeChain is Allocator.FreeChain into this Thread's magazines.
func (t *Thread) FreeChain(size int, head []byte, next func([]byte) []byte) {
	t.a.freeChain(t, size, head, next)
}

// Close returns every magazine to the shared cache. Magazines smaller than
// MinMagazine go straight to the slab layer.
func (t *Thread) Close() {
	if t.mags == nil {
		return
	}
	t.a.closing.RLock()
	defer t.a.closing.RUnlock()

	cache := t.a.cache
	for ix := range t.mags {
		p := &t.mags[ix]
		if p.front != nil {
			cache.push(ix, p.front)
		}
		if p.back != nil {
			cache.push(ix, p.back)
		}
		p.front, p.back = nil, nil
	}
	t.mags = nil
	t.a.unregister(t)
}

func (t *Thread) pair(ix int) *magazinePair {
	if t.mags == nil {
		t.mags = make([]magazinePair, t.a.geo.numClasses)
		t.a.register(t)
	}
	return &t.mags[ix]
}

func (t *Thread) allocChunk(ix int) []byte {
	p := t.pair(ix)
	if p.front.size() == 0 {
		p.front, p.back = p.back, p.front
		if p.front.size() == 0 {
			t.a.cache.recycle(p.front)
			p.front = t.a.cache.pop(ix)
		}
	}
	return p.front.pop()
}

func (t *Thread) freeChunk(ix int, chunk []byte) {
	p := t.pair(ix)
	cache := t.a.cache
	threshold := cache.threshold(ix)
	if p.back.size() >= threshold {
		p.front, p.back = p.back, p.front
		if p.back.size() >= threshold {
			cache.push(ix, p.back)
			p.back = nil
		}
	}
	if p.back == nil {
		p.back = cache.newMagazine(threshold)
	}
	p.back.chunks = append(p.back.chunks, chunk)
}

// pooledThread carries a Thread through the allocator's pool. When the pool
// drops it, a cleanup returns the Thread's magazines.
type pooledThread struct {
	t *Thread
}

func (a *Allocator) acquireThread() *pooledThread {
	if pt, ok := a.threadPool.Get().(*pooledThread); ok {
		return pt
	}
	pt := &pooledThread{t: a.NewThread()}
	runtime.AddCleanup(pt, func(t *Thread) { t.Close() }, pt.t)
	return pt
}

func (a *Allocator) releaseThread(pt *pooledThread) {
	a.threadPool.Put(pt)
}

func (a *Allocator) register(t *Thread) {
	a.threadsMu.Lock()
	a.threads[t] = struct{}{}
	a.threadsMu.Unlock()
}

func (a *Allocator) unregister(t *Thread) {
	a.threadsMu.Lock()
	delete(a.threads, t)
	a.threadsMu.Unlock()
}
