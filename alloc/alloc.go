package alloc

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/slabkit/internal/buf"
	"github.com/joshuapare/slabkit/internal/pages"
	"github.com/joshuapare/slabkit/internal/registry"
)

// route is the layer that serves a request.
type route uint8

const (
	routeSystem route = iota
	routeMagazine
	routeSlab
)

func (r route) String() string {
	switch r {
	case routeMagazine:
		return "magazine"
	case routeSlab:
		return "slab"
	}
	return "system"
}

// Allocator is a size-classed chunk allocator. Create one with New.
type Allocator struct {
	mu      sync.Mutex // guards cfg until started
	cfg     Config
	started atomic.Bool
	once    sync.Once

	log *slog.Logger
	geo geometry

	// Built on first use from the frozen configuration.
	pages   *pages.Counted
	slabs   *slabAllocator
	cache   *magazineCache
	sys     *systemAllocator
	reg     *registry.Registry
	ceiling int // largest chunk routed through magazines, 0 for none

	threadPool sync.Pool
	threadsMu  sync.Mutex
	threads    map[*Thread]struct{}

	// closing is held shared while a Thread returns its magazines. Taking it
	// exclusively stops pool cleanups from moving chunks, so a quiescent
	// allocator can be walked for accounting.
	closing sync.RWMutex
}

// New validates cfg and returns an allocator. Nothing is allocated until the
// first request.
func New(cfg Config) (*Allocator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Allocator{
		cfg:     cfg,
		log:     cfg.Logger,
		geo:     newGeometry(cfg.MaxPageSize),
		threads: make(map[*Thread]struct{}),
	}, nil
}

// start freezes the configuration and builds the layers.
func (a *Allocator) start() {
	a.once.Do(func() {
		a.mu.Lock()
		a.started.Store(true)
		cfg := a.cfg
		a.mu.Unlock()

		p := cfg.Pages
		if p == nil {
			// Validated by New.
			p, _ = pages.ByName(cfg.PageSource)
		}
		a.pages = pages.NewCounted(p)
		a.slabs = newSlabAllocator(&a.geo, a.pages, cfg.ColorIncrement, a.log)
		a.cache = newMagazineCache(&a.geo, a.slabs, cfg.Clock, cfg.WorkingSet, a.log)
		a.sys = &systemAllocator{}
		if cfg.DebugBlocks {
			a.reg = registry.New()
		}

		switch {
		case cfg.AlwaysMalloc, cfg.BypassMagazines:
			a.ceiling = 0
		case cfg.MagazineCeiling > 0:
			a.ceiling = min(buf.AlignDown(cfg.MagazineCeiling, Align), a.geo.maxSlabChunk)
		default:
			a.ceiling = a.geo.maxSlabChunk
		}

		a.log.Debug("allocator started",
			"pages", a.pages.Name(),
			"max_page", a.geo.maxPageSize,
			"classes", a.geo.numClasses,
			"max_slab_chunk", a.geo.maxSlabChunk,
			"magazine_ceiling", a.ceiling,
			"config", cfg.String())
	})
}

// routeOf picks the layer for a request of size bytes and its class index.
func (a *Allocator) routeOf(size int) (route, int) {
	chunk, ok := buf.AlignUp(size, Align)
	if !ok {
		return routeSystem, -1
	}
	if chunk <= a.ceiling {
		return routeMagazine, classIndex(chunk)
	}
	if !a.cfg.AlwaysMalloc && chunk <= a.geo.maxSlabChunk {
		return routeSlab, classIndex(chunk)
	}
	return routeSystem, -1
}

// Alloc returns a chunk with len size. Its capacity is the chunk size of the
// class serving it. Contents are unspecified. Alloc(0) returns nil, as does a
// request the system allocator cannot satisfy.
//
// Alloc panics with *FatalError when the slab layer cannot get a page.
func (a *Allocator) Alloc(size int) []byte {
	return a.alloc(nil, size, false)
}

// AllocZeroed is Alloc with the first size bytes set to zero.
func (a *Allocator) AllocZeroed(size int) []byte {
	return a.alloc(nil, size, true)
}

// Copy allocates len(src) bytes and copies src into them.
func (a *Allocator) Copy(src []byte) []byte {
	return a.copy(nil, src)
}

// Free returns a chunk obtained from Alloc with the same size. Freeing a
// nil chunk does nothing.
func (a *Allocator) Free(size int, chunk []byte) {
	a.free(nil, size, chunk)
}

// FreeChain frees a list of chunks of one size that are linked through their
// own memory. next returns the successor of a chunk (nil at the end) and is
// called before that chunk is freed.
func (a *Allocator) FreeChain(size int, head []byte, next func([]byte) []byte) {
	a.freeChain(nil, size, head, next)
}

func isNil(chunk []byte) bool {
	return unsafe.SliceData(chunk) == nil
}

func addrOf(chunk []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(chunk)))
}

// whole widens a chunk to the full chunk size of class ix.
func whole(chunk []byte, ix int) []byte {
	return unsafe.Slice(unsafe.SliceData(chunk), classChunkSize(ix))
}

func (a *Allocator) alloc(t *Thread, size int, zero bool) []byte {
	if size <= 0 {
		return nil
	}
	a.start()

	r, ix := a.routeOf(size)
	var chunk []byte
	switch r {
	case routeMagazine:
		if t == nil {
			pt := a.acquireThread()
			chunk = pt.t.allocChunk(ix)
			a.releaseThread(pt)
		} else {
			chunk = t.allocChunk(ix)
		}
	case routeSlab:
		chunk = a.slabs.alloc(ix)
	default:
		var err error
		chunk, err = a.sys.alloc(size, zero)
		if err != nil {
			a.log.Warn("system allocation failed", "size", size, "err", err)
			return nil
		}
	}

	chunk = chunk[:size]
	if zero && r != routeSystem {
		clear(chunk)
	}
	if a.reg != nil {
		a.reg.NotifyAlloc(addrOf(chunk), size)
	}
	return chunk
}

func (a *Allocator) copy(t *Thread, src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := a.alloc(t, len(src), false)
	copy(dst, src)
	return dst
}

// checkFree validates a free against the debug registry.
func (a *Allocator) checkFree(chunk []byte, size int) {
	if a.reg == nil {
		return
	}
	if err := a.reg.NotifyFree(addrOf(chunk), size); err != nil {
		panic(fatal(a.log, "free", err))
	}
}

// scrub zeroes a chunk on free when GCFriendly is set.
func (a *Allocator) scrub(chunk []byte) {
	if a.cfg.GCFriendly {
		clear(chunk)
	}
}

func (a *Allocator) free(t *Thread, size int, chunk []byte) {
	if isNil(chunk) {
		return
	}
	a.start()
	a.checkFree(chunk, size)

	r, ix := a.routeOf(size)
	switch r {
	case routeMagazine:
		c := whole(chunk, ix)
		a.scrub(c)
		if t == nil {
			pt := a.acquireThread()
			pt.t.freeChunk(ix, c)
			a.releaseThread(pt)
		} else {
			t.freeChunk(ix, c)
		}
	case routeSlab:
		c := whole(chunk, ix)
		a.scrub(c)
		a.slabs.free(ix, c)
	default:
		a.scrub(chunk[:cap(chunk)])
		if err := a.sys.free(chunk); err != nil {
			panic(fatal(a.log, "system free", err))
		}
	}
}

func (a *Allocator) freeChain(t *Thread, size int, head []byte, next func([]byte) []byte) {
	if isNil(head) {
		return
	}
	a.start()

	r, ix := a.routeOf(size)
	switch r {
	case routeMagazine:
		if t == nil {
			pt := a.acquireThread()
			defer a.releaseThread(pt)
			t = pt.t
		}
		for c := head; !isNil(c); {
			n := next(c)
			a.checkFree(c, size)
			w := whole(c, ix)
			a.scrub(w)
			t.freeChunk(ix, w)
			c = n
		}
	case routeSlab:
		a.slabs.mu.Lock()
		defer a.slabs.mu.Unlock()
		for c := head; !isNil(c); {
			n := next(c)
			a.checkFree(c, size)
			w := whole(c, ix)
			a.scrub(w)
			a.slabs.freeChunkLocked(ix, w)
			c = n
		}
	default:
		for c := head; !isNil(c); {
			n := next(c)
			a.checkFree(c, size)
			a.scrub(c[:cap(c)])
			if err := a.sys.free(c); err != nil {
				panic(fatal(a.log, "system free", err))
			}
			c = n
		}
	}
}

// Close releases the system allocator's memory. Chunks still held by callers
// become invalid. Slab pages stay with the page provider.
func (a *Allocator) Close() error {
	if !a.started.Load() {
		return nil
	}
	a.start()
	return a.sys.close()
}

// NumClasses is the number of slab size classes.
func (a *Allocator) NumClasses() int {
	return a.geo.numClasses
}

// ChunkSizes lists the chunk size of every class, smallest first.
func (a *Allocator) ChunkSizes() []int {
	sizes := make([]int, a.geo.numClasses)
	for ix := range sizes {
		sizes[ix] = classChunkSize(ix)
	}
	return sizes
}

// MaxSlabChunk is the largest chunk size served by the slab layer.
func (a *Allocator) MaxSlabChunk() int {
	return a.geo.maxSlabChunk
}

// ClassOf returns the class serving a request of size bytes, or false when
// the request is too large for the slab layer.
func (a *Allocator) ClassOf(size int) (int, bool) {
	chunk, ok := buf.AlignUp(size, Align)
	if !ok || size <= 0 || chunk > a.geo.maxSlabChunk {
		return 0, false
	}
	return classIndex(chunk), true
}

// ContentionCounter reports the lock contention counter of class ix.
func (a *Allocator) ContentionCounter(ix int) int {
	if ix < 0 || ix >= a.geo.numClasses || !a.started.Load() {
		return 0
	}
	a.start()
	return int(a.cache.contention[ix].Load())
}

// MagazineThreshold reports the current magazine size of class ix.
func (a *Allocator) MagazineThreshold(ix int) int {
	if ix < 0 || ix >= a.geo.numClasses {
		return 0
	}
	return magazineThreshold(classChunkSize(ix), a.geo.maxPageSize, a.ContentionCounter(ix))
}
