package alloc

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/joshuapare/slabkit/internal/buf"
	"github.com/joshuapare/slabkit/internal/pages"
)

// Slab page layout (page size P, chunk size C, color k):
//
//	0        k        k+C               k+nC          P-H      P
//	| color  | chunk0 | chunk1 | ...    | padding      | header |
//
// The header sits in the last H bytes of the page so that any chunk finds it
// by masking its address down to the page base:
//
//	0x00  u32  magic
//	0x04  u32  class index
//	0x08  u32  slab id (index into the class arena)
//
// A free chunk stores the page offset of the next free chunk in its first
// four bytes; endOfList terminates the list.
const (
	slabMagic = 0x534c4142 // "SLAB"
	endOfList = ^uint32(0)
	noSlab    = int32(-1)

	hdrMagicOff = 0x00
	hdrClassOff = 0x04
	hdrIDOff    = 0x08
)

// slab is the control record of one page.
type slab struct {
	page       []byte
	base       uintptr
	color      int
	nChunks    int
	nAllocated int
	free       uint32 // offset of the first free chunk
	next, prev int32  // ring links within the class
}

// slabClass is the arena and ring of one size class. Ring order keeps slabs
// with free chunks ahead of exhausted ones, so when head is exhausted every
// slab in the ring is.
type slabClass struct {
	slabs []slab
	spare []int32 // recycled arena slots
	head  int32
	live  int
}

func (c *slabClass) newID() int32 {
	if n := len(c.spare); n > 0 {
		id := c.spare[n-1]
		c.spare = c.spare[:n-1]
		return id
	}
	c.slabs = append(c.slabs, slab{})
	return int32(len(c.slabs) - 1)
}

// push links id in as the new ring head.
func (c *slabClass) push(id int32) {
	s := &c.slabs[id]
	if c.head == noSlab {
		s.next, s.prev = id, id
	} else {
		tail := c.slabs[c.head].prev
		s.next, s.prev = c.head, tail
		c.slabs[tail].next = id
		c.slabs[c.head].prev = id
	}
	c.head = id
}

func (c *slabClass) unlink(id int32) {
	s := &c.slabs[id]
	next, prev := s.next, s.prev
	c.slabs[next].prev = prev
	c.slabs[prev].next = next
	if c.head == id {
		if next == id {
			c.head = noSlab
		} else {
			c.head = next
		}
	}
	s.next, s.prev = noSlab, noSlab
}

// slabAllocator carves pages into fixed-size chunks. Every method suffixed
// Locked expects mu to be held.
type slabAllocator struct {
	mu sync.Mutex

	geo       *geometry
	pages     pages.Provider
	classes   []slabClass
	colorAccu int
	colorIncr int
	log       *slog.Logger
}

func newSlabAllocator(geo *geometry, p pages.Provider, colorIncr int, log *slog.Logger) *slabAllocator {
	sa := &slabAllocator{
		geo:       geo,
		pages:     p,
		classes:   make([]slabClass, geo.numClasses),
		colorIncr: colorIncr,
		log:       log,
	}
	for ix := range sa.classes {
		sa.classes[ix].head = noSlab
	}
	return sa
}

// alloc hands out one chunk of class ix.
func (sa *slabAllocator) alloc(ix int) []byte {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	return sa.allocChunkLocked(ix)
}

// allocBatch appends n chunks of class ix to dst.
func (sa *slabAllocator) allocBatch(ix, n int, dst [][]byte) [][]byte {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	for range n {
		dst = append(dst, sa.allocChunkLocked(ix))
	}
	return dst
}

func (sa *slabAllocator) free(ix int, chunk []byte) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.freeChunkLocked(ix, chunk)
}

// freeBatch returns chunks of class ix and clears their references from the
// slice.
func (sa *slabAllocator) freeBatch(ix int, chunks [][]byte) {
	if len(chunks) == 0 {
		return
	}
	sa.mu.Lock()
	defer sa.mu.Unlock()
	for i, c := range chunks {
		sa.freeChunkLocked(ix, c)
		chunks[i] = nil
	}
}

func (sa *slabAllocator) allocChunkLocked(ix int) []byte {
	c := &sa.classes[ix]
	if c.head == noSlab || c.slabs[c.head].free == endOfList {
		sa.addSlabLocked(ix)
	}

	s := &c.slabs[c.head]
	off := int(s.free)
	s.free = buf.U32LE(s.page[off:])
	s.nAllocated++
	if s.free == endOfList {
		c.head = s.next
	}

	size := classChunkSize(ix)
	return s.page[off : off+size : off+size]
}

func (sa *slabAllocator) addSlabLocked(ix int) {
	chunkSize := classChunkSize(ix)
	pageSize := sa.geo.pageSizes[ix]

	page, err := sa.pages.Alloc(pageSize, pageSize)
	if err != nil {
		panic(fatal(sa.log, "add slab",
			fmt.Errorf("%w: %d-byte page for class %d: %w", ErrOutOfPages, pageSize, ix, err)))
	}
	page = page[:pageSize:pageSize]

	usable := pageSize - slabHeaderSize
	n := usable / chunkSize
	color := 0
	if padding := usable - n*chunkSize; padding > 0 {
		color = (sa.colorAccu * Align) % padding
		sa.colorAccu += sa.colorIncr
	}

	for i := range n {
		off := color + i*chunkSize
		next := endOfList
		if i < n-1 {
			next = uint32(off + chunkSize)
		}
		buf.PutU32LE(page[off:], next)
	}

	c := &sa.classes[ix]
	id := c.newID()
	hdr := page[usable:]
	buf.PutU32LE(hdr[hdrMagicOff:], slabMagic)
	buf.PutU32LE(hdr[hdrClassOff:], uint32(ix))
	buf.PutU32LE(hdr[hdrIDOff:], uint32(id))

	c.slabs[id] = slab{
		page:    page,
		base:    uintptr(unsafe.Pointer(unsafe.SliceData(page))),
		color:   color,
		nChunks: n,
		free:    uint32(color),
	}
	c.push(id)
	c.live++

	sa.log.Debug("slab added", "class", ix, "chunk", chunkSize, "page", pageSize, "chunks", n, "color", color)
}

// ownerLocked finds the slab holding chunk and the chunk's page offset.
func (sa *slabAllocator) ownerLocked(ix int, chunk []byte) (int32, int) {
	pageSize := sa.geo.pageSizes[ix]
	p := unsafe.Pointer(unsafe.SliceData(chunk))
	addr := uintptr(p)
	off := int(addr & uintptr(pageSize-1))

	// The header lies in the same page as the chunk.
	hdr := unsafe.Slice((*byte)(unsafe.Add(p, pageSize-slabHeaderSize-off)), slabHeaderSize)
	if buf.U32LE(hdr[hdrMagicOff:]) != slabMagic || int(buf.U32LE(hdr[hdrClassOff:])) != ix {
		panic(fatal(sa.log, "free chunk", fmt.Errorf("%w: %#x has no class %d slab header", ErrForeignChunk, addr, ix)))
	}

	c := &sa.classes[ix]
	id := int32(buf.U32LE(hdr[hdrIDOff:]))
	if id < 0 || int(id) >= len(c.slabs) || c.slabs[id].base != addr-uintptr(off) {
		panic(fatal(sa.log, "free chunk", fmt.Errorf("%w: %#x names unknown slab %d", ErrForeignChunk, addr, id)))
	}

	s := &c.slabs[id]
	chunkSize := classChunkSize(ix)
	if off < s.color || (off-s.color)%chunkSize != 0 || off >= s.color+s.nChunks*chunkSize {
		panic(fatal(sa.log, "free chunk", fmt.Errorf("%w: %#x is not a chunk boundary", ErrForeignChunk, addr)))
	}
	return id, off
}

func (sa *slabAllocator) freeChunkLocked(ix int, chunk []byte) {
	c := &sa.classes[ix]
	id, off := sa.ownerLocked(ix, chunk)
	s := &c.slabs[id]
	if s.nAllocated == 0 {
		panic(fatal(sa.log, "free chunk", fmt.Errorf("%w: slab %d of class %d has no chunks out", ErrForeignChunk, id, ix)))
	}

	wasFull := s.free == endOfList
	buf.PutU32LE(s.page[off:], s.free)
	s.free = uint32(off)
	s.nAllocated--

	if wasFull {
		c.unlink(id)
		c.push(id)
	}
	if s.nAllocated == 0 {
		sa.releaseSlabLocked(ix, id)
	}
}

func (sa *slabAllocator) releaseSlabLocked(ix int, id int32) {
	c := &sa.classes[ix]
	c.unlink(id)
	page := c.slabs[id].page

	// Stale frees into a recycled page must not find a valid header.
	buf.PutU32LE(page[len(page)-slabHeaderSize+hdrMagicOff:], 0)

	c.slabs[id] = slab{next: noSlab, prev: noSlab}
	c.spare = append(c.spare, id)
	c.live--

	if err := sa.pages.Release(page); err != nil {
		sa.log.Warn("page release failed", "class", ix, "page", len(page), "err", err)
		return
	}
	sa.log.Debug("slab released", "class", ix, "page", len(page))
}

// slabClassStats is a locked snapshot of one class.
type slabClassStats struct {
	slabs       int
	chunksInUse int
}

func (sa *slabAllocator) stats(ix int) slabClassStats {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	c := &sa.classes[ix]
	st := slabClassStats{slabs: c.live}
	if c.head == noSlab {
		return st
	}
	id := c.head
	for {
		st.chunksInUse += c.slabs[id].nAllocated
		id = c.slabs[id].next
		if id == c.head {
			break
		}
	}
	return st
}
