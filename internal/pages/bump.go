package pages

import (
	"fmt"
	"sync"

	"github.com/joshuapare/slabkit/internal/buf"
)

// Bump is an allocate-only provider. It takes one oversized raw block from the
// Go heap at a time, carves it into aligned blocks of the requested size and
// hands those out. Released blocks return to a per-size stash; the raw blocks
// themselves are never given back.
type Bump struct {
	blocks int // aligned blocks carved from each raw block

	mu    sync.Mutex
	stash map[int][][]byte
	raw   [][]byte
	bytes int64
}

// NewBump returns a bump provider that carves raw blocks of n aligned blocks each.
func NewBump(n int) *Bump {
	if n < 2 {
		n = 2
	}
	return &Bump{blocks: n, stash: make(map[int][][]byte)}
}

// Alloc implements Provider.
func (b *Bump) Alloc(align, size int) ([]byte, error) {
	if err := checkRequest(align, size); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if free := b.stash[size]; len(free) == 0 {
		if err := b.refill(size); err != nil {
			return nil, err
		}
	}
	free := b.stash[size]
	block := free[len(free)-1]
	free[len(free)-1] = nil
	b.stash[size] = free[:len(free)-1]
	return block, nil
}

// refill carves a new raw block into blocks of size bytes, each aligned to its
// own size so a stashed block satisfies any alignment a later request may ask for.
func (b *Bump) refill(size int) error {
	total, ok := buf.MulOverflowSafe(b.blocks, size)
	if !ok {
		return fmt.Errorf("%w: bump block of %d x %d bytes", ErrExhausted, b.blocks, size)
	}
	raw := make([]byte, total)
	off := int(-addrOf(raw) & uintptr(size-1))
	n := b.blocks
	if off != 0 {
		// The leading slack costs one block.
		n--
	}
	for i := n - 1; i >= 0; i-- {
		lo := off + i*size
		b.stash[size] = append(b.stash[size], raw[lo:lo+size:lo+size])
	}
	b.raw = append(b.raw, raw)
	b.bytes += int64(total)
	return nil
}

// Release implements Provider. The block is stashed for reuse.
func (b *Bump) Release(block []byte) error {
	if len(block) == 0 {
		return ErrUnknownBlock
	}
	b.mu.Lock()
	b.stash[len(block)] = append(b.stash[len(block)], block)
	b.mu.Unlock()
	return nil
}

// RawBytes reports how many bytes of raw blocks the provider holds.
func (b *Bump) RawBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// Name implements Provider.
func (b *Bump) Name() string { return SourceBump }
