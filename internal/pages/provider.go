package pages

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/joshuapare/slabkit/internal/buf"
)

// Provider hands out aligned memory blocks.
type Provider interface {
	// Alloc returns a block of size bytes whose first byte is aligned to align.
	// Both arguments are powers of two and size >= align.
	Alloc(align, size int) ([]byte, error)

	// Release gives a block obtained from Alloc back to the provider.
	Release(block []byte) error

	// Name identifies the provider in logs and stats.
	Name() string
}

// Source names accepted by ByName.
const (
	SourceAuto = "auto"
	SourceMmap = "mmap"
	SourceHeap = "heap"
	SourceBump = "bump"
)

// defaultBumpBlocks is how many aligned blocks one raw bump block is carved into.
const defaultBumpBlocks = 16

// Default returns the preferred provider chain for this platform.
func Default() Provider {
	if m, ok := newPlatformMmap(); ok {
		return Chain(m, Heap{}, NewBump(defaultBumpBlocks))
	}
	return Chain(Heap{}, NewBump(defaultBumpBlocks))
}

// ByName returns the provider selected by a configuration string.
func ByName(name string) (Provider, error) {
	switch name {
	case "", SourceAuto:
		return Default(), nil
	case SourceHeap:
		return Heap{}, nil
	case SourceBump:
		return NewBump(defaultBumpBlocks), nil
	case SourceMmap:
		m, ok := newPlatformMmap()
		if !ok {
			return nil, fmt.Errorf("%w: mmap is not available on this platform", ErrUnknownSource)
		}
		// Sub-page slabs still need a home.
		return Chain(m, Heap{}), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

func checkRequest(align, size int) error {
	if !buf.IsPow2(align) || !buf.IsPow2(size) || size < align {
		return fmt.Errorf("%w (align=%d size=%d)", ErrBadRequest, align, size)
	}
	return nil
}

// addrOf returns the address of the first byte of b's backing array.
func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// alignedWithin returns the sub-slice of raw that starts on an align boundary and
// spans size bytes, or false when raw is too short.
func alignedWithin(raw []byte, align, size int) ([]byte, bool) {
	off := int(-addrOf(raw) & uintptr(align-1))
	if off+size > len(raw) {
		return nil, false
	}
	return raw[off : off+size : off+size], true
}

// Heap carves aligned blocks out of the Go heap. Release drops the block and
// leaves reclamation to the garbage collector.
type Heap struct{}

// Alloc implements Provider.
func (Heap) Alloc(align, size int) ([]byte, error) {
	if err := checkRequest(align, size); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	if addrOf(b)&uintptr(align-1) == 0 {
		return b, nil
	}
	// Power-of-two objects are usually naturally aligned; over-allocate when not.
	block, _ := alignedWithin(make([]byte, size+align), align, size)
	return block, nil
}

// Release implements Provider.
func (Heap) Release(block []byte) error {
	if len(block) == 0 {
		return ErrUnknownBlock
	}
	return nil
}

// Name implements Provider.
func (Heap) Name() string { return SourceHeap }

// chain tries each provider in order.
type chain struct {
	providers []Provider

	mu     sync.Mutex
	owners map[uintptr]Provider
}

// Chain returns a provider that tries each of ps in order of preference.
func Chain(ps ...Provider) Provider {
	return &chain{providers: ps, owners: make(map[uintptr]Provider)}
}

// Alloc implements Provider.
func (c *chain) Alloc(align, size int) ([]byte, error) {
	if err := checkRequest(align, size); err != nil {
		return nil, err
	}
	var errs []error
	for _, p := range c.providers {
		block, err := p.Alloc(align, size)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		c.mu.Lock()
		c.owners[addrOf(block)] = p
		c.mu.Unlock()
		return block, nil
	}
	if len(errs) == 0 {
		return nil, ErrExhausted
	}
	return nil, errors.Join(errs...)
}

// Release implements Provider.
func (c *chain) Release(block []byte) error {
	addr := addrOf(block)
	c.mu.Lock()
	p, ok := c.owners[addr]
	delete(c.owners, addr)
	c.mu.Unlock()
	if !ok {
		return ErrUnknownBlock
	}
	return p.Release(block)
}

// Name implements Provider.
func (c *chain) Name() string {
	name := "chain("
	for i, p := range c.providers {
		if i > 0 {
			name += ","
		}
		name += p.Name()
	}
	return name + ")"
}
