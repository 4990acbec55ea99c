//go:build linux || darwin

package pages

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// SystemPageSize returns the OS page size.
func SystemPageSize() int {
	return unix.Getpagesize()
}

// Mmap maps anonymous memory from the OS. Requests smaller than an OS page are
// refused so that small slabs fall through to a finer-grained provider.
type Mmap struct {
	pageSize int

	mu       sync.Mutex
	mappings map[uintptr][]byte // aligned block address -> whole mapping
}

// NewMmap returns an mmap-backed provider.
func NewMmap() *Mmap {
	return &Mmap{pageSize: unix.Getpagesize(), mappings: make(map[uintptr][]byte)}
}

func newPlatformMmap() (Provider, bool) {
	return NewMmap(), true
}

// Alloc implements Provider.
func (m *Mmap) Alloc(align, size int) ([]byte, error) {
	if err := checkRequest(align, size); err != nil {
		return nil, err
	}
	if size < m.pageSize {
		return nil, fmt.Errorf("%w: %d bytes is below page granularity", ErrUnsupported, size)
	}

	length := size
	if align > m.pageSize {
		// Mappings are only page aligned; map enough slack to find an aligned start.
		length += align
	}
	mapping, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %w", ErrExhausted, length, err)
	}
	block, ok := alignedWithin(mapping, align, size)
	if !ok {
		_ = unix.Munmap(mapping)
		return nil, fmt.Errorf("%w: mapping of %d bytes cannot hold an aligned block", ErrUnsupported, length)
	}

	m.mu.Lock()
	m.mappings[addrOf(block)] = mapping
	m.mu.Unlock()
	return block, nil
}

// Release implements Provider.
func (m *Mmap) Release(block []byte) error {
	addr := addrOf(block)
	m.mu.Lock()
	mapping, ok := m.mappings[addr]
	delete(m.mappings, addr)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownBlock
	}
	return unix.Munmap(mapping)
}

// Name implements Provider.
func (m *Mmap) Name() string { return SourceMmap }
