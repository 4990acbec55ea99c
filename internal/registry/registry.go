// Package registry tracks live allocations for debug builds of the allocator.
//
// Entries live in a two-level sparse hash: a trunk index over coarse address
// ranges, each trunk holding a fixed number of branches, each branch a sorted
// array searched by binary search. Trunks are allocated on first touch, so an
// idle registry costs one slice header.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

const (
	trunkCount  = 4093 // prime, spreads trunk collisions
	branchCount = 511  // odd, spreads branch collisions
	trunkExtent = branchCount * 2039
)

var (
	// ErrUnknownAddress indicates a free of an address that is not live: never
	// allocated, or already freed.
	ErrUnknownAddress = errors.New("registry: free of unknown or already freed address")

	// ErrSizeMismatch indicates a free whose size differs from the allocation.
	ErrSizeMismatch = errors.New("registry: free size does not match allocation size")
)

type entry struct {
	addr uintptr
	size int
}

type trunk [branchCount][]entry

// Registry maps live addresses to their allocation size.
type Registry struct {
	mu     sync.Mutex
	trunks []*trunk
	n      int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

func locate(addr uintptr) (int, int) {
	return int((addr / trunkExtent) % trunkCount), int(addr % branchCount)
}

func search(branch []entry, addr uintptr) (int, bool) {
	return slices.BinarySearchFunc(branch, addr, func(e entry, a uintptr) int {
		switch {
		case e.addr < a:
			return -1
		case e.addr > a:
			return 1
		}
		return 0
	})
}

// Insert records addr with size, replacing any previous size for addr.
func (r *Registry) Insert(addr uintptr, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(addr, size)
}

func (r *Registry) insertLocked(addr uintptr, size int) {
	if r.trunks == nil {
		r.trunks = make([]*trunk, trunkCount)
	}
	i0, i1 := locate(addr)
	t := r.trunks[i0]
	if t == nil {
		t = new(trunk)
		r.trunks[i0] = t
	}
	idx, found := search(t[i1], addr)
	if found {
		t[i1][idx].size = size
		return
	}
	t[i1] = slices.Insert(t[i1], idx, entry{addr: addr, size: size})
	r.n++
}

// Lookup returns the recorded size for addr.
func (r *Registry) Lookup(addr uintptr) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(addr)
}

func (r *Registry) lookupLocked(addr uintptr) (int, bool) {
	if r.trunks == nil {
		return 0, false
	}
	i0, i1 := locate(addr)
	t := r.trunks[i0]
	if t == nil {
		return 0, false
	}
	idx, found := search(t[i1], addr)
	if !found {
		return 0, false
	}
	return t[i1][idx].size, true
}

// Remove deletes addr and reports whether it was present.
func (r *Registry) Remove(addr uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(addr)
}

func (r *Registry) removeLocked(addr uintptr) bool {
	if r.trunks == nil {
		return false
	}
	i0, i1 := locate(addr)
	t := r.trunks[i0]
	if t == nil {
		return false
	}
	idx, found := search(t[i1], addr)
	if !found {
		return false
	}
	t[i1] = slices.Delete(t[i1], idx, idx+1)
	r.n--
	return true
}

// NotifyAlloc records a fresh allocation.
func (r *Registry) NotifyAlloc(addr uintptr, size int) {
	if addr == 0 {
		return
	}
	r.Insert(addr, size)
}

// NotifyFree verifies and removes a live allocation. A zero address is
// accepted, matching the allocator's nil-free no-op.
func (r *Registry) NotifyFree(addr uintptr, size int) error {
	if addr == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	got, ok := r.lookupLocked(addr)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownAddress, addr)
	}
	if got != size {
		return fmt.Errorf("%w: %#x allocated with %d bytes, freed with %d", ErrSizeMismatch, addr, got, size)
	}
	r.removeLocked(addr)
	return nil
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Stats describes how entries are spread across the tree.
type Stats struct {
	Entries   int
	Trunks    int // trunks allocated
	Branches  int // non-empty branches
	MinBranch int // entries in the least populated non-empty branch
	MaxBranch int // entries in the most populated branch
	AvgBranch float64
}

// Stats walks the tree and reports its shape.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Entries: r.n}
	for _, t := range r.trunks {
		if t == nil {
			continue
		}
		s.Trunks++
		for _, b := range t {
			if len(b) == 0 {
				continue
			}
			s.Branches++
			if s.MinBranch == 0 || len(b) < s.MinBranch {
				s.MinBranch = len(b)
			}
			s.MaxBranch = max(s.MaxBranch, len(b))
		}
	}
	if s.Branches > 0 {
		s.AvgBranch = float64(s.Entries) / float64(s.Branches)
	}
	return s
}
