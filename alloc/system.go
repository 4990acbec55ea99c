package alloc

import (
	"sync"

	"modernc.org/memory"
)

// systemAllocator serves requests too large for the slab layer, and every
// request under AlwaysMalloc. memory.Allocator is not safe for concurrent use.
type systemAllocator struct {
	mu    sync.Mutex
	mem   memory.Allocator
	live  int
	bytes int64
}

func (s *systemAllocator) alloc(size int, zero bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		b   []byte
		err error
	)
	if zero {
		b, err = s.mem.Calloc(size)
	} else {
		b, err = s.mem.Malloc(size)
	}
	if err != nil {
		return nil, err
	}
	s.live++
	s.bytes += int64(cap(b))
	return b, nil
}

func (s *systemAllocator) free(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := cap(b)
	if err := s.mem.Free(b); err != nil {
		return err
	}
	s.live--
	s.bytes -= int64(n)
	return nil
}

func (s *systemAllocator) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live, s.bytes = 0, 0
	return s.mem.Close()
}

func (s *systemAllocator) stats() (live int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live, s.bytes
}
