package alloc

import (
	"errors"
	"log/slog"

	"github.com/joshuapare/slabkit/internal/registry"
)

var (
	// ErrConfigFrozen indicates a configuration change after the first allocation.
	ErrConfigFrozen = errors.New("alloc: configuration is frozen after first allocation")

	// ErrInvalidConfig indicates a configuration value that cannot be used.
	ErrInvalidConfig = errors.New("alloc: invalid configuration")

	// ErrOutOfPages indicates the page provider could not supply a slab page.
	ErrOutOfPages = errors.New("alloc: out of memory")

	// ErrForeignChunk indicates a chunk that does not belong to the slab it maps to.
	ErrForeignChunk = errors.New("alloc: chunk not owned by this allocator")

	// ErrUnknownAddress indicates a free of an address that is not live (debug blocks only).
	ErrUnknownAddress = registry.ErrUnknownAddress

	// ErrSizeMismatch indicates a free with a size other than the allocation size (debug blocks only).
	ErrSizeMismatch = registry.ErrSizeMismatch
)

// FatalError is the panic value for conditions the allocator cannot recover
// from: exhausted pages and detected heap corruption.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return "alloc: fatal: " + e.Op + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// fatal logs a fatal condition and returns the value to panic with.
func fatal(log *slog.Logger, op string, err error) *FatalError {
	log.Error("allocator cannot continue", "op", op, "err", err)
	return &FatalError{Op: op, Err: err}
}
