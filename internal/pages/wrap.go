package pages

import (
	"fmt"
	"sync/atomic"
)

// limited enforces a byte budget on another provider.
type limited struct {
	Provider
	max  int64
	used atomic.Int64
}

// Limit wraps p so that at most maxBytes are outstanding at once.
func Limit(p Provider, maxBytes int64) Provider {
	return &limited{Provider: p, max: maxBytes}
}

// Alloc implements Provider.
func (l *limited) Alloc(align, size int) ([]byte, error) {
	if l.used.Add(int64(size)) > l.max {
		l.used.Add(-int64(size))
		return nil, fmt.Errorf("%w: budget of %d bytes", ErrExhausted, l.max)
	}
	block, err := l.Provider.Alloc(align, size)
	if err != nil {
		l.used.Add(-int64(size))
		return nil, err
	}
	return block, nil
}

// Release implements Provider.
func (l *limited) Release(block []byte) error {
	if err := l.Provider.Release(block); err != nil {
		return err
	}
	l.used.Add(-int64(len(block)))
	return nil
}

// Name implements Provider.
func (l *limited) Name() string { return "limit(" + l.Provider.Name() + ")" }

// Counters is a snapshot of a Counted provider.
type Counters struct {
	Allocs    int64 // successful Alloc calls
	Failures  int64 // failed Alloc calls
	Releases  int64 // successful Release calls
	LiveBytes int64 // bytes handed out and not yet released
}

// Counted records calls made through it.
type Counted struct {
	p Provider

	allocs, failures, releases, live atomic.Int64
}

// NewCounted wraps p with call counters.
func NewCounted(p Provider) *Counted {
	return &Counted{p: p}
}

// Alloc implements Provider.
func (c *Counted) Alloc(align, size int) ([]byte, error) {
	block, err := c.p.Alloc(align, size)
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}
	c.allocs.Add(1)
	c.live.Add(int64(len(block)))
	return block, nil
}

// Release implements Provider.
func (c *Counted) Release(block []byte) error {
	if err := c.p.Release(block); err != nil {
		return err
	}
	c.releases.Add(1)
	c.live.Add(-int64(len(block)))
	return nil
}

// Name implements Provider.
func (c *Counted) Name() string { return c.p.Name() }

// Counters returns the current counter values.
func (c *Counted) Counters() Counters {
	return Counters{
		Allocs:    c.allocs.Load(),
		Failures:  c.failures.Load(),
		Releases:  c.releases.Load(),
		LiveBytes: c.live.Load(),
	}
}
