//go:build !linux && !darwin

package pages

import "os"

// SystemPageSize returns the OS page size.
func SystemPageSize() int {
	return os.Getpagesize()
}

// newPlatformMmap reports that no mmap provider exists on this platform.
func newPlatformMmap() (Provider, bool) {
	return nil, false
}
