// Package alloc provides a size-classed chunk allocator with per-goroutine
// magazine caches.
//
// # Overview
//
// Requests are rounded up to the chunk alignment (two native words) and mapped
// to a size class. Each class has its own slab ring and its own magazine cache,
// so chunks of different classes never mix.
//
//	Alloc(size) -> route -> Thread magazine pair -> magazine cache -> slab ring -> page provider
//	Free(size)  -> route -> Thread magazine pair -> magazine cache -> slab ring -> page provider
//
// # Layers
//
//   - Page provider (internal/pages): aligned blocks from mmap, the Go heap or a
//     bump stash, tried in that order.
//   - Slab allocator: splits a page into roughly eight equal chunks, offsets the
//     first chunk by a rotating color, and gives the page back when its last
//     chunk is freed. Guarded by one slab lock.
//   - Magazine cache: batches ("magazines") of chunks per class, stamped when
//     cached and trimmed back to the slab layer once they fall out of the
//     working-set window. Guarded by one magazine lock.
//   - Thread: a front magazine for allocation and a back magazine for frees per
//     class. Swapping the two keeps steady-state traffic off both locks.
//
// # Routing
//
//	chunk <= MagazineCeiling           -> Thread magazines
//	chunk <= largest slab chunk         -> slab allocator directly
//	larger, or AlwaysMalloc configured  -> system allocator (modernc.org/memory)
//
// # Usage Example
//
//	a, err := alloc.New(alloc.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	buf := a.Alloc(48)   // len 48, cap 48 (one 48-byte chunk)
//	copy(buf, payload)
//	a.Free(48, buf)      // size must match the Alloc call
//
// Goroutines with heavy allocation traffic can own a Thread to skip the pool
// lookup on every call:
//
//	t := a.NewThread()
//	defer t.Close()
//	node := t.AllocZeroed(64)
//	t.Free(64, node)
//
// # Configuration
//
// Settings may be changed with SetConfig until the first allocation. After that
// the configuration is frozen and changes are rejected with ErrConfigFrozen.
// ConfigFromEnv reads the SLABKIT_CONFIG environment variable, for example
//
//	SLABKIT_CONFIG="debug-blocks,working-set=5s,pages=mmap"
//
// The same keys are available as a settings map, see DefaultSettings:
//
//	cfg, err := alloc.ConfigFromSettings(gosettings.Settings{
//		"debug-blocks": true,
//		"working-set":  int64(5000),
//	}, alloc.DefaultConfig())
//
// # Errors
//
// An allocator cannot make progress without pages, and a corrupted free list
// cannot be repaired, so both conditions panic with *FatalError. With
// DebugBlocks enabled every Free is checked against a registry of live
// allocations and a wrong size or an unknown address is fatal too. Without it
// such misuse is undefined.
//
// # Thread Safety
//
// Allocator methods are safe for concurrent use. A Thread belongs to a single
// goroutine at a time.
package alloc
