// Package pages provides the page layer beneath the slab allocator: sources of
// aligned memory blocks and the fallback chain that combines them.
//
// # Providers
//
//   - Mmap: anonymous mappings from the OS (linux and darwin). Page granular;
//     alignments above the OS page size are met by over-mapping.
//   - Heap: aligned blocks carved from the Go heap. Works for any power-of-two
//     size, including blocks smaller than an OS page.
//   - Bump: allocate-only carving of oversized raw blocks. Released blocks are
//     stashed for reuse and never handed back to the runtime.
//
// Chain tries providers in order of preference and remembers which provider
// produced each block so Release reaches the right one. Limit and Counted wrap
// any provider with a byte budget or call counters.
//
// # Requests
//
// Every request names an alignment and a size, both powers of two with
// size >= alignment. A block is returned with len == cap == size.
//
// # Thread Safety
//
// All providers in this package are safe for concurrent use.
package pages
