package alloc

import (
	"strconv"

	"github.com/joshuapare/slabkit/internal/buf"
)

const (
	// Align is the chunk alignment: two native words.
	Align = 2 * strconv.IntSize / 8

	// MinMagazine is the smallest batch the magazine cache keeps. Smaller
	// batches go straight back to the slab layer.
	MinMagazine = 4

	// MaxMagazine bounds every magazine, whatever the contention.
	MaxMagazine = 256

	// slabHeaderSize is the trailing control header of every slab page.
	slabHeaderSize = 2 * Align

	// minPageSize is the smallest slab page handed to the page provider.
	minPageSize = 128

	// chunksPerSlab is how many chunks a slab page is sized for.
	chunksPerSlab = 8

	// magazineBytes is roughly what a full magazine may hold; it shrinks the
	// magazine bound as chunks get larger.
	magazineBytes = 16 << 10
)

// geometry holds the size-class layout derived from the largest page size.
type geometry struct {
	maxPageSize  int
	maxSlabChunk int // largest chunk the slab layer serves
	numClasses   int
	pageSizes    []int // slab page size per class
}

func newGeometry(maxPageSize int) geometry {
	g := geometry{
		maxPageSize:  maxPageSize,
		maxSlabChunk: buf.AlignDown((maxPageSize-slabHeaderSize)/chunksPerSlab, Align),
	}
	g.numClasses = g.maxSlabChunk / Align
	g.pageSizes = make([]int, g.numClasses)
	for ix := range g.pageSizes {
		g.pageSizes[ix] = slabPageSize(classChunkSize(ix))
	}
	return g
}

// classIndex maps an aligned chunk size to its class.
func classIndex(chunkSize int) int {
	return chunkSize/Align - 1
}

// classChunkSize maps a class back to its chunk size.
func classChunkSize(ix int) int {
	return (ix + 1) * Align
}

// slabPageSize is the page that holds chunksPerSlab chunks plus the header.
func slabPageSize(chunkSize int) int {
	return max(buf.NextPow2(slabHeaderSize+chunksPerSlab*chunkSize), minPageSize)
}

// magazineLimit is the per-class upper bound on magazine size.
func magazineLimit(chunkSize int) int {
	return min(max(magazineBytes/chunkSize, MinMagazine), MaxMagazine)
}

// magazineThreshold sizes a magazine for a class. The base size is inversely
// proportional to the chunk size; contention widens it.
func magazineThreshold(chunkSize, maxPageSize, contention int) int {
	t := max(MinMagazine, maxPageSize/max(5*chunkSize, 5*32))
	if contention > 0 {
		t = max(t, contention*64/chunkSize)
	}
	return min(t, magazineLimit(chunkSize))
}
