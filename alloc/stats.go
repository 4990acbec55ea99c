package alloc

// ClassStats describes one size class.
type ClassStats struct {
	Class         int
	ChunkSize     int
	PageSize      int
	ChunksPerSlab int

	Slabs       int // live slab pages
	ChunksInUse int // chunks out of the slab layer, including cached ones

	Magazines      int   // magazines in the shared cache
	CachedChunks   int   // chunks in those magazines
	MagazinePops   int64 // magazines taken from the shared cache
	MagazinePushes int64 // magazines given to the shared cache

	ContentionCounter int
	MagazineThreshold int
}

// PageStats counts page provider traffic.
type PageStats struct {
	Provider  string
	Allocs    int64
	Failures  int64
	Releases  int64
	LiveBytes int64
}

// DebugStats describes the live-allocation registry.
type DebugStats struct {
	Entries   int
	Trunks    int
	Branches  int
	MaxBranch int
	AvgBranch float64
}

// Stats is a point-in-time snapshot of an allocator. Classes that never served
// a request are omitted.
type Stats struct {
	Classes []ClassStats
	Pages   PageStats
	Threads int // Threads currently holding magazines

	SystemChunks int
	SystemBytes  int64

	Debug *DebugStats // nil unless DebugBlocks is set
}

// Stats takes a snapshot. Each class is read under the layer locks, but the
// snapshot as a whole is not atomic.
func (a *Allocator) Stats() Stats {
	if !a.started.Load() {
		return Stats{}
	}
	a.start()

	var st Stats
	for ix := range a.geo.numClasses {
		sl := a.slabs.stats(ix)
		mg := a.cache.stats(ix)
		if sl.slabs == 0 && mg.pops == 0 && mg.pushes == 0 {
			continue
		}
		chunk := classChunkSize(ix)
		page := a.geo.pageSizes[ix]
		st.Classes = append(st.Classes, ClassStats{
			Class:             ix,
			ChunkSize:         chunk,
			PageSize:          page,
			ChunksPerSlab:     (page - slabHeaderSize) / chunk,
			Slabs:             sl.slabs,
			ChunksInUse:       sl.chunksInUse,
			Magazines:         mg.magazines,
			CachedChunks:      mg.chunks,
			MagazinePops:      mg.pops,
			MagazinePushes:    mg.pushes,
			ContentionCounter: a.ContentionCounter(ix),
			MagazineThreshold: a.MagazineThreshold(ix),
		})
	}

	c := a.pages.Counters()
	st.Pages = PageStats{
		Provider:  a.pages.Name(),
		Allocs:    c.Allocs,
		Failures:  c.Failures,
		Releases:  c.Releases,
		LiveBytes: c.LiveBytes,
	}

	a.threadsMu.Lock()
	st.Threads = len(a.threads)
	a.threadsMu.Unlock()

	st.SystemChunks, st.SystemBytes = a.sys.stats()

	if a.reg != nil {
		rs := a.reg.Stats()
		st.Debug = &DebugStats{
			Entries:   rs.Entries,
			Trunks:    rs.Trunks,
			Branches:  rs.Branches,
			MaxBranch: rs.MaxBranch,
			AvgBranch: rs.AvgBranch,
		}
	}
	return st
}

// ClassInfo is the static layout of one size class.
type ClassInfo struct {
	Class         int
	ChunkSize     int
	PageSize      int
	ChunksPerSlab int
	MagazineLimit int // magazine size at full contention
	MagazineBase  int // magazine size without contention
}

// Classes describes every size class.
func (a *Allocator) Classes() []ClassInfo {
	infos := make([]ClassInfo, a.geo.numClasses)
	for ix := range infos {
		chunk := classChunkSize(ix)
		page := a.geo.pageSizes[ix]
		infos[ix] = ClassInfo{
			Class:         ix,
			ChunkSize:     chunk,
			PageSize:      page,
			ChunksPerSlab: (page - slabHeaderSize) / chunk,
			MagazineLimit: magazineLimit(chunk),
			MagazineBase:  magazineThreshold(chunk, a.geo.maxPageSize, 0),
		}
	}
	return infos
}

// MaxPageSize is the largest slab page.
func (a *Allocator) MaxPageSize() int {
	return a.geo.maxPageSize
}

// Config returns a copy of the current configuration.
func (a *Allocator) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}
