package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/alloc"
)

var (
	stressWorkers int
	stressOps     int
	stressMin     int
	stressMax     int
	stressHold    int
	stressSeed    int64
	stressShared  bool
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressWorkers, "goroutines", 8, "Concurrent workers")
	cmd.Flags().IntVar(&stressOps, "ops", 100_000, "Operations per worker")
	cmd.Flags().IntVar(&stressMin, "min", 1, "Smallest request size in bytes")
	cmd.Flags().IntVar(&stressMax, "max", 512, "Largest request size in bytes")
	cmd.Flags().IntVar(&stressHold, "hold", 64, "Chunks each worker keeps live at most")
	cmd.Flags().Int64Var(&stressSeed, "seed", 1, "Random seed")
	cmd.Flags().BoolVar(&stressShared, "shared", false, "Use the allocator's pooled Threads instead of one Thread per worker")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run a random allocation workload",
		Long: `The stress command runs workers that allocate and free random sizes, checks
every chunk for corruption before it is freed, and reports throughput and
allocator statistics.

Example:
  slabctl stress
  slabctl stress --goroutines 32 --ops 1000000 --max 4096
  slabctl stress --config debug-blocks --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
}

// stressReport is the result of one workload.
type stressReport struct {
	Workers    int           `json:"workers"`
	Ops        int           `json:"ops"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	OpsPerSec  float64       `json:"ops_per_sec"`
	Corrupted  int           `json:"corrupted"`
	PeakStats  alloc.Stats   `json:"peak"`
	FinalStats alloc.Stats   `json:"final"`
}

type liveChunk struct {
	size  int
	chunk []byte
	tag   byte
}

func runStress() error {
	if stressWorkers < 1 || stressOps < 1 || stressHold < 1 {
		return fmt.Errorf("--goroutines, --ops and --hold must be positive")
	}
	if stressMin < 1 || stressMax < stressMin {
		return fmt.Errorf("need 1 <= --min <= --max, got %d and %d", stressMin, stressMax)
	}

	a, err := newAllocator()
	if err != nil {
		return fmt.Errorf("failed to create allocator: %w", err)
	}
	defer a.Close()

	printVerbose("Running %d workers x %d ops, sizes %d..%d\n", stressWorkers, stressOps, stressMin, stressMax)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		corrupted int
		ready     sync.WaitGroup
		release   = make(chan struct{})
	)
	ready.Add(stressWorkers)
	start := time.Now()
	for w := range stressWorkers {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			bad := stressWorker(a, seed, &ready, release)
			mu.Lock()
			corrupted += bad
			mu.Unlock()
		}(stressSeed + int64(w))
	}

	// Every worker parks holding its live set, so this is the high-water mark.
	ready.Wait()
	peak := a.Stats()
	close(release)
	wg.Wait()
	elapsed := time.Since(start)

	total := stressWorkers * stressOps
	report := stressReport{
		Workers:    stressWorkers,
		Ops:        total,
		Elapsed:    elapsed,
		OpsPerSec:  float64(total) / elapsed.Seconds(),
		Corrupted:  corrupted,
		PeakStats:  peak,
		FinalStats: a.Stats(),
	}

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printStressReport(report)
	}
	if corrupted > 0 {
		return fmt.Errorf("%d chunks were corrupted while held", corrupted)
	}
	return nil
}

// stressWorker runs half its operations, waits on release while holding its
// live chunks, then runs the rest and frees everything.
func stressWorker(a *alloc.Allocator, seed int64, ready *sync.WaitGroup, release <-chan struct{}) int {
	rng := rand.New(rand.NewSource(seed))

	allocFn, freeFn := a.Alloc, a.Free
	if !stressShared {
		th := a.NewThread()
		defer th.Close()
		allocFn, freeFn = th.Alloc, th.Free
	}

	live := make([]liveChunk, 0, stressHold)
	bad := 0
	step := func() {
		if len(live) == stressHold || (len(live) > 0 && rng.Intn(2) == 0) {
			i := rng.Intn(len(live))
			c := live[i]
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
			for _, b := range c.chunk {
				if b != c.tag {
					bad++
					break
				}
			}
			freeFn(c.size, c.chunk)
			return
		}
		size := stressMin + rng.Intn(stressMax-stressMin+1)
		tag := byte(rng.Intn(256))
		chunk := allocFn(size)
		for i := range chunk {
			chunk[i] = tag
		}
		live = append(live, liveChunk{size: size, chunk: chunk, tag: tag})
	}

	half := stressOps / 2
	for range half {
		step()
	}
	ready.Done()
	<-release
	for range stressOps - half {
		step()
	}
	for _, c := range live {
		freeFn(c.size, c.chunk)
	}
	return bad
}

func printStressReport(r stressReport) {
	printInfo("\nStress Results:\n")
	printInfo("  Workers:     %d\n", r.Workers)
	printInfo("  Operations:  %s\n", humanize.Comma(int64(r.Ops)))
	printInfo("  Elapsed:     %s\n", r.Elapsed.Round(time.Millisecond))
	printInfo("  Throughput:  %s ops/s\n", humanize.Comma(int64(r.OpsPerSec)))
	printInfo("  Corrupted:   %d\n", r.Corrupted)

	p := r.PeakStats
	printInfo("\nAt peak:\n")
	printInfo("  Page provider:  %s\n", p.Pages.Provider)
	printInfo("  Slab memory:    %s in %d pages\n", humanize.IBytes(uint64(p.Pages.LiveBytes)), p.Pages.Allocs-p.Pages.Releases)
	printInfo("  System memory:  %s in %d chunks\n", humanize.IBytes(uint64(p.SystemBytes)), p.SystemChunks)
	printInfo("  Threads:        %d\n", p.Threads)

	if len(p.Classes) > 0 {
		printInfo("\n%6s  %6s  %8s  %8s  %9s  %10s  %9s\n",
			"CHUNK", "SLABS", "IN-USE", "CACHED", "MAGAZINES", "CONTENTION", "THRESHOLD")
		for _, c := range p.Classes {
			printInfo("%6d  %6d  %8d  %8d  %9d  %10d  %9d\n",
				c.ChunkSize, c.Slabs, c.ChunksInUse, c.CachedChunks, c.Magazines, c.ContentionCounter, c.MagazineThreshold)
		}
	}

	f := r.FinalStats
	printInfo("\nAfter run: %s of slab pages live, %d system chunks\n",
		humanize.IBytes(uint64(f.Pages.LiveBytes)), f.SystemChunks)
	if f.Debug != nil {
		printInfo("Debug registry: %d live entries\n", f.Debug.Entries)
	}
}
