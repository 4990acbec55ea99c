package main

import (
	"fmt"
	"runtime"

	sigar "github.com/cloudfoundry/gosigar"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/internal/pages"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Report host memory and allocator geometry",
		Long: `The info command reports host memory and swap, the OS page size, the page
provider the configuration selects, and the resulting size-class geometry.

Example:
  slabctl info
  slabctl info --config pages=bump --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
}

// hostInfo is the JSON shape of the info command.
type hostInfo struct {
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	CPUs         int    `json:"cpus"`
	MemTotal     uint64 `json:"mem_total"`
	MemFree      uint64 `json:"mem_free"`
	MemActual    uint64 `json:"mem_actual_free"`
	SwapTotal    uint64 `json:"swap_total"`
	SwapFree     uint64 `json:"swap_free"`
	PageSize     int    `json:"os_page_size"`
	PageSource   string `json:"page_source"`
	Provider     string `json:"provider"`
	MaxPageSize  int    `json:"max_page_size"`
	Classes      int    `json:"classes"`
	MaxSlabChunk int    `json:"max_slab_chunk"`
}

func runInfo() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		return fmt.Errorf("failed to read host memory: %w", err)
	}
	swap := sigar.Swap{}
	if err := swap.Get(); err != nil {
		printVerbose("Warning: failed to read swap: %v\n", err)
	}

	provider, err := pages.ByName(cfg.PageSource)
	if err != nil {
		return err
	}

	a, err := newAllocator()
	if err != nil {
		return fmt.Errorf("failed to create allocator: %w", err)
	}
	defer a.Close()

	info := hostInfo{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		MemTotal:     mem.Total,
		MemFree:      mem.Free,
		MemActual:    mem.ActualFree,
		SwapTotal:    swap.Total,
		SwapFree:     swap.Free,
		PageSize:     pages.SystemPageSize(),
		PageSource:   cfg.PageSource,
		Provider:     provider.Name(),
		MaxPageSize:  a.MaxPageSize(),
		Classes:      a.NumClasses(),
		MaxSlabChunk: a.MaxSlabChunk(),
	}

	if jsonOut {
		return printJSON(info)
	}

	printInfo("\nHost:\n")
	printInfo("  Platform:     %s/%s, %d CPUs\n", info.OS, info.Arch, info.CPUs)
	printInfo("  Memory:       %s total, %s free (%s reclaimable)\n",
		humanize.IBytes(info.MemTotal), humanize.IBytes(info.MemFree), humanize.IBytes(info.MemActual))
	printInfo("  Swap:         %s total, %s free\n", humanize.IBytes(info.SwapTotal), humanize.IBytes(info.SwapFree))
	printInfo("  OS page size: %s\n", humanize.IBytes(uint64(info.PageSize)))

	printInfo("\nAllocator:\n")
	printInfo("  Page source:  %s (%s)\n", info.PageSource, info.Provider)
	printInfo("  Max page:     %s\n", humanize.IBytes(uint64(info.MaxPageSize)))
	printInfo("  Classes:      %d (largest slab chunk %d bytes)\n", info.Classes, info.MaxSlabChunk)
	return nil
}
