package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newClassesCmd())
}

func newClassesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List the allocator size classes",
		Long: `The classes command prints every size class with its chunk size, slab page
size, chunks per slab and magazine sizes.

Example:
  slabctl classes
  slabctl classes --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClasses()
		},
	}
}

func runClasses() error {
	a, err := newAllocator()
	if err != nil {
		return fmt.Errorf("failed to create allocator: %w", err)
	}
	defer a.Close()

	classes := a.Classes()
	if jsonOut {
		return printJSON(classes)
	}

	printInfo("%d classes, max page %s, largest slab chunk %d bytes\n\n",
		len(classes), humanize.IBytes(uint64(a.MaxPageSize())), a.MaxSlabChunk())
	printInfo("%5s  %6s  %8s  %6s  %8s  %8s\n", "CLASS", "CHUNK", "PAGE", "CHUNKS", "MAG-BASE", "MAG-MAX")
	for _, c := range classes {
		printInfo("%5d  %6d  %8s  %6d  %8d  %8d\n",
			c.Class, c.ChunkSize, humanize.IBytes(uint64(c.PageSize)), c.ChunksPerSlab, c.MagazineBase, c.MagazineLimit)
	}
	return nil
}
