package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/alloc"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective allocator configuration",
		Long: `The config command resolves SLABKIT_CONFIG and --config and prints the
resulting settings.

Example:
  SLABKIT_CONFIG=debug-blocks slabctl config
  slabctl config --config "bypass-magazines,working-set=500"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig()
		},
	}
}

// configReport is the JSON shape of the config command.
type configReport struct {
	Options     string           `json:"options"`
	Settings    map[string]int64 `json:"settings"`
	PageSource  string           `json:"page_source"`
	MaxPageSize int              `json:"max_page_size"`
	Ceiling     int              `json:"magazine_ceiling"`
}

func runConfig() error {
	a, err := newAllocator()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config()
	report := configReport{
		Options:     cfg.String(),
		Settings:    make(map[string]int64),
		PageSource:  cfg.PageSource,
		MaxPageSize: cfg.MaxPageSize,
		Ceiling:     cfg.MagazineCeiling,
	}
	keys := []alloc.Setting{
		alloc.SettingAlwaysMalloc,
		alloc.SettingBypassMagazines,
		alloc.SettingWorkingSetMsecs,
		alloc.SettingColorIncrement,
		alloc.SettingDebugBlocks,
		alloc.SettingGCFriendly,
	}
	for _, k := range keys {
		report.Settings[k.String()] = a.GetConfig(k)
	}

	if jsonOut {
		return printJSON(report)
	}

	printInfo("Options: %s\n", report.Options)
	for _, k := range keys {
		printInfo("  %-18s %d\n", k.String(), report.Settings[k.String()])
	}
	printInfo("  %-18s %s\n", "page-source", report.PageSource)
	printInfo("  %-18s %d\n", "max-page-size", report.MaxPageSize)
	if report.Ceiling > 0 {
		printInfo("  %-18s %d\n", "magazine-ceiling", report.Ceiling)
	}
	printVerbose("\nChunk sizes: %v\n", a.ConfigState(alloc.SettingChunkSizes, 0))
	return nil
}
