package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/alloc"
	"github.com/joshuapare/slabkit/internal/logger"
)

var (
	// Global flags
	verbose   bool
	quiet     bool
	jsonOut   bool
	logJSON   bool
	configStr string
)

var rootCmd = &cobra.Command{
	Use:   "slabctl",
	Short: "Inspect and exercise the slabkit chunk allocator",
	Long: `slabctl reports the size-class layout of the slabkit allocator, shows the
effective configuration, and runs allocation workloads against it.

Options from --config are applied on top of the SLABKIT_CONFIG environment
variable, for example:
  slabctl stress --config "debug-blocks,working-set=2s"`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger.Init(logger.Options{
			Enabled: !quiet,
			Writer:  os.Stderr,
			Level:   level,
			JSON:    logJSON,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and debug logs")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().
		StringVar(&configStr, "config", "", "Allocator options, applied after "+alloc.ConfigEnvVar)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds the allocator configuration from the environment and the
// --config flag.
func loadConfig() (alloc.Config, error) {
	cfg, err := alloc.ConfigFromEnv()
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", alloc.ConfigEnvVar, err)
	}
	cfg, err = alloc.ParseConfig(configStr, cfg)
	if err != nil {
		return cfg, fmt.Errorf("--config: %w", err)
	}
	cfg.Logger = logger.L
	return cfg, nil
}

// newAllocator returns an allocator for the loaded configuration.
func newAllocator() (*alloc.Allocator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return alloc.New(cfg)
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
