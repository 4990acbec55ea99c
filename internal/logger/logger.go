// Package logger holds the process-wide structured logger used by slabkit.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// L is the global logger instance. It's initialized to discard all output by default.
// Call Init() to enable logging.
var L *slog.Logger = slog.New(slog.DiscardHandler)

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Writer  io.Writer  // Destination. Default: os.Stderr
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	JSON    bool       // Emit JSON records instead of key=value text
}

// Init configures logging. Call from main() before any allocator is created.
// If opts.Enabled is false, all log output is discarded.
func Init(opts Options) {
	if !opts.Enabled {
		L = slog.New(slog.DiscardHandler)
		return
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level := opts.Level
	if level == 0 {
		level = slog.LevelInfo
	}

	hopts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		L = slog.New(slog.NewJSONHandler(w, hopts))
		return
	}
	L = slog.New(slog.NewTextHandler(w, hopts))
}
