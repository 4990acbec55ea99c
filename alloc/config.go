package alloc

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	s "github.com/prataprc/gosettings"

	"github.com/joshuapare/slabkit/internal/buf"
	"github.com/joshuapare/slabkit/internal/logger"
	"github.com/joshuapare/slabkit/internal/pages"
)

// ConfigEnvVar names the environment variable read by ConfigFromEnv.
const ConfigEnvVar = "SLABKIT_CONFIG"

// Setting identifies a runtime-tunable configuration key.
type Setting int

const (
	SettingAlwaysMalloc Setting = iota
	SettingBypassMagazines
	SettingWorkingSetMsecs
	SettingColorIncrement
	SettingDebugBlocks
	SettingGCFriendly

	// Read-only keys, answered by ConfigState.
	SettingChunkSizes
	SettingContentionCounter
)

var settingNames = [...]string{
	SettingAlwaysMalloc:      "always-malloc",
	SettingBypassMagazines:   "bypass-magazines",
	SettingWorkingSetMsecs:   "working-set",
	SettingColorIncrement:    "color-increment",
	SettingDebugBlocks:       "debug-blocks",
	SettingGCFriendly:        "gc-friendly",
	SettingChunkSizes:        "chunk-sizes",
	SettingContentionCounter: "contention-counter",
}

func (k Setting) String() string {
	if k >= 0 && int(k) < len(settingNames) {
		return settingNames[k]
	}
	return "setting(" + strconv.Itoa(int(k)) + ")"
}

func (k Setting) isBool() bool {
	switch k {
	case SettingAlwaysMalloc, SettingBypassMagazines, SettingDebugBlocks, SettingGCFriendly:
		return true
	}
	return false
}

// Clock supplies wall time for magazine stamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config controls allocator behavior. Start from DefaultConfig; zero values of
// WorkingSet and ColorIncrement are meaningful (no caching window, no
// colorization).
type Config struct {
	// AlwaysMalloc sends every request to the system allocator.
	AlwaysMalloc bool
	// BypassMagazines serves slab-sized requests straight from the slab layer.
	BypassMagazines bool
	// DebugBlocks checks every Free against a registry of live allocations.
	DebugBlocks bool
	// GCFriendly zeroes chunks as they are freed so stale pointers do not
	// outlive the chunk.
	GCFriendly bool

	// WorkingSet is how long a cached magazine may stay idle before it is
	// returned to the slab layer.
	WorkingSet time.Duration
	// ColorIncrement advances the slab color per new slab.
	ColorIncrement int

	// MagazineCeiling is the largest chunk size served through magazines.
	// Zero means every slab-sized chunk.
	MagazineCeiling int
	// PageSource selects the page provider: auto, mmap, heap or bump.
	PageSource string
	// MaxPageSize is the largest slab page. Zero means the OS page size.
	MaxPageSize int
	// Pages overrides PageSource when set.
	Pages pages.Provider

	Clock  Clock
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		WorkingSet:     15 * time.Second,
		ColorIncrement: 1,
		PageSource:     pages.SourceAuto,
	}
}

// withDefaults fills the fields whose zero value means "pick for me".
func (c Config) withDefaults() Config {
	if c.PageSource == "" {
		c.PageSource = pages.SourceAuto
	}
	if c.MaxPageSize == 0 {
		c.MaxPageSize = pages.SystemPageSize()
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	if c.Logger == nil {
		c.Logger = logger.L
	}
	return c
}

func (c Config) validate() error {
	switch {
	case !buf.IsPow2(c.MaxPageSize) || c.MaxPageSize < 1024 || c.MaxPageSize > 1<<20:
		return fmt.Errorf("%w: max page size %d is not a power of two in [1KiB, 1MiB]", ErrInvalidConfig, c.MaxPageSize)
	case c.WorkingSet < 0:
		return fmt.Errorf("%w: negative working set %s", ErrInvalidConfig, c.WorkingSet)
	case c.ColorIncrement < 0:
		return fmt.Errorf("%w: negative color increment %d", ErrInvalidConfig, c.ColorIncrement)
	case c.MagazineCeiling < 0:
		return fmt.Errorf("%w: negative magazine ceiling %d", ErrInvalidConfig, c.MagazineCeiling)
	}
	if c.Pages == nil {
		if _, err := pages.ByName(c.PageSource); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// String renders the configuration in the form ParseConfig accepts.
func (c Config) String() string {
	var parts []string
	flag := func(on bool, name string) {
		if on {
			parts = append(parts, name)
		}
	}
	flag(c.AlwaysMalloc, "always-malloc")
	flag(c.BypassMagazines, "bypass-magazines")
	flag(c.DebugBlocks, "debug-blocks")
	flag(c.GCFriendly, "gc-friendly")
	parts = append(parts,
		"working-set="+c.WorkingSet.String(),
		"color-increment="+strconv.Itoa(c.ColorIncrement),
	)
	if c.MagazineCeiling > 0 {
		parts = append(parts, "magazine-ceiling="+strconv.Itoa(c.MagazineCeiling))
	}
	if c.PageSource != "" {
		parts = append(parts, "pages="+c.PageSource)
	}
	return strings.Join(parts, ",")
}

// ParseConfig applies a comma or space separated option list to base.
//
//	always-malloc | bypass-magazines | debug-blocks | gc-friendly
//	all                      always-malloc and debug-blocks
//	working-set=<dur|ms>     e.g. working-set=5s or working-set=5000
//	color-increment=<n>
//	magazine-ceiling=<bytes>
//	pages=auto|mmap|heap|bump
func ParseConfig(opts string, base Config) (Config, error) {
	known := base.Settings()
	setts := make(s.Settings)
	fields := strings.FieldsFunc(opts, func(r rune) bool {
		return r == ',' || r == ' ' || r == ':' || r == ';'
	})
	for _, f := range fields {
		key, val, hasVal := strings.Cut(f, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "all" {
			setts["always-malloc"] = true
			setts["debug-blocks"] = true
			continue
		}

		switch def, ok := known[key]; {
		case !ok:
			return base, fmt.Errorf("%w: unknown option %q", ErrInvalidConfig, key)
		case isBoolSetting(def):
			setts[key] = true
		case !hasVal || val == "":
			return base, fmt.Errorf("%w: option %q needs a value", ErrInvalidConfig, key)
		case key == "working-set":
			d, err := parseMillis(val)
			if err != nil {
				return base, fmt.Errorf("%w: working-set: %w", ErrInvalidConfig, err)
			}
			setts[key] = d.Milliseconds()
		case key == "pages":
			setts[key] = strings.ToLower(val)
		default:
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil || n < 0 {
				return base, fmt.Errorf("%w: %s=%q is not a non-negative integer", ErrInvalidConfig, key, val)
			}
			setts[key] = n
		}
	}
	return ConfigFromSettings(setts, base)
}

func isBoolSetting(v any) bool {
	_, ok := v.(bool)
	return ok
}

// parseMillis accepts a Go duration or a bare millisecond count.
func parseMillis(v string) (time.Duration, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return time.Duration(n) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative value %s", d)
	}
	return d, nil
}

// ConfigFromEnv returns DefaultConfig with the options in SLABKIT_CONFIG applied.
func ConfigFromEnv() (Config, error) {
	return ParseConfig(os.Getenv(ConfigEnvVar), DefaultConfig())
}

// DefaultSettings returns DefaultConfig as a settings map. Integers are
// int64.
//
// "always-malloc" (bool, default: false)
//		Send every request to the system allocator.
//
// "bypass-magazines" (bool, default: false)
//		Serve slab-sized requests straight from the slab layer.
//
// "debug-blocks" (bool, default: false)
//		Check every free against the registry of live allocations.
//
// "gc-friendly" (bool, default: false)
//		Zero chunks as they are freed.
//
// "working-set" (int64, default: 15000)
//		Milliseconds a cached magazine may stay idle.
//
// "color-increment" (int64, default: 1)
//		Bytes the slab color advances per new slab.
//
// "magazine-ceiling" (int64, default: 0)
//		Largest chunk served through magazines, 0 for every slab size.
//
// "pages" (string, default: "auto")
//		Page provider: auto, mmap, heap or bump.
func DefaultSettings() s.Settings {
	return DefaultConfig().Settings()
}

// Settings renders the tunable fields of c as a settings map.
func (c Config) Settings() s.Settings {
	return s.Settings{
		"always-malloc":    c.AlwaysMalloc,
		"bypass-magazines": c.BypassMagazines,
		"debug-blocks":     c.DebugBlocks,
		"gc-friendly":      c.GCFriendly,
		"working-set":      c.WorkingSet.Milliseconds(),
		"color-increment":  int64(c.ColorIncrement),
		"magazine-ceiling": int64(c.MagazineCeiling),
		"pages":            c.PageSource,
	}
}

// ConfigFromSettings applies setts over base. Keys missing from setts keep
// the value in base; unknown keys and negative numbers are rejected.
func ConfigFromSettings(setts s.Settings, base Config) (Config, error) {
	defaults := base.Settings()
	for key, val := range setts {
		def, ok := defaults[key]
		if !ok {
			return base, fmt.Errorf("%w: unknown setting %q", ErrInvalidConfig, key)
		}
		if want, got := fmt.Sprintf("%T", def), fmt.Sprintf("%T", val); want != got {
			return base, fmt.Errorf("%w: setting %q is %s, want %s", ErrInvalidConfig, key, got, want)
		}
	}
	setts = make(s.Settings).Mixin(defaults, setts)

	cfg := base
	cfg.AlwaysMalloc = setts.Bool("always-malloc")
	cfg.BypassMagazines = setts.Bool("bypass-magazines")
	cfg.DebugBlocks = setts.Bool("debug-blocks")
	cfg.GCFriendly = setts.Bool("gc-friendly")
	cfg.PageSource = setts.String("pages")

	for _, key := range []string{"working-set", "color-increment", "magazine-ceiling"} {
		if n := setts.Int64(key); n < 0 {
			return base, fmt.Errorf("%w: negative %s %d", ErrInvalidConfig, key, n)
		}
	}
	cfg.WorkingSet = time.Duration(setts.Int64("working-set")) * time.Millisecond
	cfg.ColorIncrement = int(setts.Int64("color-increment"))
	cfg.MagazineCeiling = int(setts.Int64("magazine-ceiling"))
	return cfg, nil
}

// SetConfig changes one setting. It fails with ErrConfigFrozen once the
// allocator has served its first request.
func (a *Allocator) SetConfig(key Setting, value int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started.Load() {
		a.log.Warn("configuration change ignored after first allocation", "setting", key.String(), "value", value)
		return fmt.Errorf("%w: %s", ErrConfigFrozen, key)
	}

	var v any = value
	switch {
	case key.isBool():
		v = value != 0
	case key == SettingWorkingSetMsecs:
	case key == SettingColorIncrement:
		if value > int64(a.geo.maxPageSize) {
			return fmt.Errorf("%w: %s=%d", ErrInvalidConfig, key, value)
		}
	default:
		return fmt.Errorf("%w: %s is read-only", ErrInvalidConfig, key)
	}

	cfg, err := ConfigFromSettings(s.Settings{key.String(): v}, a.cfg)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// GetConfig returns the current value of a setting. Booleans read as 0 or 1;
// the working set is in milliseconds. Read-only keys return 0; use
// ConfigState for them.
func (a *Allocator) GetConfig(key Setting) int64 {
	a.mu.Lock()
	setts := a.cfg.Settings()
	a.mu.Unlock()

	switch {
	case key.isBool():
		if setts.Bool(key.String()) {
			return 1
		}
		return 0
	case key == SettingWorkingSetMsecs, key == SettingColorIncrement:
		return setts.Int64(key.String())
	}
	return 0
}

// ConfigState answers the read-only keys. SettingChunkSizes returns every
// class chunk size (address is ignored); SettingContentionCounter returns the
// counter of the class that serves a request of address bytes. Other keys and
// sizes outside the slab range return nil.
func (a *Allocator) ConfigState(key Setting, address int) []int64 {
	switch key {
	case SettingChunkSizes:
		sizes := make([]int64, a.geo.numClasses)
		for ix := range sizes {
			sizes[ix] = int64(classChunkSize(ix))
		}
		return sizes
	case SettingContentionCounter:
		ix, ok := a.ClassOf(address)
		if !ok {
			return nil
		}
		return []int64{int64(a.ContentionCounter(ix))}
	}
	return nil
}
