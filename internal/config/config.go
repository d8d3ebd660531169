// Package config loads codeflow.toml: run limits, snapshot bounds and
// output preferences shared by every command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"

	"github.com/geeth24/codeflow/internal/engine"
	"github.com/geeth24/codeflow/internal/host"
	"github.com/geeth24/codeflow/internal/record"
	"github.com/geeth24/codeflow/internal/snapshot"
)

// FileName is the name looked up by Find.
const FileName = "codeflow.toml"

// Duration is a time.Duration written as a Go duration string ("1500ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Limits   LimitsConfig   `toml:"limits"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Output   OutputConfig   `toml:"output"`
	Batch    BatchConfig    `toml:"batch"`

	// Path is the file the config was read from, empty for defaults.
	Path string `toml:"-"`
}

type LimitsConfig struct {
	Timeout       Duration `toml:"timeout"`
	Grace         Duration `toml:"grace"`
	MaxSteps      int64    `toml:"max_steps"`
	MaxStackDepth int64    `toml:"max_stack_depth"`
	MaxCallDepth  int64    `toml:"max_call_depth"`
	MaxOutput     int64    `toml:"max_output"`
	Seed          int64    `toml:"seed"`
	FrozenTime    string   `toml:"frozen_time"` // RFC 3339, empty for the real clock
}

type SnapshotConfig struct {
	MaxDepth  int64 `toml:"max_depth"`
	MaxWidth  int64 `toml:"max_width"`
	MaxString int64 `toml:"max_string"`
	MaxKey    int64 `toml:"max_key"`
	MaxFrames int64 `toml:"max_frames"`
}

type OutputConfig struct {
	Format string `toml:"format"`
	Color  string `toml:"color"` // auto|on|off
	Width  int64  `toml:"width"`
}

type BatchConfig struct {
	Jobs    int64  `toml:"jobs"` // 0 means one per CPU
	Pattern string `toml:"pattern"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	h := host.DefaultLimits()
	r := record.DefaultLimits()
	s := snapshot.DefaultLimits()
	return Config{
		Limits: LimitsConfig{
			Timeout:       Duration{h.Timeout},
			Grace:         Duration{h.Grace},
			MaxSteps:      int64(r.MaxSteps),
			MaxStackDepth: int64(r.MaxStackDepth),
			MaxCallDepth:  int64(h.MaxCallDepth),
			MaxOutput:     int64(h.MaxOutput),
		},
		Snapshot: SnapshotConfig{
			MaxDepth:  int64(s.MaxDepth),
			MaxWidth:  int64(s.MaxWidth),
			MaxString: int64(s.MaxString),
			MaxKey:    int64(s.MaxKey),
			MaxFrames: int64(s.MaxFrames),
		},
		Output: OutputConfig{Format: "text", Color: "auto", Width: 100},
		Batch:  BatchConfig{Pattern: "*.js"},
	}
}

// Find walks up from startDir looking for codeflow.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Discover loads explicit when it is set, otherwise the nearest
// codeflow.toml above startDir, otherwise the defaults.
func Discover(explicit, startDir string) (Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

var colorModes = []string{"auto", "on", "off"}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.Limits.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("[limits].timeout must be positive, got %s", c.Limits.Timeout))
	}
	if c.Limits.Grace.Duration < 0 {
		errs = append(errs, fmt.Errorf("[limits].grace must not be negative, got %s", c.Limits.Grace))
	}
	positive("[limits].max_steps", c.Limits.MaxSteps)
	positive("[limits].max_stack_depth", c.Limits.MaxStackDepth)
	positive("[limits].max_call_depth", c.Limits.MaxCallDepth)
	positive("[limits].max_output", c.Limits.MaxOutput)
	if c.Limits.Seed < 0 {
		errs = append(errs, fmt.Errorf("[limits].seed must not be negative, got %d", c.Limits.Seed))
	}
	if c.Limits.FrozenTime != "" {
		if _, err := time.Parse(time.RFC3339, c.Limits.FrozenTime); err != nil {
			errs = append(errs, fmt.Errorf("[limits].frozen_time: %w", err))
		}
	}
	positive("[snapshot].max_depth", c.Snapshot.MaxDepth)
	positive("[snapshot].max_width", c.Snapshot.MaxWidth)
	positive("[snapshot].max_string", c.Snapshot.MaxString)
	positive("[snapshot].max_key", c.Snapshot.MaxKey)
	positive("[snapshot].max_frames", c.Snapshot.MaxFrames)
	if !slices.Contains(colorModes, c.Output.Color) {
		errs = append(errs, fmt.Errorf("[output].color must be one of auto|on|off, got %q", c.Output.Color))
	}
	if c.Output.Width < 0 {
		errs = append(errs, fmt.Errorf("[output].width must not be negative, got %d", c.Output.Width))
	}
	if c.Batch.Jobs < 0 {
		errs = append(errs, fmt.Errorf("[batch].jobs must not be negative, got %d", c.Batch.Jobs))
	}
	if _, err := filepath.Match(c.Batch.Pattern, ""); err != nil {
		errs = append(errs, fmt.Errorf("[batch].pattern: %w", err))
	}
	return errors.Join(errs...)
}

// EngineOptions converts the limits into engine options.
func (c Config) EngineOptions() (engine.Options, error) {
	var opts engine.Options
	var err error
	conv := func(dst *int, v int64) {
		if err != nil {
			return
		}
		*dst, err = safecast.Conv[int](v)
	}
	conv(&opts.Record.MaxSteps, c.Limits.MaxSteps)
	conv(&opts.Record.MaxStackDepth, c.Limits.MaxStackDepth)
	conv(&opts.Host.MaxCallDepth, c.Limits.MaxCallDepth)
	conv(&opts.Host.MaxOutput, c.Limits.MaxOutput)
	conv(&opts.Snapshot.MaxDepth, c.Snapshot.MaxDepth)
	conv(&opts.Snapshot.MaxWidth, c.Snapshot.MaxWidth)
	conv(&opts.Snapshot.MaxString, c.Snapshot.MaxString)
	conv(&opts.Snapshot.MaxKey, c.Snapshot.MaxKey)
	conv(&opts.Snapshot.MaxFrames, c.Snapshot.MaxFrames)
	if err != nil {
		return engine.Options{}, fmt.Errorf("limit out of range: %w", err)
	}
	if opts.Host.Seed, err = safecast.Conv[uint64](c.Limits.Seed); err != nil {
		return engine.Options{}, fmt.Errorf("[limits].seed: %w", err)
	}
	opts.Host.Timeout = c.Limits.Timeout.Duration
	opts.Host.Grace = c.Limits.Grace.Duration
	if c.Limits.FrozenTime != "" {
		if opts.Host.FrozenTime, err = time.Parse(time.RFC3339, c.Limits.FrozenTime); err != nil {
			return engine.Options{}, fmt.Errorf("[limits].frozen_time: %w", err)
		}
	}
	return opts, nil
}

// Jobs returns the batch parallelism as an int.
func (c Config) Jobs() int {
	n, err := safecast.Conv[int](c.Batch.Jobs)
	if err != nil {
		return 0
	}
	return n
}

// Template is the file written by `codeflow init`.
const Template = `# codeflow configuration
# Flags given on the command line override these values.

[limits]
timeout = "1.5s"          # wall-clock budget of one run
grace = "250ms"           # wait for an interrupted guest before abandoning it
max_steps = 10000         # trace steps before the run is stopped
max_stack_depth = 10      # frames kept per step
max_call_depth = 512      # guest call stack limit
max_output = 65536        # bytes of console output kept
seed = 0                  # Math.random seed
# frozen_time = "2024-01-01T00:00:00Z"

[snapshot]
max_depth = 5
max_width = 20
max_string = 200
max_key = 50
max_frames = 3

[output]
format = "text"           # text|json|ndjson|yaml|msgpack
color = "auto"            # auto|on|off
width = 100

[batch]
jobs = 0                  # 0 = one per CPU
pattern = "*.js"
`

// WriteTemplate creates dir/codeflow.toml and refuses to overwrite it.
func WriteTemplate(dir string) (string, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("already initialized: %s exists", path)
		}
		return "", err
	}
	if _, err := f.WriteString(Template); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}
