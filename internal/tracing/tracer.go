package tracing

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"
)

// Tracer receives trace events. Implementations must be goroutine-safe.
type Tracer interface {
	Emit(ev *Event)
	// Flush writes buffered events.
	Flush() error
	// Close flushes and releases the output.
	Close() error
	Level() Level
}

// Emits reports whether t records events of scope. Callers check it before
// building events that are expensive to describe.
func Emits(t Tracer, scope Scope) bool {
	return t != nil && t.Level().ShouldEmit(scope)
}

// filter is the level check shared by the storing tracers. Heartbeats pass
// at every level above off.
type filter struct{ level Level }

func (f filter) Level() Level { return f.level }

func (f filter) admit(ev *Event) bool {
	if ev.Kind == KindHeartbeat {
		return f.level > LevelOff
	}
	return f.level.ShouldEmit(ev.Scope)
}

// StorageMode determines how events are kept.
type StorageMode uint8

const (
	ModeStream StorageMode = iota + 1 // written as they happen
	ModeRing                          // last N in memory
	ModeBoth
)

var modeNames = [...]string{ModeStream: "stream", ModeRing: "ring", ModeBoth: "both"}

func (m StorageMode) String() string {
	if m > 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// ParseMode converts a flag value to a StorageMode.
func ParseMode(s string) (StorageMode, error) {
	i := slices.Index(modeNames[1:], strings.ToLower(strings.TrimSpace(s)))
	if i < 0 {
		return ModeStream, fmt.Errorf("invalid storage mode: %q (expected: stream|ring|both)", s)
	}
	return StorageMode(i + 1), nil
}

// DefaultRingSize is the ring capacity used when none is configured.
const DefaultRingSize = 4096

// Config holds tracer configuration.
type Config struct {
	Level      Level
	Mode       StorageMode
	Format     Format        // FormatAuto picks from OutputPath
	Output     io.Writer     // stream output; if nil OutputPath is opened
	OutputPath string        // "-" or "" for stderr
	RingSize   int           // ring capacity, DefaultRingSize when 0
	Heartbeat  time.Duration // read by callers starting a Heartbeat
}

// New builds the tracer cfg describes. LevelOff yields Nop.
func New(cfg Config) (Tracer, error) {
	if cfg.Level == LevelOff {
		return Nop, nil
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultRingSize
	}
	if cfg.Format == FormatAuto && cfg.OutputPath != "" && cfg.OutputPath != "-" {
		cfg.Format = formatFor(cfg.OutputPath)
	}

	var stream, ring Tracer
	if cfg.Mode == ModeStream || cfg.Mode == ModeBoth {
		w, err := openOutput(cfg)
		if err != nil {
			return nil, err
		}
		stream = NewStreamTracer(w, cfg.Level, cfg.Format)
	}
	if cfg.Mode == ModeRing || cfg.Mode == ModeBoth {
		ring = NewRingTracer(cfg.RingSize, cfg.Level)
	}
	switch {
	case stream != nil && ring != nil:
		return NewMultiTracer(cfg.Level, stream, ring), nil
	case stream != nil:
		return stream, nil
	case ring != nil:
		return ring, nil
	}
	return nil, fmt.Errorf("unknown storage mode: %v", cfg.Mode)
}

func openOutput(cfg Config) (io.Writer, error) {
	if cfg.Output != nil {
		return cfg.Output, nil
	}
	if cfg.OutputPath == "" || cfg.OutputPath == "-" {
		return unclosable{os.Stderr}, nil
	}
	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace output: %w", err)
	}
	return f, nil
}

// unclosable hides the Close method of stderr from StreamTracer.Close.
type unclosable struct{ io.Writer }
