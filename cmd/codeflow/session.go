package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/geeth24/codeflow/internal/config"
	"github.com/geeth24/codeflow/internal/ctxlog"
	"github.com/geeth24/codeflow/internal/engine"
	"github.com/geeth24/codeflow/internal/prof"
)

// session is the shared state of one command invocation.
type session struct {
	ctx            context.Context
	cfg            config.Config
	log            *slog.Logger
	color          bool
	errColor       bool
	quiet          bool
	timings        bool
	maxDiagnostics int

	trace   *traceHandle
	profile *prof.Session
}

// startSession loads the configuration and sets up logging, tracing and
// profiling for cmd. The caller must call close.
func startSession(cmd *cobra.Command) (*session, error) {
	root := cmd.Root().PersistentFlags()
	configPath, err := root.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := root.GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	logFormat, err := root.GetString("log-format")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-format flag: %w", err)
	}
	logLevel = strings.ToLower(logLevel)
	if err = checkLogFlags(logLevel, logFormat); err != nil {
		return nil, err
	}

	s := &session{log: ctxlog.New(logLevel, logFormat, cmd.ErrOrStderr())}
	if s.quiet, err = root.GetBool("quiet"); err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}
	if s.timings, err = root.GetBool("timings"); err != nil {
		return nil, fmt.Errorf("failed to get timings flag: %w", err)
	}
	if s.maxDiagnostics, err = root.GetInt("max-diagnostics"); err != nil {
		return nil, fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	if s.cfg, err = config.Discover(configPath, wd); err != nil {
		return nil, err
	}
	if s.cfg.Path != "" {
		s.log.Debug("config loaded", "path", s.cfg.Path)
	}

	colorFlag, err := root.GetString("color")
	if err != nil {
		return nil, fmt.Errorf("failed to get color flag: %w", err)
	}
	if colorFlag == "" {
		colorFlag = s.cfg.Output.Color
	}
	if s.color, err = resolveColor(colorFlag, os.Stdout); err != nil {
		return nil, err
	}
	if s.errColor, err = resolveColor(colorFlag, os.Stderr); err != nil {
		return nil, err
	}

	ctx := ctxlog.WithLogger(cmd.Context(), s.log)
	if ctx, s.trace, err = setupTracing(cmd, ctx); err != nil {
		return nil, err
	}
	if s.profile, err = setupProfiling(cmd); err != nil {
		s.trace.close(true)
		return nil, err
	}
	s.ctx = ctx
	return s, nil
}

// close releases the tracer and the profilers. failed selects whether the
// trace ring is dumped.
func (s *session) close(failed bool) {
	if s == nil {
		return
	}
	if err := s.profile.Stop(); err != nil {
		s.log.Error("profiling", "err", err)
	}
	s.trace.close(failed)
}

// engine builds an engine from the configuration after the overrides of cmd
// were applied.
func (s *session) engine() (*engine.Engine, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	opts, err := s.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	return engine.New(opts), nil
}

// applyLimitFlags copies the limit flags the user set into the config.
func (s *session) applyLimitFlags(cmd *cobra.Command) error {
	fl := cmd.Flags()
	if fl.Changed("timeout") {
		v, err := fl.GetDuration("timeout")
		if err != nil {
			return err
		}
		s.cfg.Limits.Timeout = config.Duration{Duration: v}
	}
	if fl.Changed("max-steps") {
		v, err := fl.GetInt64("max-steps")
		if err != nil {
			return err
		}
		s.cfg.Limits.MaxSteps = v
	}
	if fl.Changed("seed") {
		v, err := fl.GetInt64("seed")
		if err != nil {
			return err
		}
		s.cfg.Limits.Seed = v
	}
	if fl.Changed("frozen-time") {
		v, err := fl.GetString("frozen-time")
		if err != nil {
			return err
		}
		s.cfg.Limits.FrozenTime = v
	}
	return nil
}

func addLimitFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "wall-clock budget of one run (overrides [limits].timeout)")
	cmd.Flags().Int64("max-steps", 0, "maximum number of recorded steps (overrides [limits].max_steps)")
	cmd.Flags().Int64("seed", 0, "Math.random seed (overrides [limits].seed)")
	cmd.Flags().String("frozen-time", "", "RFC 3339 time reported by Date (overrides [limits].frozen_time)")
}

func checkLogFlags(level, format string) error {
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q (expected: debug|info|warn|error)", level)
	}
	switch format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q (expected: text|json)", format)
	}
	return nil
}

// resolveColor maps auto|on|off to a decision for f.
func resolveColor(mode string, f *os.File) (bool, error) {
	switch strings.ToLower(mode) {
	case "", "auto":
		return isTerminal(f) && os.Getenv("NO_COLOR") == "", nil
	case "on", "always", "true":
		return true, nil
	case "off", "never", "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid color mode: %q (expected: auto|on|off)", mode)
	}
}

// setupProfiling starts the profilers named by the profiling flags.
func setupProfiling(cmd *cobra.Command) (*prof.Session, error) {
	root := cmd.Root().PersistentFlags()
	var opts prof.Options
	var err error
	if opts.CPU, err = root.GetString("cpu-profile"); err != nil {
		return nil, fmt.Errorf("failed to get cpu-profile flag: %w", err)
	}
	if opts.Mem, err = root.GetString("mem-profile"); err != nil {
		return nil, fmt.Errorf("failed to get mem-profile flag: %w", err)
	}
	if opts.GoTrace, err = root.GetString("go-trace"); err != nil {
		return nil, fmt.Errorf("failed to get go-trace flag: %w", err)
	}
	if !opts.Enabled() {
		return nil, nil
	}
	return prof.Start(opts)
}
