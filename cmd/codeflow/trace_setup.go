package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/geeth24/codeflow/internal/tracing"
)

// traceHandle owns the tracer of one command.
type traceHandle struct {
	tracer    tracing.Tracer
	heartbeat *tracing.Heartbeat
	level     tracing.Level
	errOut    io.Writer
}

// setupTracing inspects trace-related flags, initializes the tracer and
// attaches it to ctx.
func setupTracing(cmd *cobra.Command, ctx context.Context) (context.Context, *traceHandle, error) {
	root := cmd.Root()

	traceOutput, err := root.PersistentFlags().GetString("trace")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := root.PersistentFlags().GetString("trace-level")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := root.PersistentFlags().GetString("trace-mode")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	formatStr, err := root.PersistentFlags().GetString("trace-format")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-format flag: %w", err)
	}
	ringSize, err := root.PersistentFlags().GetInt("trace-ring-size")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	heartbeatInterval, err := root.PersistentFlags().GetDuration("trace-heartbeat")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	level, err := tracing.ParseLevel(levelStr)
	if err != nil {
		return nil, nil, err
	}
	h := &traceHandle{tracer: tracing.Nop, level: level, errOut: cmd.ErrOrStderr()}

	// --trace без уровня включает фазы
	if level == tracing.LevelOff && traceOutput != "" {
		level = tracing.LevelPhase
		h.level = level
	}
	if level == tracing.LevelOff {
		return tracing.WithTracer(ctx, tracing.Nop), h, nil
	}

	mode, err := tracing.ParseMode(modeStr)
	if err != nil {
		return nil, nil, err
	}
	if level == tracing.LevelError {
		// error level keeps events in memory and prints them only on failure
		mode = tracing.ModeRing
	}
	format, err := tracing.ParseFormat(formatStr)
	if err != nil {
		return nil, nil, err
	}

	tracer, err := tracing.New(tracing.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: traceOutput,
		RingSize:   ringSize,
		Heartbeat:  heartbeatInterval,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	h.tracer = tracer
	h.heartbeat = tracing.StartHeartbeat(tracer, heartbeatInterval)
	return tracing.WithTracer(ctx, tracer), h, nil
}

// close stops the heartbeat and closes the tracer. A ring-only tracer is
// dumped to stderr when the command failed, or always above the error level.
func (h *traceHandle) close(failed bool) {
	if h == nil {
		return
	}
	h.heartbeat.Stop()
	if r, ok := h.tracer.(*tracing.RingTracer); ok && (failed || h.level > tracing.LevelError) {
		if failed {
			fmt.Fprintln(h.errOut, "trace: last events before failure:")
		}
		if err := r.Dump(h.errOut, tracing.FormatText); err != nil {
			fmt.Fprintf(h.errOut, "trace: dump error: %v\n", err)
		}
	}
	if err := h.tracer.Flush(); err != nil {
		fmt.Fprintf(h.errOut, "trace: flush error: %v\n", err)
	}
	if err := h.tracer.Close(); err != nil {
		fmt.Fprintf(h.errOut, "trace: close error: %v\n", err)
	}
}
