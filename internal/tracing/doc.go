// Package tracing records what the codeflow pipeline itself is doing: CLI
// commands, guest runs, pipeline phases and host supervision events. It is
// unrelated to the execution traces the engine produces for guest programs.
//
// # Usage
//
//	codeflow run --trace=- --trace-level=phase prog.js
//	codeflow batch --trace=pipeline.chrome.json --trace-level=detail progs/
//
// # Tracers
//
//   - Nop: zero-overhead tracer used when tracing is off
//   - StreamTracer: writes each event immediately (text, NDJSON or Chrome)
//   - RingTracer: keeps the last N events in memory for crash dumps
//   - MultiTracer: fans out to several tracers
//
// # Levels and scopes
//
// Scopes order events from coarse to fine: driver, run, phase, host, probe.
// LevelPhase emits up to phase, LevelDetail adds host supervision events and
// LevelDebug adds one point event per recorded guest step.
//
// # Context propagation
//
//	ctx = tracing.WithTracer(ctx, tracer)
//	span := tracing.Begin(tracing.FromContext(ctx), tracing.ScopePhase, "parse", parentID)
//	defer span.End("")
package tracing
