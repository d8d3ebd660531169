// Package diag defines the diagnostic model shared by the trace pipeline.
//
// # Purpose
//
//   - Provide deterministic, serialisable records for findings produced while
//     parsing, instrumenting and running a guest program.
//   - Offer a Bag that collects diagnostics across many programs (batch mode)
//     with stable sorting and deduplication.
//
// # Scope
//
// Package diag does not format or print anything. Rendering lives in
// internal/diagfmt; the engine and the CLI decide which failures become
// diagnostics.
//
// # Data model
//
// Diagnostic is the central record:
//
//   - Severity – Info, Warning or Error.
//   - Code – compact numeric identifier (see codes.go) with a stable string
//     form such as SYN2001 or RUN3002.
//   - Message – human oriented text; keep it short.
//   - Primary span – the source.Span pointing at the issue.
//   - Notes – optional secondary spans with extra context.
//
// Runtime failures of a guest program are not diagnostics of the engine: they
// end up as the terminal step of the trace. Batch mode additionally reports
// them with RUN codes so a directory run can be summarised in one listing.
package diag
