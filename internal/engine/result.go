package engine

import (
	"fortio.org/safecast"

	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/host"
	"github.com/geeth24/codeflow/internal/observ"
	"github.com/geeth24/codeflow/internal/record"
	"github.com/geeth24/codeflow/internal/source"
)

// Status classifies a finished request.
type Status string

const (
	// StatusOK is a full trace of a run that completed.
	StatusOK Status = "ok"
	// StatusError is a partial trace ending in a terminal step.
	StatusError Status = "error"
	// StatusSyntaxError means the program did not parse; there is no trace.
	StatusSyntaxError Status = "syntax-error"
)

// Result is the outcome of one trace request.
type Result struct {
	Name      string           `json:"name" yaml:"name" msgpack:"name"`
	File      source.FileID    `json:"-" yaml:"-" msgpack:"-"`
	Status    Status           `json:"status" yaml:"status" msgpack:"status"`
	Steps     record.Trace     `json:"steps" yaml:"steps" msgpack:"steps"`
	Error     string           `json:"error,omitempty" yaml:"error,omitempty" msgpack:"error,omitempty"`
	Failure   *host.Failure    `json:"failure,omitempty" yaml:"failure,omitempty" msgpack:"failure,omitempty"`
	Output    string           `json:"output,omitempty" yaml:"output,omitempty" msgpack:"output,omitempty"`
	Probes    int              `json:"probes" yaml:"probes" msgpack:"probes"`
	Abandoned bool             `json:"abandoned,omitempty" yaml:"abandoned,omitempty" msgpack:"abandoned,omitempty"`
	Timings   observ.Report    `json:"timings" yaml:"timings" msgpack:"timings"`
	Syntax    *diag.Diagnostic `json:"-" yaml:"-" msgpack:"-"`
}

var failureCodes = map[host.FailureKind]diag.Code{
	host.KindRuntime:       diag.RunUncaught,
	host.KindTimeout:       diag.RunTimeout,
	host.KindStepLimit:     diag.RunStepLimit,
	host.KindStackOverflow: diag.RunStackOverflow,
	host.KindCancelled:     diag.RunCancelled,
}

// Diagnostic describes why the request did not finish cleanly, or nil for
// StatusOK. Spans refer to the engine's file set.
func (r *Result) Diagnostic(fs *source.FileSet) *diag.Diagnostic {
	switch {
	case r == nil:
		return nil
	case r.Syntax != nil:
		return r.Syntax
	case r.Failure == nil:
		return nil
	}
	code, ok := failureCodes[r.Failure.Kind]
	if !ok {
		code = diag.RunUncaught
	}
	d := diag.NewError(code, lineSpan(fs, r.File, r.Failure.Line), r.Failure.Message)
	if n := len(r.Steps); n > 1 {
		last := r.Steps[n-2]
		d = d.WithNote(lineSpan(fs, r.File, last.Line), "last recorded step")
	}
	return &d
}

// lineSpan covers line of file, or is empty when the line is unknown.
func lineSpan(fs *source.FileSet, id source.FileID, line int) source.Span {
	if fs == nil || line <= 0 {
		return source.Span{File: id}
	}
	f := fs.Get(id)
	if f == nil {
		return source.Span{File: id}
	}
	ln, err := safecast.Conv[uint32](line)
	if err != nil {
		return source.Span{File: id}
	}
	return f.LineSpan(ln)
}
