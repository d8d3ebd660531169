// Package engine is the trace pipeline: it parses a guest program, analyzes
// its scopes, inserts probes and runs the result under the host, returning
// the recorded trace classified as clean, failed or unparsable.
package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"

	"github.com/geeth24/codeflow/internal/ctxlog"
	"github.com/geeth24/codeflow/internal/host"
	"github.com/geeth24/codeflow/internal/instrument"
	"github.com/geeth24/codeflow/internal/jsast"
	"github.com/geeth24/codeflow/internal/observ"
	"github.com/geeth24/codeflow/internal/record"
	"github.com/geeth24/codeflow/internal/scope"
	"github.com/geeth24/codeflow/internal/snapshot"
	"github.com/geeth24/codeflow/internal/source"
	"github.com/geeth24/codeflow/internal/tracing"
)

// Options configure every run of an Engine. Zero values take the defaults
// of the respective package.
type Options struct {
	Host     host.Limits
	Record   record.Limits
	Snapshot snapshot.Limits
}

// Engine traces guest programs. It is safe for concurrent use; each request
// gets its own runtime.
type Engine struct {
	opts Options

	mu    sync.Mutex
	files *source.FileSet
}

// New returns an engine with the given options.
func New(opts Options) *Engine {
	return &Engine{opts: opts, files: source.NewFileSet()}
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options { return e.opts }

// Files returns the file set holding every source the engine has seen.
// Diagnostic spans refer to it. Read it only after all Trace calls return.
func (e *Engine) Files() *source.FileSet { return e.files }

// Request is one trace request.
type Request struct {
	Name     string
	Source   string
	Language string
	Input    string
}

// Prepared is an instrumented program ready to run.
type Prepared struct {
	Name       string
	File       source.FileID
	Source     string
	Program    *ast.Program
	Analysis   *scope.Analysis
	Instrument *instrument.Result
}

func (e *Engine) register(name, src string) (*source.File, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.files.AddVirtual(name, []byte(src))
	if err != nil {
		return nil, err
	}
	return e.files.Get(id), nil
}

// Instrument parses, analyzes and rewrites req.Source without running it.
// A source that does not parse yields a *SyntaxError.
func (e *Engine) Instrument(ctx context.Context, req Request) (*Prepared, error) {
	return e.prepare(ctx, req, nil)
}

func (e *Engine) prepare(ctx context.Context, req Request, timer *observ.Timer) (*Prepared, error) {
	if _, err := ResolveLanguage(req.Language); err != nil {
		return nil, err
	}
	name := req.Name
	if name == "" {
		name = "<input>"
	}
	f, err := e.register(name, req.Source)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	src := string(f.Content)
	log := ctxlog.FromContext(ctx)
	tr, parent := tracing.FromContext(ctx), tracing.CurrentSpan(ctx)

	idx := timer.Begin("parse")
	span := tracing.Begin(tr, tracing.ScopePhase, "parse", parent)
	prog, err := jsast.Parse(name, src)
	if err != nil {
		span.End("syntax error")
		timer.End(idx, "syntax error")
		var pe *jsast.ParseError
		if !errors.As(err, &pe) {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		log.Debug("phase finished", "phase", "parse", "name", name, "status", StatusSyntaxError)
		return nil, &SyntaxError{Name: name, File: f.ID, Diagnostic: syntaxDiagnostic(f, pe), Err: pe}
	}
	span.End("")
	timer.End(idx, "")

	idx = timer.Begin("analyze")
	span = tracing.Begin(tr, tracing.ScopePhase, "analyze", parent)
	an := scope.Analyze(prog)
	note := strconv.Itoa(an.Len()) + " scopes"
	span.WithExtra("names", strconv.Itoa(len(an.Global()))).End(note)
	timer.End(idx, note)
	log.Debug("phase finished", "phase", "analyze", "name", name, "scopes", an.Len())

	idx = timer.Begin("instrument")
	span = tracing.Begin(tr, tracing.ScopePhase, "instrument", parent)
	rw, err := instrument.Rewrite(src, prog, an, rand.Text())
	if err != nil {
		span.End("failed")
		timer.End(idx, "failed")
		return nil, err
	}
	note = strconv.Itoa(rw.Probes()) + " probes"
	span.End(note)
	timer.End(idx, note)
	log.Debug("phase finished", "phase", "instrument", "name", name, "probes", rw.Probes())

	return &Prepared{
		Name:       name,
		File:       f.ID,
		Source:     src,
		Program:    prog,
		Analysis:   an,
		Instrument: rw,
	}, nil
}

// Trace runs the whole pipeline. A syntax error is not an error of Trace: it
// comes back as a Result with StatusSyntaxError. The returned error is
// reserved for requests the engine cannot serve at all (unknown language,
// undecodable source, a rewrite that produced invalid code).
func (e *Engine) Trace(ctx context.Context, req Request) (*Result, error) {
	log := ctxlog.FromContext(ctx)
	tr := tracing.FromContext(ctx)
	run := tracing.Begin(tr, tracing.ScopeRun, "run:"+req.Name, tracing.CurrentSpan(ctx))
	ctx = tracing.WithSpan(ctx, run)
	timer := observ.NewTimer()

	prep, err := e.prepare(ctx, req, timer)
	var syn *SyntaxError
	switch {
	case errors.As(err, &syn):
		res := &Result{
			Name:    syn.Name,
			File:    syn.File,
			Status:  StatusSyntaxError,
			Steps:   record.Trace{},
			Error:   syn.Err.Error(),
			Syntax:  &syn.Diagnostic,
			Timings: timer.Report(),
		}
		run.End(string(res.Status))
		return res, nil
	case err != nil:
		run.End("failed")
		return nil, err
	}

	idx := timer.Begin("execute")
	span := tracing.Begin(tr, tracing.ScopePhase, "execute", run.ID())
	out, err := host.Run(tracing.WithSpan(ctx, span), host.Request{
		Name:   prep.Name,
		Source: prep.Instrument.Source,
		Input:  req.Input,
		Limits: e.opts.Host,
		Probe:  e.probeFactory(tr, span.ID(), prep),
	})
	if err != nil {
		span.End("failed")
		timer.End(idx, "failed")
		run.End("failed")
		return nil, fmt.Errorf("execute %s: %w", prep.Name, err)
	}
	note := strconv.Itoa(len(out.Steps)) + " steps"
	span.End(note)
	timer.End(idx, note)

	res := &Result{
		Name:      prep.Name,
		File:      prep.File,
		Status:    StatusOK,
		Steps:     out.Steps,
		Output:    out.Output,
		Probes:    prep.Instrument.Probes(),
		Failure:   out.Failure,
		Abandoned: out.Abandoned,
		Timings:   timer.Report(),
	}
	if res.Steps == nil {
		res.Steps = record.Trace{}
	}
	if out.Failure != nil {
		res.Status = StatusError
		res.Error = out.Failure.Message
	}
	log.Debug("trace finished", "name", prep.Name, "steps", len(res.Steps), "status", res.Status)
	run.WithExtra("steps", strconv.Itoa(len(res.Steps))).End(string(res.Status))
	return res, nil
}

func (e *Engine) probeFactory(tr tracing.Tracer, parent uint64, prep *Prepared) host.ProbeFactory {
	return func(rt *goja.Runtime) host.Probe {
		rec := record.NewRecorder(rt, snapshot.New(rt, e.opts.Snapshot), prep.Analysis, e.opts.Record)
		rec.RequireToken(prep.Instrument.Token)
		if !tracing.Emits(tr, tracing.ScopeProbe) {
			return rec
		}
		return &tracedProbe{Recorder: rec, tracer: tr, parent: parent}
	}
}

// tracedProbe emits a probe event for every guest step.
type tracedProbe struct {
	*record.Recorder
	tracer tracing.Tracer
	parent uint64
}

func (p *tracedProbe) Probe(call goja.FunctionCall) goja.Value {
	before := p.Len()
	v := p.Recorder.Probe(call)
	if p.Len() > before {
		tracing.Point(p.tracer, tracing.ScopeProbe, "step", "line "+call.Argument(0).String(), p.parent)
	}
	return v
}
