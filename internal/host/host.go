// Package host runs an instrumented guest program in a fresh goja runtime
// and supervises it: wall-clock budget, cancellation, call depth and the
// recovery of uncaught failures into a terminal trace step.
package host

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"

	"github.com/geeth24/codeflow/internal/ctxlog"
	"github.com/geeth24/codeflow/internal/instrument"
	"github.com/geeth24/codeflow/internal/record"
	"github.com/geeth24/codeflow/internal/tracing"
)

var (
	// ErrTimeout is the interrupt value used when the wall-clock budget runs out.
	ErrTimeout = errors.New("execution timeout exceeded")
	// ErrCancelled is the interrupt value used when the caller's context ends.
	ErrCancelled = errors.New("execution cancelled")
	// ErrCompile reports that the rewritten program could not be compiled.
	ErrCompile = errors.New("compile instrumented program")
)

// FailureKind classifies how a run ended abnormally.
type FailureKind string

const (
	KindRuntime       FailureKind = "runtime"
	KindTimeout       FailureKind = "timeout"
	KindStepLimit     FailureKind = "step-limit"
	KindStackOverflow FailureKind = "stack-overflow"
	KindCancelled     FailureKind = "cancelled"
)

// Failure describes an uncaught failure. Message is what the terminal step
// carries. Line is the guest line the failure surfaced at, 0 if unknown.
type Failure struct {
	Kind    FailureKind `json:"kind" yaml:"kind" msgpack:"kind"`
	Message string      `json:"message" yaml:"message" msgpack:"message"`
	Line    int         `json:"line,omitempty" yaml:"line,omitempty" msgpack:"line,omitempty"`
}

// Limits bound a single run. Zero values take their defaults.
type Limits struct {
	Timeout      time.Duration
	Grace        time.Duration
	MaxCallDepth int
	MaxOutput    int
	Seed         uint64
	FrozenTime   time.Time
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		Timeout:      1500 * time.Millisecond,
		Grace:        250 * time.Millisecond,
		MaxCallDepth: 512,
		MaxOutput:    64 << 10,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.Grace <= 0 {
		l.Grace = d.Grace
	}
	if l.MaxCallDepth <= 0 {
		l.MaxCallDepth = d.MaxCallDepth
	}
	if l.MaxOutput <= 0 {
		l.MaxOutput = d.MaxOutput
	}
	return l
}

// Probe is the recording side of a run. *record.Recorder implements it.
type Probe interface {
	Probe(call goja.FunctionCall) goja.Value
	Fail(msg string)
	Seal()
	Steps() record.Trace
}

// ProbeFactory builds the probe for a freshly created runtime.
type ProbeFactory func(rt *goja.Runtime) Probe

// Request is one guest run.
type Request struct {
	Name   string
	Source string
	Input  string
	Limits Limits
	Probe  ProbeFactory
}

// Outcome is everything a run produced. Steps is final: the probe is sealed
// before Run returns.
type Outcome struct {
	Steps     record.Trace
	Output    string
	Failure   *Failure
	Elapsed   time.Duration
	Abandoned bool
}

// Run executes req.Source and blocks until the guest finishes, the budget
// runs out or ctx ends. It never waits longer than Timeout plus Grace. The
// returned error is non-nil only when the source does not compile.
func Run(ctx context.Context, req Request) (*Outcome, error) {
	lim := req.Limits.withDefaults()
	log := ctxlog.FromContext(ctx)
	tr, parent := tracing.FromContext(ctx), tracing.CurrentSpan(ctx)

	prog, err := goja.Compile(req.Name, req.Source, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	rt := goja.New()
	rt.SetParserOptions(parser.WithDisableSourceMaps)
	rt.SetMaxCallStackSize(lim.MaxCallDepth)
	rng := rand.New(rand.NewPCG(lim.Seed, lim.Seed^0x9e3779b97f4a7c15))
	rt.SetRandSource(rng.Float64)
	if !lim.FrozenTime.IsZero() {
		frozen := lim.FrozenTime
		rt.SetTimeSource(func() time.Time { return frozen })
	}

	var probe Probe = nopProbe{}
	if req.Probe != nil {
		probe = req.Probe(rt)
	}
	out := newOutput(lim.MaxOutput)
	if err := install(rt, probe, out, req.Input); err != nil {
		return nil, fmt.Errorf("install globals: %w", err)
	}

	start := time.Now()
	done := make(chan *Failure, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("guest runner panicked", "name", req.Name, "panic", r)
				done <- &Failure{Kind: KindRuntime, Message: fmt.Sprintf("InternalError: %v", r)}
			}
		}()
		_, err := rt.RunProgram(prog)
		done <- classify(rt, err, req.Name, lim)
	}()

	res := &Outcome{}
	timer := time.NewTimer(lim.Timeout)
	defer timer.Stop()

	var failure *Failure
	select {
	case failure = <-done:
	case <-timer.C:
		rt.Interrupt(ErrTimeout)
		tracing.Point(tr, tracing.ScopeHost, "interrupt", "timeout", parent)
		failure, res.Abandoned = await(done, lim.Grace, interruptFailure(ErrTimeout, lim))
	case <-ctx.Done():
		rt.Interrupt(ErrCancelled)
		tracing.Point(tr, tracing.ScopeHost, "interrupt", "cancelled", parent)
		failure, res.Abandoned = await(done, lim.Grace, interruptFailure(ErrCancelled, lim))
	}
	res.Elapsed = time.Since(start)

	if failure != nil {
		probe.Fail(failure.Message)
	}
	probe.Seal()
	res.Failure = failure
	res.Steps = probe.Steps()
	res.Output = out.String()

	attrs := []any{"name", req.Name, "steps", len(res.Steps), "elapsed", res.Elapsed}
	if failure != nil {
		attrs = append(attrs, "failure", failure.Kind)
	}
	if res.Abandoned {
		tracing.Point(tr, tracing.ScopeHost, "abandon", req.Name, parent)
		log.Warn("guest did not unwind after interrupt, abandoned", attrs...)
	} else {
		log.Debug("guest finished", attrs...)
	}
	return res, nil
}

// await gives an interrupted guest grace to unwind. If it does not, the
// fallback failure is used and the runner goroutine is abandoned.
func await(done <-chan *Failure, grace time.Duration, fallback *Failure) (*Failure, bool) {
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case f := <-done:
		if f == nil {
			// finished cleanly before the interrupt was observed
			return nil, false
		}
		return f, false
	case <-t.C:
		return fallback, true
	}
}

func classify(rt *goja.Runtime, err error, name string, lim Limits) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	var interrupted *goja.InterruptedError
	var overflow *goja.StackOverflowError
	var ex *goja.Exception
	switch {
	case errors.As(err, &interrupted):
		if cause, ok := interrupted.Value().(error); ok {
			f = interruptFailure(cause, lim)
		} else {
			f = &Failure{Kind: KindRuntime, Message: fmt.Sprint(interrupted.Value())}
		}
		f.Line = guestLine(interrupted.Stack(), name)
	case errors.As(err, &overflow):
		f = &Failure{Kind: KindStackOverflow, Message: "RangeError: Maximum call stack size exceeded"}
		f.Line = guestLine(overflow.Stack(), name)
	case errors.As(err, &ex):
		f = &Failure{Kind: KindRuntime, Message: exceptionMessage(rt, ex)}
		f.Line = guestLine(ex.Stack(), name)
	default:
		f = &Failure{Kind: KindRuntime, Message: err.Error()}
	}
	return f
}

// guestLine returns the line of the innermost frame inside the guest program.
func guestLine(frames []goja.StackFrame, name string) int {
	for i := range frames {
		if frames[i].SrcName() != name {
			continue
		}
		if pos := frames[i].Position(); pos.Line > 0 {
			return pos.Line
		}
	}
	return 0
}

func interruptFailure(cause error, lim Limits) *Failure {
	switch {
	case errors.Is(cause, ErrTimeout):
		return &Failure{Kind: KindTimeout, Message: fmt.Sprintf("TimeoutError: execution exceeded %s", lim.Timeout)}
	case errors.Is(cause, record.ErrStepLimit):
		return &Failure{Kind: KindStepLimit, Message: "StepLimitError: " + cause.Error()}
	case errors.Is(cause, ErrCancelled):
		return &Failure{Kind: KindCancelled, Message: "CancelledError: " + cause.Error()}
	}
	return &Failure{Kind: KindRuntime, Message: cause.Error()}
}

// exceptionMessage stringifies a thrown value. Objects may run guest
// toString, so that happens under Try.
func exceptionMessage(rt *goja.Runtime, ex *goja.Exception) string {
	v := ex.Value()
	if v == nil {
		return "Error"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	var msg string
	if jsErr := rt.Try(func() { msg = obj.String() }); jsErr != nil {
		return "Error: <unprintable exception>"
	}
	return msg
}

func install(rt *goja.Runtime, probe Probe, out *output, input string) error {
	global := rt.GlobalObject()
	if err := global.DefineDataProperty(instrument.ProbeName, rt.ToValue(probe.Probe), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return err
	}
	if err := rt.Set("console", newConsole(rt, out)); err != nil {
		return err
	}
	in := newInput(input)
	if err := rt.Set("readline", in.readline(rt)); err != nil {
		return err
	}
	return rt.Set("prompt", in.prompt(rt, out))
}

type nopProbe struct{}

func (nopProbe) Probe(goja.FunctionCall) goja.Value { return goja.Undefined() }
func (nopProbe) Fail(string)                        {}
func (nopProbe) Seal()                              {}
func (nopProbe) Steps() record.Trace                { return nil }
