package record

import (
	"errors"
	"sync"

	"github.com/dop251/goja"

	"github.com/geeth24/codeflow/internal/scope"
	"github.com/geeth24/codeflow/internal/snapshot"
)

// ErrStepLimit is the interrupt value used when a run exceeds its step budget.
var ErrStepLimit = errors.New("step limit exceeded")

// MainFrame labels the top level of the program.
const MainFrame = "main"

// Limits bound a single run's trace.
type Limits struct {
	MaxSteps      int
	MaxStackDepth int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxSteps: 10000, MaxStackDepth: 10}
}

// NameSource reports the names a probe may observe in a scope.
type NameSource interface {
	Visible(id scope.ID) scope.IdentifierSet
}

// Recorder accumulates the steps of one run. Probe runs on the goroutine of
// the runtime; Seal and Steps may be called from any goroutine.
type Recorder struct {
	rt     *goja.Runtime
	ser    *snapshot.Serializer
	names  NameSource
	lim    Limits
	frames []goja.StackFrame
	// active is set while a step is being recorded. Getters run by the
	// serializer may reach the probe again; those calls record nothing.
	active bool
	token  string

	mu      sync.Mutex
	steps   []Step
	sealed  bool
	failed  bool
	limited bool
}

// NewRecorder returns a recorder for rt. Zero limits take their defaults.
func NewRecorder(rt *goja.Runtime, ser *snapshot.Serializer, names NameSource, lim Limits) *Recorder {
	d := DefaultLimits()
	if lim.MaxSteps <= 0 {
		lim.MaxSteps = d.MaxSteps
	}
	if lim.MaxStackDepth <= 0 {
		lim.MaxStackDepth = d.MaxStackDepth
	}
	return &Recorder{rt: rt, ser: ser, names: names, lim: lim}
}

// RequireToken makes the recorder ignore probe calls whose fourth argument
// is not token. An empty token accepts every call.
func (r *Recorder) RequireToken(token string) {
	r.token = token
}

// Probe is bound as the probe global. Arguments are the line, the scope id,
// an evaluator mapping a name to its value (or null) and the rewrite token.
func (r *Recorder) Probe(call goja.FunctionCall) goja.Value {
	if r == nil || r.active || len(call.Arguments) < 2 {
		return goja.Undefined()
	}
	if r.token != "" && call.Argument(3).String() != r.token {
		return goja.Undefined()
	}
	r.active = true
	defer func() { r.active = false }()
	if !r.admit() {
		return goja.Undefined()
	}

	line := int(call.Argument(0).ToInteger())
	id := scope.ID(call.Argument(1).ToInteger())
	stack := r.stack()
	locals := r.locals(id, call.Argument(2))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return goja.Undefined()
	}
	r.steps = append(r.steps, Step{
		Step:   len(r.steps) + 1,
		Line:   line,
		Locals: locals,
		Stack:  stack,
	})
	return goja.Undefined()
}

// admit reports whether another step may be recorded. Once the budget is
// spent the runtime is interrupted with ErrStepLimit.
func (r *Recorder) admit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed || r.limited {
		return false
	}
	if len(r.steps) >= r.lim.MaxSteps {
		r.limited = true
		r.rt.Interrupt(ErrStepLimit)
		return false
	}
	return true
}

func (r *Recorder) locals(id scope.ID, eval goja.Value) map[string]any {
	out := make(map[string]any)
	fn, ok := goja.AssertFunction(eval)
	if !ok || r.names == nil {
		return out
	}
	for _, name := range r.names.Visible(id) {
		v, err := fn(goja.Undefined(), r.rt.ToValue(name))
		if err != nil {
			if uncatchable(err) {
				panic(err)
			}
			// not yet initialised or otherwise unreadable here
			continue
		}
		out[name] = r.ser.Serialize(v)
	}
	return out
}

// stack labels the guest frames innermost first, without native frames
// (the probe itself included) and without the top-level script frame.
func (r *Recorder) stack() []string {
	r.frames = r.rt.CaptureCallStack(0, r.frames[:0])

	labels := make([]string, 0, len(r.frames))
	for i := range r.frames {
		f := &r.frames[i]
		if f.SrcName() == "<native>" {
			continue
		}
		labels = append(labels, frameLabel(f.FuncName()))
	}
	if n := len(labels); n > 0 && r.frames[len(r.frames)-1].SrcName() != "<native>" && labels[n-1] == "anonymous" {
		labels = labels[:n-1]
	}
	if len(labels) > r.lim.MaxStackDepth {
		labels = labels[:r.lim.MaxStackDepth]
	}
	if len(labels) == 0 {
		return []string{MainFrame}
	}
	return labels
}

func frameLabel(name string) string {
	if name == "" || name == "<anonymous>" {
		return "anonymous"
	}
	return name
}

func uncatchable(err error) bool {
	var interrupted *goja.InterruptedError
	var overflow *goja.StackOverflowError
	return errors.As(err, &interrupted) || errors.As(err, &overflow)
}

// Fail appends the terminal step carrying msg. Only the first call has an
// effect, and none after Seal.
func (r *Recorder) Fail(msg string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed || r.failed {
		return
	}
	r.failed = true
	r.steps = append(r.steps, Step{
		Step:   len(r.steps) + 1,
		Line:   TerminalLine,
		Locals: map[string]any{"error": msg},
		Stack:  []string{"error"},
	})
}

// Seal freezes the trace; later probes and failures are ignored.
func (r *Recorder) Seal() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Limited reports whether the step budget was exhausted.
func (r *Recorder) Limited() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limited
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// Steps returns a copy of the trace recorded so far.
func (r *Recorder) Steps() Trace {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Trace, len(r.steps))
	copy(out, r.steps)
	return out
}
