package host

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geeth24/codeflow/internal/record"
	"github.com/geeth24/codeflow/internal/snapshot"
)

func recorder(lim record.Limits) ProbeFactory {
	return func(rt *goja.Runtime) Probe {
		return record.NewRecorder(rt, snapshot.New(rt, snapshot.Limits{}), nil, lim)
	}
}

func run(t *testing.T, src string, lim Limits) *Outcome {
	t.Helper()
	out, err := Run(context.Background(), Request{Name: "test.js", Source: src, Limits: lim, Probe: recorder(record.Limits{})})
	require.NoError(t, err)
	return out
}

func TestRun_Clean(t *testing.T) {
	out := run(t, "__cf$probe(1, 0, null);\n__cf$probe(2, 0, null);", Limits{})
	assert.Nil(t, out.Failure)
	assert.False(t, out.Abandoned)
	assert.Equal(t, []int{1, 2}, out.Steps.Lines())
	assert.False(t, out.Steps.Failed())
}

func TestRun_CompileError(t *testing.T) {
	_, err := Run(context.Background(), Request{Name: "bad.js", Source: "let = ;"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompile)
}

func TestRun_UncaughtException(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"error object", "throw new TypeError('bad');", "TypeError: bad"},
		{"string", "throw 'oops';", "oops"},
		{"builtin", "null.x;", "TypeError"},
		{"reference", "missing + 1;", "ReferenceError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, "__cf$probe(1, 0, null);\n"+tt.src, Limits{})
			require.NotNil(t, out.Failure)
			assert.Equal(t, KindRuntime, out.Failure.Kind)
			assert.True(t, strings.HasPrefix(out.Failure.Message, tt.want), out.Failure.Message)
			assert.Equal(t, 2, out.Failure.Line)

			require.Len(t, out.Steps, 2)
			assert.Equal(t, 1, out.Steps[0].Line)
			last := out.Steps[1]
			assert.True(t, last.Terminal())
			assert.Equal(t, out.Failure.Message, last.Error())
			assert.Equal(t, []string{"error"}, last.Stack)
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	out := run(t, "__cf$probe(1, 0, null);\nfor (;;) {}", Limits{Timeout: 50 * time.Millisecond})
	require.NotNil(t, out.Failure)
	assert.Equal(t, KindTimeout, out.Failure.Kind)
	assert.Equal(t, "TimeoutError: execution exceeded 50ms", out.Failure.Message)
	assert.Equal(t, 2, out.Failure.Line)
	assert.False(t, out.Abandoned)
	assert.Equal(t, []int{1, record.TerminalLine}, out.Steps.Lines())
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out, err := Run(ctx, Request{Source: "while (true) {}", Probe: recorder(record.Limits{})})
	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	assert.Equal(t, KindCancelled, out.Failure.Kind)
	assert.True(t, out.Steps.Failed())
}

func TestRun_StepLimit(t *testing.T) {
	out, err := Run(context.Background(), Request{
		Source: "for (let i = 0; ; i++) { __cf$probe(1, 0, null); }",
		Probe:  recorder(record.Limits{MaxSteps: 5}),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	assert.Equal(t, KindStepLimit, out.Failure.Kind)
	assert.Len(t, out.Steps, 6)
	assert.True(t, out.Steps.Failed())
}

func TestRun_StackOverflow(t *testing.T) {
	out := run(t, "function f(n) { return f(n + 1); }\nf(0);", Limits{MaxCallDepth: 64})
	require.NotNil(t, out.Failure)
	assert.Equal(t, KindStackOverflow, out.Failure.Kind)
	assert.Equal(t, "RangeError: Maximum call stack size exceeded", out.Steps[len(out.Steps)-1].Error())
}

func TestRun_Console(t *testing.T) {
	out := run(t, `
console.log("a", 1, {x: 1}, [1, 2], undefined, null, 1.5, true, function f() {});
console.warn("careful");
console.error(new Error("e"));
console.info(Symbol("s"));
`, Limits{})
	require.Nil(t, out.Failure)
	lines := strings.Split(strings.TrimSuffix(out.Output, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `a 1 {"x":1} [1,2] undefined null 1.5 true <function f>`, lines[0])
	assert.Equal(t, "[warn] careful", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], `[error] {"error":"Error: e"`), lines[2])
	assert.Equal(t, "Symbol(s)", lines[3])
}

func TestRun_OutputLimit(t *testing.T) {
	out := run(t, `for (let i = 0; i < 100; i++) console.log("0123456789");`, Limits{MaxOutput: 25})
	assert.Equal(t, "0123456789\n0123456789\n012"+truncatedNote, out.Output)
}

func TestRun_Input(t *testing.T) {
	out, err := Run(context.Background(), Request{
		Source: `
const name = prompt("name? ");
const a = readline();
const b = readline();
console.log(name, a, b);
`,
		Input: "ada\r\nx\n",
	})
	require.NoError(t, err)
	require.Nil(t, out.Failure)
	assert.Equal(t, "name? ada x null\n", out.Output)
}

func TestRun_NoAmbientIO(t *testing.T) {
	out := run(t, `console.log(typeof require, typeof setTimeout, typeof process, typeof fetch);`, Limits{})
	assert.Equal(t, "undefined undefined undefined undefined\n", out.Output)
}

func TestRun_ProbeIsReadOnly(t *testing.T) {
	out := run(t, "__cf$probe = null;\n__cf$probe(2, 0, null);", Limits{})
	require.Nil(t, out.Failure)
	assert.Equal(t, []int{2}, out.Steps.Lines())
}

func TestRun_Deterministic(t *testing.T) {
	src := `console.log(Math.random(), Math.random());`
	a := run(t, src, Limits{Seed: 7})
	b := run(t, src, Limits{Seed: 7})
	c := run(t, src, Limits{Seed: 8})
	assert.Equal(t, a.Output, b.Output)
	assert.NotEqual(t, a.Output, c.Output)

	frozen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	d := run(t, `console.log(Date.now());`, Limits{FrozenTime: frozen})
	assert.Equal(t, "1704164645000\n", d.Output)
}

// stuckProbe blocks inside native code, where interrupts are not observed.
type stuckProbe struct {
	release chan struct{}
	mu      sync.Mutex
	failed  string
	sealed  bool
}

func (p *stuckProbe) Probe(goja.FunctionCall) goja.Value {
	<-p.release
	return goja.Undefined()
}

func (p *stuckProbe) Fail(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = msg
}

func (p *stuckProbe) Seal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sealed = true
}

func (p *stuckProbe) Steps() record.Trace { return nil }

func TestRun_AbandonsStuckGuest(t *testing.T) {
	p := &stuckProbe{release: make(chan struct{})}
	t.Cleanup(func() { close(p.release) })

	start := time.Now()
	out, err := Run(context.Background(), Request{
		Source: "__cf$probe(1, 0, null);",
		Limits: Limits{Timeout: 20 * time.Millisecond, Grace: 20 * time.Millisecond},
		Probe:  func(*goja.Runtime) Probe { return p },
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, out.Abandoned)
	require.NotNil(t, out.Failure)
	assert.Equal(t, KindTimeout, out.Failure.Kind)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.True(t, p.sealed)
	assert.Equal(t, out.Failure.Message, p.failed)
}
