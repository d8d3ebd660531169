package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/host"
	"github.com/geeth24/codeflow/internal/record"
	"github.com/geeth24/codeflow/internal/snapshot"
	"github.com/geeth24/codeflow/internal/tracing"
)

func trace(t *testing.T, src string) *Result {
	t.Helper()
	return traceWith(t, New(Options{}), src)
}

func traceWith(t *testing.T, e *Engine, src string) *Result {
	t.Helper()
	res, err := e.Trace(context.Background(), Request{Name: "main.js", Source: src})
	require.NoError(t, err)
	return res
}

func totals(steps record.Trace) []any {
	var out []any
	for _, s := range steps {
		if v, ok := s.Locals["total"]; ok {
			out = append(out, v)
		}
	}
	return out
}

func TestTrace_RunningTotal(t *testing.T) {
	res := trace(t, "let total = 0; for (const n of [1,2,3]) { total += n; } ")

	assert.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Steps, 4)
	assert.Equal(t, []int{1, 1, 1, 1}, res.Steps.Lines())
	assert.NotContains(t, res.Steps[0].Locals, "total")
	for i, n := range []int64{1, 2, 3} {
		assert.Equal(t, n, res.Steps[i+1].Locals["n"])
	}
	assert.Equal(t, []any{int64(0), int64(1), int64(3)}, totals(res.Steps))
}

func TestTrace_RunningTotalObservedAfterEachIteration(t *testing.T) {
	res := trace(t, `let total = 0;
for (const n of [1, 2, 3]) {
  total += n;
}
total;
`)
	require.Len(t, res.Steps, 5)
	assert.Equal(t, []int{1, 3, 3, 3, 5}, res.Steps.Lines())
	assert.Equal(t, []any{int64(0), int64(1), int64(3), int64(6)}, totals(res.Steps))
}

func TestTrace_StepsMatchExecutedStatements(t *testing.T) {
	res := trace(t, `let a = 1;
let b = a + 1;
if (b > 5) {
  a = 0;
}
console.log(a, b);
`)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []int{1, 2, 6}, res.Steps.Lines())
	assert.Equal(t, "1 2\n", res.Output)
	assert.Equal(t, 4, res.Probes)
}

func TestTrace_StepNumbersAreContiguous(t *testing.T) {
	res := trace(t, `function fib(n) {
  if (n < 2) return n;
  return fib(n - 1) + fib(n - 2);
}
const r = fib(6);
`)
	require.NotEmpty(t, res.Steps)
	for i, s := range res.Steps {
		assert.Equal(t, i+1, s.Step)
	}
	assert.Equal(t, []int{5, 2, 3, 2}, res.Steps[:4].Lines())
	assert.Equal(t, []string{"fib"}, res.Steps[2].Stack)
	assert.Equal(t, []string{"fib", "fib"}, res.Steps[3].Stack)
	assert.Equal(t, []string{record.MainFrame}, res.Steps[0].Stack)
}

func TestTrace_CircularValue(t *testing.T) {
	res := trace(t, "const o = {a: 1};\no.self = o;\no;\n")
	require.Len(t, res.Steps, 3)
	want := map[string]any{"a": int64(1), "self": snapshot.Circular}
	if diff := cmp.Diff(want, res.Steps[2].Locals["o"]); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestTrace_NaNIsTransportable(t *testing.T) {
	res := trace(t, "let x = 0 / 0;\nlet y = [NaN, Infinity];\nx;\n")
	last := res.Steps[len(res.Steps)-1]
	assert.Equal(t, snapshot.NaN, last.Locals["x"])
	assert.Equal(t, []any{snapshot.NaN, snapshot.PosInf}, last.Locals["y"])

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestTrace_UncaughtExceptionAfterStatements(t *testing.T) {
	res := trace(t, `let a = 1;
a++;
throw new Error("boom");
a++;
`)
	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Steps, 4)
	assert.Equal(t, []int{1, 2, 3, record.TerminalLine}, res.Steps.Lines())
	last := res.Steps[3]
	assert.Equal(t, map[string]any{"error": "Error: boom"}, last.Locals)
	assert.Equal(t, []string{"error"}, last.Stack)
	assert.Equal(t, "Error: boom", res.Error)
	require.NotNil(t, res.Failure)
	assert.Equal(t, host.KindRuntime, res.Failure.Kind)
}

func TestTrace_BlockScopedNameBeforeDeclaration(t *testing.T) {
	res := trace(t, `{
  console.log("before");
  let x = 1;
  x;
}
`)
	require.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Steps, 3)
	assert.NotContains(t, res.Steps[0].Locals, "x")
	assert.NotContains(t, res.Steps[1].Locals, "x")
	assert.Equal(t, int64(1), res.Steps[2].Locals["x"])
}

func TestTrace_Idempotent(t *testing.T) {
	e := New(Options{Host: host.Limits{Seed: 42}})
	src := `const xs = [];
for (let i = 0; i < 4; i++) {
  xs.push(Math.floor(Math.random() * 100));
}
const m = new Map([["k", xs]]);
`
	a := traceWith(t, e, src)
	b := traceWith(t, e, src)
	if diff := cmp.Diff(a.Steps, b.Steps); diff != "" {
		t.Errorf("traces differ (-first +second):\n%s", diff)
	}
}

func TestTrace_SyntaxError(t *testing.T) {
	e := New(Options{})
	res := traceWith(t, e, "let x = 1;\nlet = = 2;\n")

	assert.Equal(t, StatusSyntaxError, res.Status)
	assert.Empty(t, res.Steps)
	assert.NotNil(t, res.Steps)
	require.NotNil(t, res.Syntax)
	assert.Equal(t, diag.SynUnexpectedToken, res.Syntax.Code)
	assert.Contains(t, res.Error, "main.js:2:")

	start, _ := e.Files().Resolve(res.Syntax.Primary)
	assert.Equal(t, uint32(2), start.Line)
	assert.Same(t, res.Syntax, res.Diagnostic(e.Files()))

	_, err := e.Instrument(context.Background(), Request{Name: "bad.js", Source: "if ("})
	var syn *SyntaxError
	require.True(t, errors.As(err, &syn))
	assert.Equal(t, "bad.js", syn.Name)
}

func TestTrace_EarlyError(t *testing.T) {
	res := trace(t, "let a = 1;\nlet a = 2;\n")
	require.Equal(t, StatusSyntaxError, res.Status)
	assert.Equal(t, diag.SynEarlyError, res.Syntax.Code)
}

func TestTrace_UnsupportedLanguage(t *testing.T) {
	_, err := New(Options{}).Trace(context.Background(), Request{Source: "print(1)", Language: "python"})
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	for _, hint := range []string{"", "js", "JavaScript", " ecmascript "} {
		lang, err := ResolveLanguage(hint)
		require.NoError(t, err, hint)
		assert.Equal(t, JavaScript, lang)
	}
}

func TestTrace_Timings(t *testing.T) {
	res := trace(t, "let a = 1;\n")
	for _, phase := range []string{"parse", "analyze", "instrument", "execute"} {
		_, ok := res.Timings.Lookup(phase)
		assert.True(t, ok, phase)
	}
	p, _ := res.Timings.Lookup("execute")
	assert.Equal(t, "1 steps", p.Note)
}

func TestTrace_Timeout(t *testing.T) {
	e := New(Options{Host: host.Limits{Timeout: 50 * time.Millisecond}})
	res := traceWith(t, e, "let i = 0;\nwhile (true) {}\n")

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, host.KindTimeout, res.Failure.Kind)
	assert.True(t, res.Steps.Failed())
	assert.Contains(t, res.Error, "TimeoutError")

	d := res.Diagnostic(e.Files())
	require.NotNil(t, d)
	assert.Equal(t, diag.RunTimeout, d.Code)
}

func TestTrace_StepLimit(t *testing.T) {
	e := New(Options{Record: record.Limits{MaxSteps: 10}})
	res := traceWith(t, e, "for (let i = 0; i < 100; i++) {\n  i;\n}\n")
	assert.Equal(t, host.KindStepLimit, res.Failure.Kind)
	assert.Len(t, res.Steps, 11)
}

func TestResult_Diagnostic(t *testing.T) {
	e := New(Options{})
	res := traceWith(t, e, `let a = 1;
function f() {
  throw new TypeError("bad");
}
f();
`)
	d := res.Diagnostic(e.Files())
	require.NotNil(t, d)
	assert.Equal(t, diag.RunUncaught, d.Code)
	assert.Equal(t, "TypeError: bad", d.Message)

	start, end := e.Files().Resolve(d.Primary)
	assert.Equal(t, uint32(3), start.Line)
	assert.Equal(t, uint32(3), end.Line)
	require.Len(t, d.Notes, 1)

	clean := traceWith(t, e, "1;\n")
	assert.Nil(t, clean.Diagnostic(e.Files()))
}

func TestTrace_EmitsTracingEvents(t *testing.T) {
	ring := tracing.NewRingTracer(256, tracing.LevelDebug)
	ctx := tracing.WithTracer(context.Background(), ring)
	res, err := New(Options{}).Trace(ctx, Request{Name: "t.js", Source: "let a = 1;\na++;\n"})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)

	var phases []string
	probes := 0
	for _, ev := range ring.Snapshot() {
		switch {
		case ev.Scope == tracing.ScopePhase && ev.Kind == tracing.KindSpanBegin:
			phases = append(phases, ev.Name)
		case ev.Scope == tracing.ScopeProbe:
			probes++
		}
	}
	assert.Equal(t, []string{"parse", "analyze", "instrument", "execute"}, phases)
	assert.Equal(t, 2, probes)
}

func TestTrace_Getters(t *testing.T) {
	t.Run("class", func(t *testing.T) {
		res := trace(t, `class Node {
  constructor(v) { this._v = v; }
  get value() { return this._v; }
}
const n = new Node(1);
let x = n.value;
x = x + 1;
`)
		require.Equal(t, StatusOK, res.Status, res.Error)
		assert.Equal(t, []int{1, 5, 2, 6, 3, 7}, res.Steps.Lines())
		last := res.Steps[len(res.Steps)-1]
		assert.Equal(t, int64(1), last.Locals["x"])
		assert.Equal(t, map[string]any{"_v": int64(1), "value": int64(1)}, last.Locals["n"])
	})

	t.Run("object literal", func(t *testing.T) {
		res := trace(t, "const o = {get value() { return 42; }};\nlet y = 1;\n")
		require.Equal(t, StatusOK, res.Status, res.Error)
		assert.Equal(t, []int{1, 2}, res.Steps.Lines())
		assert.Equal(t, map[string]any{"value": int64(42)}, res.Steps[1].Locals["o"])
	})
}

func TestTrace_TaggedTemplate(t *testing.T) {
	res := trace(t, "function tag(s) { return s[0]; }\nlet r = 0;\ntag`hi`;\nr = 1;\n")
	require.Equal(t, StatusOK, res.Status, res.Error)
	assert.Equal(t, []int{2, 3, 1, 4}, res.Steps.Lines())
}

func TestTrace_CommentInsideLeadingParens(t *testing.T) {
	res := trace(t, "function f() { return 1; }\n(/* call */ f)();\n")
	require.Equal(t, StatusOK, res.Status, res.Error)
	assert.Equal(t, []int{2, 1}, res.Steps.Lines())
}

func TestTrace_GuestCannotAddSteps(t *testing.T) {
	res := trace(t, "let a = 1;\n__cf$probe(99, 0, null);\na = 2;\n")
	require.Equal(t, StatusOK, res.Status, res.Error)
	assert.Equal(t, []int{1, 2, 3}, res.Steps.Lines())
}

func TestInstrument(t *testing.T) {
	p, err := New(Options{}).Instrument(context.Background(), Request{Name: "x.js", Source: "let a = 1;\r\nfunction f(b) { return a + b; }\r\n"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Instrument.Probes())
	assert.NotContains(t, p.Source, "\r")
	assert.Contains(t, p.Instrument.Source, "__cf$probe(")
	assert.True(t, p.Analysis.Global().Contains("b"))
}
