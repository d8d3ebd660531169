package record

import (
	"errors"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geeth24/codeflow/internal/scope"
	"github.com/geeth24/codeflow/internal/snapshot"
)

type names map[scope.ID]scope.IdentifierSet

func (n names) Visible(id scope.ID) scope.IdentifierSet { return n[id] }

func newRecorder(t *testing.T, ns NameSource, lim Limits) (*goja.Runtime, *Recorder) {
	t.Helper()
	rt := goja.New()
	rec := NewRecorder(rt, snapshot.New(rt, snapshot.Limits{}), ns, lim)
	require.NoError(t, rt.Set("probe", rec.Probe))
	return rt, rec
}

const eval2 = `(n) => { switch (n) { case "x": return x; case "y": return y; } }`

func TestRecorder_SkipsUninitialisedNames(t *testing.T) {
	rt, rec := newRecorder(t, names{0: {"x", "y"}}, Limits{})
	_, err := rt.RunString(`
let x = 1;
probe(2, 0, ` + eval2 + `);
let y = x + 1;
probe(4, 0, ` + eval2 + `);
`)
	require.NoError(t, err)

	steps := rec.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, Step{Step: 1, Line: 2, Locals: map[string]any{"x": int64(1)}, Stack: []string{MainFrame}}, steps[0])
	assert.Equal(t, Step{Step: 2, Line: 4, Locals: map[string]any{"x": int64(1), "y": int64(2)}, Stack: []string{MainFrame}}, steps[1])
}

func TestRecorder_NullEvaluator(t *testing.T) {
	rt, rec := newRecorder(t, names{0: {"x"}}, Limits{})
	_, err := rt.RunString(`probe(1, 0, null); probe(2, 0); probe();`)
	require.NoError(t, err)

	steps := rec.Steps()
	require.Len(t, steps, 2)
	assert.Empty(t, steps[0].Locals)
	assert.NotNil(t, steps[0].Locals)
	assert.Equal(t, []int{1, 2}, steps.Lines())
}

func TestRecorder_Stack(t *testing.T) {
	rt, rec := newRecorder(t, nil, Limits{})
	_, err := rt.RunString(`
function inner() { probe(2, 0, null); }
function outer() { inner(); }
outer();
[1].forEach(function () { probe(5, 0, null); });
probe(6, 0, null);
`)
	require.NoError(t, err)

	steps := rec.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"inner", "outer"}, steps[0].Stack)
	assert.Equal(t, []string{"anonymous"}, steps[1].Stack)
	assert.Equal(t, []string{MainFrame}, steps[2].Stack)
}

func TestRecorder_StackDepthLimit(t *testing.T) {
	rt, rec := newRecorder(t, nil, Limits{MaxStackDepth: 4})
	_, err := rt.RunString(`
function down(n) { if (n === 0) { probe(2, 0, null); return; } down(n - 1); }
down(10);
`)
	require.NoError(t, err)

	steps := rec.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, []string{"down", "down", "down", "down"}, steps[0].Stack)
}

func TestRecorder_StepLimitInterrupts(t *testing.T) {
	rt, rec := newRecorder(t, nil, Limits{MaxSteps: 3})
	_, err := rt.RunString(`for (let i = 0; i < 100; i++) { probe(1, 0, null); }`)
	require.Error(t, err)

	var interrupted *goja.InterruptedError
	require.True(t, errors.As(err, &interrupted))
	assert.Equal(t, ErrStepLimit, interrupted.Value())
	assert.True(t, rec.Limited())
	assert.Equal(t, 3, rec.Len())
}

func TestRecorder_FailAndSeal(t *testing.T) {
	rt, rec := newRecorder(t, nil, Limits{})
	_, err := rt.RunString(`probe(1, 0, null); probe(2, 0, null);`)
	require.NoError(t, err)

	rec.Fail("Error: boom")
	rec.Fail("ignored")
	rec.Seal()
	rec.Fail("after seal")
	_, err = rt.RunString(`probe(3, 0, null);`)
	require.NoError(t, err)

	steps := rec.Steps()
	require.Len(t, steps, 3)
	last := steps[2]
	assert.True(t, last.Terminal())
	assert.Equal(t, 3, last.Step)
	assert.Equal(t, TerminalLine, last.Line)
	assert.Equal(t, "Error: boom", last.Error())
	assert.Equal(t, []string{"error"}, last.Stack)
	assert.True(t, steps.Failed())
	assert.Equal(t, "", steps[0].Error())
}

func TestRecorder_StepsAreSequential(t *testing.T) {
	rt, rec := newRecorder(t, nil, Limits{})
	_, err := rt.RunString(`
function fib(n) { probe(2, 0, null); return n < 2 ? n : fib(n - 1) + fib(n - 2); }
fib(6);
`)
	require.NoError(t, err)

	steps := rec.Steps()
	require.NotEmpty(t, steps)
	for i, s := range steps {
		assert.Equal(t, i+1, s.Step)
	}
}

func TestRecorder_StepsIsACopy(t *testing.T) {
	rt, rec := newRecorder(t, nil, Limits{})
	_, err := rt.RunString(`probe(1, 0, null);`)
	require.NoError(t, err)

	a := rec.Steps()
	a[0].Line = 99
	assert.Equal(t, 1, rec.Steps()[0].Line)
}

func TestRecorder_GetterCallsDuringRecordingAreIgnored(t *testing.T) {
	rt, rec := newRecorder(t, names{0: {"o"}}, Limits{})
	_, err := rt.RunString(`
const o = { get value() { probe(2, 0, () => o); return 42; } };
probe(3, 0, () => o);
o.value;
`)
	require.NoError(t, err)

	steps := rec.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, []int{3, 2}, steps.Lines())
	for _, s := range steps {
		assert.Equal(t, map[string]any{"value": int64(42)}, s.Locals["o"])
	}
}

func TestRecorder_RequireToken(t *testing.T) {
	rt, rec := newRecorder(t, nil, Limits{})
	rec.RequireToken("T0K")
	_, err := rt.RunString(`probe(1, 0, null, "T0K"); probe(99, 0, null); probe(98, 0, null, "guess");`)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, rec.Steps().Lines())
}

func TestRecorder_NilSafe(t *testing.T) {
	var rec *Recorder
	rec.Fail("x")
	rec.Seal()
	assert.Nil(t, rec.Steps())
	assert.Zero(t, rec.Len())
	assert.False(t, rec.Limited())
}
