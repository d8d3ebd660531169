package observ

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/source"
)

func TestTimer_Report(t *testing.T) {
	tm := NewTimer()
	parse := tm.Begin("parse")
	time.Sleep(time.Millisecond)
	first := tm.End(parse, "12 nodes")
	assert.Equal(t, first, tm.End(parse, "again"))

	open := tm.Begin("execute")
	_ = open

	r := tm.Report()
	require.Len(t, r.Phases, 1)
	assert.Equal(t, "parse", r.Phases[0].Name)
	assert.Equal(t, "12 nodes", r.Phases[0].Note)
	assert.GreaterOrEqual(t, r.TotalMS, 1.0)

	p, ok := r.Lookup("parse")
	assert.True(t, ok)
	assert.Equal(t, r.Phases[0], p)
	_, ok = r.Lookup("execute")
	assert.False(t, ok)
}

func TestTimer_OutOfRangeAndNil(t *testing.T) {
	tm := NewTimer()
	assert.Zero(t, tm.End(3, ""))
	assert.Equal(t, Report{}, tm.Report())

	var nilTimer *Timer
	assert.Equal(t, -1, nilTimer.Begin("x"))
	assert.Zero(t, nilTimer.End(0, ""))
	assert.Nil(t, nilTimer.Phases())
}

func TestTimer_Summary(t *testing.T) {
	tm := NewTimer()
	tm.End(tm.Begin("analyze"), "3 scopes")
	out := tm.Summary()
	assert.True(t, strings.HasPrefix(out, "timings:\n  analyze "))
	assert.Contains(t, out, "// 3 scopes\n")
	assert.Contains(t, out, "  total ")
}

func TestAppendTimingDiagnostic(t *testing.T) {
	bag := diag.NewBag(1)
	bag.Add(diag.NewError(diag.RunUncaught, source.Span{}, "boom"))

	tm := NewTimer()
	tm.End(tm.Begin("execute"), "")
	AppendTimingDiagnostic(bag, "", "fib.js", tm.Report())

	require.Equal(t, 2, bag.Len())
	d := bag.Items()[1]
	assert.Equal(t, diag.ObsTimings, d.Code)
	assert.Equal(t, diag.SevInfo, d.Severity)
	assert.Contains(t, d.Message, "timings (trace): total ")
	assert.Contains(t, d.Message, " for fib.js")

	require.Len(t, d.Notes, 1)
	var payload TimingPayload
	require.NoError(t, json.Unmarshal([]byte(d.Notes[0].Msg), &payload))
	assert.Equal(t, "trace", payload.Kind)
	require.Len(t, payload.Phases, 1)
	assert.Equal(t, "execute", payload.Phases[0].Name)

	AppendTimingDiagnostic(nil, "x", "", Report{})
}
