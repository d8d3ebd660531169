package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_ShouldEmit(t *testing.T) {
	assert.False(t, LevelOff.ShouldEmit(ScopeDriver))
	assert.True(t, LevelPhase.ShouldEmit(ScopePhase))
	assert.False(t, LevelPhase.ShouldEmit(ScopeHost))
	assert.True(t, LevelDetail.ShouldEmit(ScopeHost))
	assert.False(t, LevelDetail.ShouldEmit(ScopeProbe))
	assert.True(t, LevelDebug.ShouldEmit(ScopeProbe))

	l, err := ParseLevel("DETAIL")
	require.NoError(t, err)
	assert.Equal(t, LevelDetail, l)
	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestStreamTracer_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatNDJSON)

	root := Begin(tr, ScopeRun, "run:a.js", 0)
	child := Begin(tr, ScopePhase, "parse", root.ID())
	Point(tr, ScopeProbe, "step", "filtered out", child.ID())
	child.WithExtra("nodes", "12").End("")
	root.End("ok")
	require.NoError(t, tr.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	var evs []map[string]any
	for _, l := range lines {
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &ev))
		evs = append(evs, ev)
	}
	assert.Equal(t, "begin", evs[0]["kind"])
	assert.Equal(t, "run", evs[0]["scope"])
	assert.Equal(t, float64(root.ID()), evs[1]["parent_id"])
	assert.Equal(t, map[string]any{"nodes": "12"}, evs[2]["extra"])
	assert.Equal(t, "ok", evs[3]["detail"])
	assert.Less(t, evs[0]["seq"].(float64), evs[3]["seq"].(float64))
}

func TestStreamTracer_ChromeIsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDebug, FormatChrome)
	s := Begin(tr, ScopePhase, "execute", 0)
	Point(tr, ScopeProbe, "step", "line 3", s.ID())
	s.End("")
	require.NoError(t, tr.Close())
	Point(tr, ScopeProbe, "late", "", 0)

	var doc struct {
		TraceEvents []struct {
			Name string `json:"name"`
			Ph   string `json:"ph"`
			Cat  string `json:"cat"`
		} `json:"traceEvents"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc), buf.String())
	require.Len(t, doc.TraceEvents, 3)
	assert.Equal(t, "B", doc.TraceEvents[0].Ph)
	assert.Equal(t, "i", doc.TraceEvents[1].Ph)
	assert.Equal(t, "probe", doc.TraceEvents[1].Cat)
	assert.Equal(t, "E", doc.TraceEvents[2].Ph)
}

func TestStreamTracer_Text(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatAuto)
	s := Begin(tr, ScopePhase, "instrument", 7)
	s.WithExtra("b", "2").WithExtra("a", "1").End("3 probes")

	out := buf.String()
	assert.Contains(t, out, "  → instrument\n")
	assert.Contains(t, out, "  ← instrument (3 probes) {a=1, b=2} +")
	assert.True(t, strings.HasSuffix(out, "ms\n"))
}

func TestRingTracer_WrapsAndDumps(t *testing.T) {
	r := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		Point(r, ScopeProbe, name, "", 0)
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"c", "d", "e"}, []string{snap[0].Name, snap[1].Name, snap[2].Name})

	var buf bytes.Buffer
	require.NoError(t, r.Dump(&buf, FormatChrome))
	var doc map[string][]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc["traceEvents"], 3)
}

func TestMultiTracer_FansOut(t *testing.T) {
	var buf bytes.Buffer
	stream := NewStreamTracer(&buf, LevelPhase, FormatText)
	ring := NewRingTracer(8, LevelPhase)
	m := NewMultiTracer(LevelPhase, stream, ring)

	Begin(m, ScopeDriver, "batch", 0).End("")
	assert.Len(t, m.Ring().Snapshot(), 2)
	assert.Equal(t, 2, strings.Count(buf.String(), "batch"))
	require.NoError(t, m.Close())
}

func TestNew(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	require.NoError(t, err)
	assert.Equal(t, Nop, tr)

	var buf bytes.Buffer
	tr, err = New(Config{Level: LevelPhase, Mode: ModeBoth, Output: &buf})
	require.NoError(t, err)
	_, ok := tr.(*MultiTracer)
	assert.True(t, ok)

	_, err = New(Config{Level: LevelPhase})
	assert.Error(t, err)

	assert.Equal(t, FormatChrome, formatFor("out.chrome.json"))
	assert.Equal(t, FormatNDJSON, formatFor("out.ndjson"))
	assert.Equal(t, FormatText, formatFor("out.log"))
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Nop, FromContext(ctx))
	assert.Zero(t, CurrentSpan(ctx))

	r := NewRingTracer(4, LevelPhase)
	ctx = WithTracer(ctx, r)
	assert.Equal(t, Tracer(r), FromContext(ctx))

	s := Begin(r, ScopeRun, "run", 0)
	ctx = WithSpan(ctx, s)
	assert.Equal(t, s.ID(), CurrentSpan(ctx))
	assert.Equal(t, ctx, WithSpan(ctx, Begin(Nop, ScopeRun, "inert", 0)))
}

func TestSpan_InertStillMeasures(t *testing.T) {
	s := Begin(Nop, ScopePhase, "parse", 0)
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, s.End(""), 2*time.Millisecond)
	assert.Zero(t, s.ID())

	var nilSpan *Span
	assert.Zero(t, nilSpan.End(""))
}

func TestHeartbeat(t *testing.T) {
	assert.Nil(t, StartHeartbeat(Nop, time.Millisecond))

	r := NewRingTracer(64, LevelPhase)
	h := StartHeartbeat(r, time.Millisecond)
	require.NotNil(t, h)
	require.Eventually(t, func() bool { return len(r.Snapshot()) >= 2 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()
	first := r.Snapshot()[0]
	assert.Equal(t, KindHeartbeat, first.Kind)
	assert.Equal(t, "#1", first.Detail)
	assert.NotEmpty(t, first.Extra["goroutines"])
}

func TestRingTracer_Reset(t *testing.T) {
	r := NewRingTracer(2, LevelPhase)
	Point(r, ScopeRun, "a", "", 0)
	assert.Equal(t, 1, r.Len())
	r.Reset()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestEmits(t *testing.T) {
	assert.False(t, Emits(nil, ScopeDriver))
	assert.False(t, Emits(Nop, ScopeDriver))
	assert.True(t, Emits(NewRingTracer(1, LevelDetail), ScopeHost))
	assert.False(t, Emits(NewRingTracer(1, LevelDetail), ScopeProbe))

	m, err := ParseMode(" Both ")
	require.NoError(t, err)
	assert.Equal(t, ModeBoth, m)
	assert.Equal(t, "both", m.String())
	_, err = ParseMode("disk")
	assert.Error(t, err)
}

func TestSpan_EndCarriesElapsed(t *testing.T) {
	r := NewRingTracer(4, LevelPhase)
	s := Begin(r, ScopePhase, "execute", 0)
	time.Sleep(time.Millisecond)
	d := s.End("done")
	evs := r.Snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, KindSpanEnd, evs[1].Kind)
	assert.Equal(t, d, evs[1].Elapsed)
	assert.Equal(t, evs[0].SpanID, evs[1].SpanID)
}
