package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/diagfmt"
	"github.com/geeth24/codeflow/internal/engine"
)

func tree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	return dir
}

func TestListFiles(t *testing.T) {
	dir := tree(t, map[string]string{
		"b.js":                 "",
		"a.js":                 "",
		"notes.txt":            "",
		"lib/c.js":             "",
		".cache/d.js":          "",
		"node_modules/x/e.js":  "",
		"lib/deeper/f.test.js": "",
	})
	files, err := ListFiles(dir, "")
	require.NoError(t, err)
	rel := make([]string, len(files))
	for i, f := range files {
		r, err := filepath.Rel(dir, f)
		require.NoError(t, err)
		rel[i] = filepath.ToSlash(r)
	}
	assert.Equal(t, []string{"a.js", "b.js", "lib/c.js", "lib/deeper/f.test.js"}, rel)

	files, err = ListFiles(dir, "*.test.js")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = ListFiles(dir, "[")
	assert.Error(t, err)
}

type recorder struct {
	mu     sync.Mutex
	events map[string][]Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.File] = append(r.events[e.File], e)
}

func TestRun(t *testing.T) {
	dir := tree(t, map[string]string{
		"ok.js":     "let a = 1;\na++;\n",
		"syntax.js": "let = = 1;\n",
		"throws.js": "let a = 1;\nthrow new RangeError('nope');\n",
	})
	rec := &recorder{events: make(map[string][]Event)}
	eng := engine.New(engine.Options{})

	report, err := Run(context.Background(), eng, Request{Dir: dir, Jobs: 2, Progress: rec, Timings: true})
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	byName := map[string]FileResult{}
	for _, fr := range report.Results {
		byName[filepath.Base(fr.Path)] = fr
	}
	assert.True(t, byName["ok.js"].OK())
	assert.Len(t, byName["ok.js"].Result.Steps, 2)
	assert.Equal(t, engine.StatusSyntaxError, byName["syntax.js"].Result.Status)
	assert.Equal(t, engine.StatusError, byName["throws.js"].Result.Status)
	assert.Equal(t, 2, report.Failed())

	var codes []diag.Code
	timings := 0
	for _, d := range report.Bag.Items() {
		if d.Code == diag.ObsTimings {
			timings++
			continue
		}
		codes = append(codes, d.Code)
	}
	assert.ElementsMatch(t, []diag.Code{diag.SynUnexpectedToken, diag.RunUncaught}, codes)
	assert.Equal(t, 3, timings)

	for _, fr := range report.Results {
		evs := rec.events[fr.Path]
		require.NotEmpty(t, evs, fr.Path)
		assert.Equal(t, StatusQueued, evs[0].Status)
		last := evs[len(evs)-1]
		assert.Equal(t, StageTrace, last.Stage)
		if fr.OK() {
			assert.Equal(t, StatusDone, last.Status)
			assert.Equal(t, 2, last.Steps)
		} else {
			assert.Equal(t, StatusError, last.Status)
			assert.Error(t, last.Err)
		}
	}

	var buf bytes.Buffer
	diagfmt.Pretty(&buf, report.Bag, report.Files, diagfmt.PrettyOpts{PathMode: diagfmt.PathModeBasename})
	assert.Contains(t, buf.String(), "throws.js:2:1: ERROR RUN3001: RangeError: nope")
	assert.Contains(t, buf.String(), "syntax.js:1:")
}

func TestRun_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.js")
	report, err := Run(context.Background(), engine.New(engine.Options{}), Request{Files: []string{missing}})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Error(t, report.Results[0].Err)
	assert.Nil(t, report.Results[0].Result)

	require.Equal(t, 1, report.Bag.Len())
	d := report.Bag.Items()[0]
	assert.Equal(t, diag.IOLoadFileError, d.Code)

	var buf bytes.Buffer
	diagfmt.Pretty(&buf, report.Bag, report.Files, diagfmt.PrettyOpts{})
	assert.Contains(t, buf.String(), "ERROR IO4001: "+missing)
}

func TestRun_Cancelled(t *testing.T) {
	dir := tree(t, map[string]string{"a.js": "1;\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, engine.New(engine.Options{}), Request{Dir: dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChannelSink(t *testing.T) {
	ch := make(chan Event, 1)
	ChannelSink{Ch: ch}.OnEvent(Event{File: "x.js", Status: StatusDone})
	assert.Equal(t, "x.js", (<-ch).File)
	ChannelSink{}.OnEvent(Event{})
}
