package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geeth24/codeflow/internal/ctxlog"
	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/engine"
	"github.com/geeth24/codeflow/internal/observ"
	"github.com/geeth24/codeflow/internal/source"
	"github.com/geeth24/codeflow/internal/tracing"
)

// Request selects the files of a batch.
type Request struct {
	Dir      string
	Pattern  string // file name glob, "*.js" when empty
	Files    []string
	Jobs     int // 0 means GOMAXPROCS
	Input    string
	Progress ProgressSink
	// MaxDiagnostics bounds the report bag; 0 means no limit.
	MaxDiagnostics int
	Timings        bool
}

// FileResult is the outcome for one file. Exactly one of Result and Err is
// set.
type FileResult struct {
	Path   string
	Result *engine.Result
	Err    error
}

// OK reports whether the file traced cleanly.
func (r FileResult) OK() bool {
	return r.Err == nil && r.Result != nil && r.Result.Status == engine.StatusOK
}

// Report is the outcome of a batch in file order.
type Report struct {
	Results []FileResult
	Bag     *diag.Bag
	Files   *source.FileSet
	Elapsed time.Duration
}

// Failed counts files that did not trace cleanly.
func (r *Report) Failed() int {
	n := 0
	for _, fr := range r.Results {
		if !fr.OK() {
			n++
		}
	}
	return n
}

// ListFiles returns the files under dir whose base name matches pattern,
// sorted for a deterministic order.
func ListFiles(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.js"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (d.Name() == "node_modules" || d.Name()[0] == '.') {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// Run traces every selected file with eng. Failures of individual files
// are reported per file; the returned error is reserved for listing
// failures and cancellation.
func Run(ctx context.Context, eng *engine.Engine, req Request) (*Report, error) {
	start := time.Now()
	log := ctxlog.FromContext(ctx)
	tr := tracing.FromContext(ctx)
	span := tracing.Begin(tr, tracing.ScopeDriver, "batch", tracing.CurrentSpan(ctx))
	ctx = tracing.WithSpan(ctx, span)

	files := req.Files
	if len(files) == 0 {
		var err error
		if files, err = ListFiles(req.Dir, req.Pattern); err != nil {
			span.End("failed")
			return nil, err
		}
	}
	sink := req.Progress
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	for _, path := range files {
		sink.OnEvent(Event{File: path, Stage: StageLoad, Status: StatusQueued})
	}

	jobs := req.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	log.Debug("batch started", "files", len(files), "jobs", jobs)

	// индексы уникальны для каждой горутины, мьютекс не нужен
	results := make([]FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(min(jobs, len(files)), 1))
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = traceFile(gctx, eng, path, req.Input, sink)
			tracing.Point(tr, tracing.ScopeDriver, "file", path, span.ID())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.End("cancelled")
		return nil, err
	}

	report := &Report{
		Results: results,
		Bag:     diag.NewBag(req.MaxDiagnostics),
		Files:   eng.Files(),
		Elapsed: time.Since(start),
	}
	for _, fr := range results {
		collect(report, fr, req.Timings)
	}
	report.Bag.Sort()
	span.WithExtra("failed", fmt.Sprint(report.Failed())).End(fmt.Sprintf("%d files", len(files)))
	log.Debug("batch finished", "files", len(files), "failed", report.Failed(), "elapsed", report.Elapsed)
	return report, nil
}

func traceFile(ctx context.Context, eng *engine.Engine, path, input string, sink ProgressSink) FileResult {
	start := time.Now()
	sink.OnEvent(Event{File: path, Stage: StageLoad, Status: StatusWorking})
	// #nosec G304 -- path comes from the directory walk or the command line
	raw, err := os.ReadFile(path)
	if err != nil {
		sink.OnEvent(Event{File: path, Stage: StageLoad, Status: StatusError, Err: err, Elapsed: time.Since(start)})
		return FileResult{Path: path, Err: err}
	}

	sink.OnEvent(Event{File: path, Stage: StageTrace, Status: StatusWorking})
	res, err := eng.Trace(ctx, engine.Request{Name: path, Source: string(raw), Input: input})
	evt := Event{File: path, Stage: StageTrace, Status: StatusDone, Elapsed: time.Since(start)}
	switch {
	case err != nil:
		evt.Status, evt.Err = StatusError, err
	case res.Status != engine.StatusOK:
		evt.Status, evt.Err = StatusError, errors.New(res.Error)
	}
	if res != nil {
		evt.Steps = len(res.Steps)
	}
	sink.OnEvent(evt)
	return FileResult{Path: path, Result: res, Err: err}
}

func collect(report *Report, fr FileResult, timings bool) {
	if fr.Err != nil {
		code := diag.IOLoadFileError
		if errors.Is(fr.Err, engine.ErrUnsupportedLanguage) {
			code = diag.InsUnsupportedLanguage
		} else if !isIOError(fr.Err) {
			code = diag.InsInvalidRewrite
		}
		d := diag.NewError(code, source.Span{File: source.NoFile}, fmt.Sprintf("%s: %v", fr.Path, fr.Err))
		report.Bag.Add(d)
		return
	}
	if d := fr.Result.Diagnostic(report.Files); d != nil {
		report.Bag.Add(*d)
	}
	if timings {
		observ.AppendTimingDiagnostic(report.Bag, "trace", fr.Path, fr.Result.Timings)
	}
}

func isIOError(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) || errors.Is(err, source.ErrNotUTF8)
}
