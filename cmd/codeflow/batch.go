package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/geeth24/codeflow/internal/batch"
	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/diagfmt"
	"github.com/geeth24/codeflow/internal/engine"
	"github.com/geeth24/codeflow/internal/source"
	"github.com/geeth24/codeflow/internal/tracefmt"
)

var batchCmd = &cobra.Command{
	Use:   "batch [flags] <dir|file...>",
	Short: "Trace many programs in parallel",
	Long: `Batch traces every program under a directory, or the files given, and
prints one summary line per file followed by the diagnostics of the files
that failed. With --out-dir each trace is also written to its own file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntP("jobs", "j", 0, "max parallel runs (overrides [batch].jobs, 0=auto)")
	batchCmd.Flags().String("pattern", "", "file name glob for directories (overrides [batch].pattern)")
	batchCmd.Flags().String("ui", "auto", "progress view (auto|on|off)")
	batchCmd.Flags().String("out-dir", "", "write each trace into this directory")
	batchCmd.Flags().StringP("format", "f", "", "format of the files in --out-dir (json|ndjson|yaml|msgpack|text)")
	batchCmd.Flags().String("input", "", "program input given to every file")
	batchCmd.Flags().String("diag-format", "pretty", "diagnostics format (pretty|json|short)")
	batchCmd.Flags().String("path-mode", "auto", "how diagnostics show paths (auto|absolute|relative|basename)")
	addLimitFlags(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) (err error) {
	s, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer func() { s.close(err != nil) }()

	if err = s.applyLimitFlags(cmd); err != nil {
		return err
	}
	fl := cmd.Flags()
	if fl.Changed("jobs") {
		jobs, err := fl.GetInt("jobs")
		if err != nil {
			return fmt.Errorf("failed to get jobs flag: %w", err)
		}
		s.cfg.Batch.Jobs = int64(jobs)
	}
	if fl.Changed("pattern") {
		if s.cfg.Batch.Pattern, err = fl.GetString("pattern"); err != nil {
			return fmt.Errorf("failed to get pattern flag: %w", err)
		}
	}
	uiValue, err := fl.GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	diagFormat, err := fl.GetString("diag-format")
	if err != nil {
		return fmt.Errorf("failed to get diag-format flag: %w", err)
	}
	switch diagFormat {
	case "pretty", "json", "short":
	default:
		return fmt.Errorf("invalid --diag-format %q (expected pretty|json|short)", diagFormat)
	}
	pathModeValue, err := fl.GetString("path-mode")
	if err != nil {
		return fmt.Errorf("failed to get path-mode flag: %w", err)
	}
	outDir, err := fl.GetString("out-dir")
	if err != nil {
		return fmt.Errorf("failed to get out-dir flag: %w", err)
	}
	format, err := outputFormat(cmd, s)
	if err != nil {
		return err
	}
	input, err := fl.GetString("input")
	if err != nil {
		return fmt.Errorf("failed to get input flag: %w", err)
	}

	files, err := batchFiles(args, s.cfg.Batch.Pattern)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		if !s.quiet {
			fmt.Fprintln(cmd.ErrOrStderr(), "no files to trace")
		}
		return nil
	}

	eng, err := s.engine()
	if err != nil {
		return err
	}
	req := batch.Request{
		Files:          files,
		Jobs:           s.cfg.Jobs(),
		Input:          input,
		MaxDiagnostics: s.maxDiagnostics,
		Timings:        s.timings,
	}

	var report *batch.Report
	if shouldUseTUI(mode, diagFormat == "json") {
		report, err = runBatchWithUI(s.ctx, "trace", eng, req)
	} else {
		report, err = batch.Run(s.ctx, eng, req)
	}
	if err != nil {
		return err
	}

	if outDir != "" {
		if err = writeBatchOutputs(outDir, report, format); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if diagFormat == "json" {
		if err = diagfmt.JSON(out, report.Bag, report.Files, diagfmt.JSONOpts{
			IncludePositions: true,
			PathMode:         diagfmt.ParsePathMode(pathModeValue),
			Max:              s.maxDiagnostics,
			IncludeNotes:     true,
		}); err != nil {
			return err
		}
	} else {
		if !s.quiet {
			for _, fr := range report.Results {
				fmt.Fprintln(out, batchLine(fr, s.color))
			}
		}
		if diagFormat == "short" {
			if short := diag.FormatShort(report.Bag.Items(), report.Files, true); short != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), short)
			}
		} else {
			diagfmt.Pretty(cmd.ErrOrStderr(), report.Bag, report.Files, diagfmt.PrettyOpts{
				Color:     s.errColor,
				Context:   1,
				PathMode:  diagfmt.ParsePathMode(pathModeValue),
				ShowNotes: true,
			})
		}
		if !s.quiet {
			fmt.Fprintf(out, "%d files, %d failed in %s\n", len(report.Results), report.Failed(), report.Elapsed.Round(time.Millisecond))
		}
	}
	if report.Failed() > 0 {
		return errReported
	}
	return nil
}

// batchFiles expands the arguments: a single directory is walked with
// pattern, anything else is taken as a list of files.
func batchFiles(args []string, pattern string) ([]string, error) {
	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return batch.ListFiles(args[0], pattern)
		}
	}
	return args, nil
}

func batchLine(fr batch.FileResult, colored bool) string {
	if fr.Result == nil {
		return fmt.Sprintf("%-24s %v", fr.Path, fr.Err)
	}
	return tracefmt.Summary(fr.Result, colored)
}

var formatExt = map[tracefmt.Format]string{
	tracefmt.FormatJSON:    ".json",
	tracefmt.FormatNDJSON:  ".ndjson",
	tracefmt.FormatYAML:    ".yaml",
	tracefmt.FormatMsgpack: ".msgpack",
	tracefmt.FormatText:    ".txt",
}

// writeBatchOutputs writes one trace file per result into dir.
func writeBatchOutputs(dir string, report *batch.Report, format tracefmt.Format) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	for _, fr := range report.Results {
		if fr.Result == nil {
			continue
		}
		name := strings.TrimSuffix(source.BaseName(fr.Path), filepath.Ext(fr.Path)) + formatExt[format]
		if err := writeTraceFile(filepath.Join(dir, name), fr.Result, format, report); err != nil {
			return err
		}
	}
	return nil
}

func writeTraceFile(path string, res *engine.Result, format tracefmt.Format, report *batch.Report) (err error) {
	opts := tracefmt.Options{}
	if f := report.Files.Get(res.File); f != nil {
		opts.Source = string(f.Content)
	}
	// #nosec G304 -- path is built from --out-dir
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	w := bufio.NewWriter(f)
	if err := tracefmt.Write(w, res, format, opts); err != nil {
		return err
	}
	return w.Flush()
}
