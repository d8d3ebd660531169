package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"fortio.org/safecast"
	"github.com/spf13/cobra"

	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/diagfmt"
	"github.com/geeth24/codeflow/internal/engine"
	"github.com/geeth24/codeflow/internal/tracefmt"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <file.js|->",
	Short: "Trace a program and print its steps",
	Long: `Run executes a program with probes inserted before every statement and
prints the recorded steps. Use - to read the program from stdin.

The command exits with status 1 when the program does not parse or stops
with an error; the partial trace is still written.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecution,
}

func init() {
	runCmd.Flags().StringP("format", "f", "", "output format (text|json|ndjson|yaml|msgpack)")
	runCmd.Flags().StringP("output", "o", "", "write the trace to this file instead of stdout")
	runCmd.Flags().String("input", "", "text returned by prompt() and readline(), one line per call")
	runCmd.Flags().String("input-file", "", "read program input from this file")
	runCmd.Flags().String("language", "", "guest language (default: javascript)")
	runCmd.Flags().Int("width", 0, "text output width (overrides [output].width)")
	runCmd.Flags().Bool("compact", false, "compact json output")
	runCmd.Flags().Bool("no-source", false, "omit source lines from text output")
	addLimitFlags(runCmd)
}

// withSource fills opts.Source from the engine's copy of the program unless
// --no-source was given.
func withSource(cmd *cobra.Command, opts tracefmt.Options, eng *engine.Engine, res *engine.Result) (tracefmt.Options, error) {
	noSource, err := cmd.Flags().GetBool("no-source")
	if err != nil {
		return opts, fmt.Errorf("failed to get no-source flag: %w", err)
	}
	if noSource {
		return opts, nil
	}
	if f := eng.Files().Get(res.File); f != nil {
		opts.Source = string(f.Content)
	}
	return opts, nil
}

func runExecution(cmd *cobra.Command, args []string) (err error) {
	s, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer func() { s.close(err != nil) }()

	if err = s.applyLimitFlags(cmd); err != nil {
		return err
	}
	format, err := outputFormat(cmd, s)
	if err != nil {
		return err
	}
	opts, err := textOptions(cmd, s)
	if err != nil {
		return err
	}

	name, src, err := readProgram(cmd, args[0])
	if err != nil {
		return err
	}
	input, err := readInput(cmd)
	if err != nil {
		return err
	}
	language, err := cmd.Flags().GetString("language")
	if err != nil {
		return fmt.Errorf("failed to get language flag: %w", err)
	}

	eng, err := s.engine()
	if err != nil {
		return err
	}
	res, err := eng.Trace(s.ctx, engine.Request{Name: name, Source: src, Language: language, Input: input})
	if err != nil {
		return err
	}

	outPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	if res.Status != engine.StatusSyntaxError {
		if opts, err = withSource(cmd, opts, eng, res); err != nil {
			return err
		}
		if err = writeResult(cmd, res, format, opts, outPath); err != nil {
			return err
		}
	}

	if s.timings {
		fmt.Fprintln(cmd.ErrOrStderr(), res.Timings.Summary())
	}
	if d := res.Diagnostic(eng.Files()); d != nil {
		if !s.quiet || res.Status == engine.StatusSyntaxError {
			bag := diag.NewBag(s.maxDiagnostics)
			bag.Add(*d)
			diagfmt.Pretty(cmd.ErrOrStderr(), bag, eng.Files(), diagfmt.PrettyOpts{
				Color:     s.errColor,
				Context:   1,
				ShowNotes: true,
			})
		}
		return errReported
	}
	return nil
}

// outputFormat picks the trace format from the flag or the config.
func outputFormat(cmd *cobra.Command, s *session) (tracefmt.Format, error) {
	v, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", fmt.Errorf("failed to get format flag: %w", err)
	}
	if v == "" {
		v = s.cfg.Output.Format
	}
	return tracefmt.ParseFormat(v)
}

func textOptions(cmd *cobra.Command, s *session) (tracefmt.Options, error) {
	opts := tracefmt.Options{Color: s.color}
	width, err := cmd.Flags().GetInt("width")
	if err != nil {
		return opts, fmt.Errorf("failed to get width flag: %w", err)
	}
	if width <= 0 {
		if width, err = safecast.Conv[int](s.cfg.Output.Width); err != nil {
			return opts, fmt.Errorf("[output].width: %w", err)
		}
	}
	opts.Width = width
	if opts.Compact, err = cmd.Flags().GetBool("compact"); err != nil {
		return opts, fmt.Errorf("failed to get compact flag: %w", err)
	}
	return opts, nil
}

// readProgram returns the display name and contents of the program at path,
// or of stdin for "-".
func readProgram(cmd *cobra.Command, path string) (name, src string, err error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return "<stdin>", string(data), nil
	}
	// #nosec G304 -- path is provided by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return path, string(data), nil
}

func readInput(cmd *cobra.Command) (string, error) {
	input, err := cmd.Flags().GetString("input")
	if err != nil {
		return "", fmt.Errorf("failed to get input flag: %w", err)
	}
	inputFile, err := cmd.Flags().GetString("input-file")
	if err != nil {
		return "", fmt.Errorf("failed to get input-file flag: %w", err)
	}
	if inputFile == "" {
		return input, nil
	}
	if input != "" {
		return "", errors.New("--input and --input-file are mutually exclusive")
	}
	// #nosec G304 -- path is provided by the user
	data, err := os.ReadFile(inputFile)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeResult writes res to outPath, or stdout when empty.
func writeResult(cmd *cobra.Command, res *engine.Result, format tracefmt.Format, opts tracefmt.Options, outPath string) (err error) {
	if outPath == "" {
		if format.Binary() && isTerminal(os.Stdout) {
			return fmt.Errorf("refusing to write %s to a terminal, use --output", format)
		}
		w := bufio.NewWriter(cmd.OutOrStdout())
		if err := tracefmt.Write(w, res, format, opts); err != nil {
			return err
		}
		return w.Flush()
	}

	// Цвет в файл не пишем
	opts.Color = false
	// #nosec G304 -- path is provided by the user
	f, err := os.Create(outPath)
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
