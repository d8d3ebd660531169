package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/diagfmt"
	"github.com/geeth24/codeflow/internal/engine"
)

var instrumentCmd = &cobra.Command{
	Use:   "instrument [flags] <file.js|->",
	Short: "Print the program with probes inserted",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstrument,
}

func init() {
	instrumentCmd.Flags().Bool("sites", false, "list probe sites instead of the rewritten source")
	instrumentCmd.Flags().String("language", "", "guest language (default: javascript)")
}

func runInstrument(cmd *cobra.Command, args []string) (err error) {
	s, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer func() { s.close(err != nil) }()

	sites, err := cmd.Flags().GetBool("sites")
	if err != nil {
		return fmt.Errorf("failed to get sites flag: %w", err)
	}
	prep, err := prepareProgram(cmd, s, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !sites {
		_, err = io.WriteString(out, prep.Instrument.Source)
		return err
	}
	for _, site := range prep.Instrument.Sites {
		sc := prep.Analysis.Scope(site.Scope)
		fmt.Fprintf(out, "L%-4d scope %-3d %-8s %s\n", site.Line, site.Scope, sc.Kind, strings.Join(prep.Analysis.Visible(site.Scope), ", "))
	}
	fmt.Fprintf(out, "%d probes on %d lines\n", prep.Instrument.Probes(), len(prep.Instrument.Lines))
	return nil
}

// prepareProgram reads and instruments the program at path. Syntax errors
// are printed as diagnostics and reported as errReported.
func prepareProgram(cmd *cobra.Command, s *session, path string) (*engine.Prepared, error) {
	language, err := cmd.Flags().GetString("language")
	if err != nil {
		return nil, fmt.Errorf("failed to get language flag: %w", err)
	}
	name, src, err := readProgram(cmd, path)
	if err != nil {
		return nil, err
	}
	eng, err := s.engine()
	if err != nil {
		return nil, err
	}
	prep, err := eng.Instrument(s.ctx, engine.Request{Name: name, Source: src, Language: language})
	var syn *engine.SyntaxError
	if errors.As(err, &syn) {
		bag := diag.NewBag(s.maxDiagnostics)
		bag.Add(syn.Diagnostic)
		diagfmt.Pretty(cmd.ErrOrStderr(), bag, eng.Files(), diagfmt.PrettyOpts{
			Color:     s.errColor,
			Context:   1,
			ShowNotes: true,
		})
		return nil, errReported
	}
	return prep, err
}
