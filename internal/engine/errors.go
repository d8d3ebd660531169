package engine

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/jsast"
	"github.com/geeth24/codeflow/internal/source"
)

// SyntaxError reports a guest program that could not be parsed. No trace is
// produced for it.
type SyntaxError struct {
	Name       string
	File       source.FileID
	Diagnostic diag.Diagnostic
	Err        *jsast.ParseError
}

func (e *SyntaxError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Diagnostic.Message)
}

func (e *SyntaxError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// syntaxDiagnostic converts a parse error into a SYN diagnostic pointing at
// the offending character of file.
func syntaxDiagnostic(f *source.File, pe *jsast.ParseError) diag.Diagnostic {
	code := diag.SynUnexpectedToken
	if pe.Early {
		code = diag.SynEarlyError
	}
	size := len(f.Content)
	start, err := safecast.Conv[uint32](min(max(pe.Offset, 0), size))
	if err != nil {
		panic(fmt.Errorf("syntax error offset overflow: %w", err))
	}
	end := start
	if int(start) < size {
		end++
	}
	d := diag.NewError(code, source.Span{File: f.ID, Start: start, End: end}, pe.Message)
	if pe.More > 0 {
		d = d.WithNote(source.Span{}, fmt.Sprintf("%d more errors not shown", pe.More))
	}
	return d
}
