package diag

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/geeth24/codeflow/internal/source"
)

type shortLine struct {
	kind string
	code string
	path string
	line uint32
	col  uint32
	msg  string
}

func (l shortLine) String() string {
	if l.path == "" {
		return fmt.Sprintf("%s %s - %s", l.kind, l.code, l.msg)
	}
	return fmt.Sprintf("%s %s %s:%d:%d %s", l.kind, l.code, l.path, l.line, l.col, l.msg)
}

// FormatShort renders diagnostics one per line, sorted by position:
//
//	error SYN2001 path:line:col message
//
// Diagnostics without a file print "-" for the location and come first.
// Notes follow as separate "note" lines when includeNotes is set; notes
// without a file are skipped. Paths are relative to the file set's base
// directory.
func FormatShort(diags []Diagnostic, fs *source.FileSet, includeNotes bool) string {
	if fs == nil || len(diags) == 0 {
		return ""
	}

	lines := make([]shortLine, 0, len(diags))
	for _, d := range diags {
		l := locate(fs, d.Primary)
		l.kind, l.code, l.msg = d.Severity.Label(), d.Code.ID(), oneLine(d.Message)
		lines = append(lines, l)
		if !includeNotes {
			continue
		}
		for _, n := range d.Notes {
			nl := locate(fs, n.Span)
			if nl.path == "" {
				continue
			}
			nl.kind, nl.code, nl.msg = "note", d.Code.ID(), oneLine(n.Msg)
			lines = append(lines, nl)
		}
	}

	slices.SortStableFunc(lines, func(a, b shortLine) int {
		return cmp.Or(
			cmp.Compare(a.path, b.path),
			cmp.Compare(a.line, b.line),
			cmp.Compare(a.col, b.col),
		)
	})

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.String()
	}
	return strings.Join(out, "\n")
}

func locate(fs *source.FileSet, sp source.Span) shortLine {
	f := fs.Get(sp.File)
	if f == nil {
		return shortLine{}
	}
	start, _ := fs.Resolve(sp)
	return shortLine{
		path: f.FormatPath("relative", fs.BaseDir()),
		line: start.Line,
		col:  start.Col,
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
