package diagfmt

import (
	"encoding/json"
	"io"

	"github.com/geeth24/codeflow/internal/diag"
	"github.com/geeth24/codeflow/internal/source"
)

// Position is a 1-based line and column.
type Position struct {
	Line uint32 `json:"line"`
	Col  uint32 `json:"col"`
}

// Location is a span resolved against the file set. It is absent from the
// output for diagnostics that concern no guest file.
type Location struct {
	File      string    `json:"file"`
	StartByte uint32    `json:"start_byte"`
	EndByte   uint32    `json:"end_byte"`
	Start     *Position `json:"start,omitempty"`
	End       *Position `json:"end,omitempty"`
}

type NoteEntry struct {
	Message  string    `json:"message"`
	Location *Location `json:"location,omitempty"`
}

// Entry is one diagnostic of the JSON document.
type Entry struct {
	Severity diag.Severity `json:"severity"`
	Code     string        `json:"code"`
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Location *Location     `json:"location,omitempty"`
	Notes    []NoteEntry   `json:"notes,omitempty"`
}

// Summary counts what the document holds and what was left out of it.
type Summary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
	// Dropped were rejected by the bag limit, Truncated by JSONOpts.Max.
	Dropped   int `json:"dropped,omitempty"`
	Truncated int `json:"truncated,omitempty"`
}

// Document is the root of the JSON output.
type Document struct {
	Diagnostics []Entry `json:"diagnostics"`
	Count       int     `json:"count"`
	Summary     Summary `json:"summary"`
}

type locator struct {
	fs   *source.FileSet
	opts JSONOpts
}

func (l locator) locate(span source.Span) *Location {
	if l.fs == nil {
		return nil
	}
	f := l.fs.Get(span.File)
	if f == nil {
		return nil
	}
	loc := &Location{
		File:      formatPath(f, l.fs, l.opts.PathMode),
		StartByte: span.Start,
		EndByte:   span.End,
	}
	if l.opts.IncludePositions {
		start, end := l.fs.Resolve(span)
		loc.Start = &Position{Line: start.Line, Col: start.Col}
		loc.End = &Position{Line: end.Line, Col: end.Col}
	}
	return loc
}

// Build converts the bag into a Document without encoding it. Timing notes
// carry their payload and are always kept.
func Build(bag *diag.Bag, fs *source.FileSet, opts JSONOpts) Document {
	items := bag.Items()
	n := len(items)
	if opts.Max > 0 && opts.Max < n {
		n = opts.Max
	}
	l := locator{fs: fs, opts: opts}
	doc := Document{
		Diagnostics: make([]Entry, 0, n),
		Summary:     Summary{Dropped: bag.Dropped(), Truncated: len(items) - n},
	}
	for _, d := range items[:n] {
		e := Entry{
			Severity: d.Severity,
			Code:     d.Code.ID(),
			Title:    d.Code.Title(),
			Message:  d.Message,
			Location: l.locate(d.Primary),
		}
		if opts.IncludeNotes || d.Code == diag.ObsTimings {
			for _, note := range d.Notes {
				e.Notes = append(e.Notes, NoteEntry{Message: note.Msg, Location: l.locate(note.Span)})
			}
		}
		switch d.Severity {
		case diag.SevError:
			doc.Summary.Errors++
		case diag.SevWarning:
			doc.Summary.Warnings++
		default:
			doc.Summary.Infos++
		}
		doc.Diagnostics = append(doc.Diagnostics, e)
	}
	doc.Count = len(doc.Diagnostics)
	return doc
}

// JSON writes the bag as an indented Document.
func JSON(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts JSONOpts) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Build(bag, fs, opts))
}
