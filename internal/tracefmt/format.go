// Package tracefmt encodes trace results for output: machine formats for
// collaborators that replay a trace and a text rendering for people.
package tracefmt

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/geeth24/codeflow/internal/engine"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatNDJSON  Format = "ndjson"
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
	FormatText    Format = "text"
)

// Formats lists the supported encodings.
func Formats() []Format {
	return []Format{FormatJSON, FormatNDJSON, FormatYAML, FormatMsgpack, FormatText}
}

// ParseFormat converts a flag or config value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatNDJSON, FormatYAML, FormatMsgpack, FormatText:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown output format %q (expected: json|ndjson|yaml|msgpack|text)", s)
}

// Binary reports whether f should not be written to a terminal.
func (f Format) Binary() bool { return f == FormatMsgpack }

// Options tune the encoders. Only the text format reads Color, Source and
// Width; Compact applies to JSON.
type Options struct {
	Color   bool
	Compact bool
	Source  string // guest source, for showing the line of each step
	Width   int    // max columns of a rendered line; 0 means 100
}

// Write encodes res to w.
func Write(w io.Writer, res *engine.Result, format Format, opts Options) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, res, opts.Compact)
	case FormatNDJSON:
		return writeNDJSON(w, res)
	case FormatYAML:
		return writeYAML(w, res)
	case FormatMsgpack:
		return writeMsgpack(w, res)
	case FormatText, "":
		return writeText(w, res, opts)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeJSON(w io.Writer, res *engine.Result, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

// writeNDJSON writes one step per line, nothing else.
func writeNDJSON(w io.Writer, res *engine.Result) error {
	enc := json.NewEncoder(w)
	for i := range res.Steps {
		if err := enc.Encode(res.Steps[i]); err != nil {
			return fmt.Errorf("step %d: %w", res.Steps[i].Step, err)
		}
	}
	return nil
}

func writeYAML(w io.Writer, res *engine.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return err
	}
	return enc.Close()
}

func writeMsgpack(w io.Writer, res *engine.Result) error {
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	return enc.Encode(res)
}
