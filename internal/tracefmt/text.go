package tracefmt

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/geeth24/codeflow/internal/engine"
)

type palette struct {
	header  *color.Color
	step    *color.Color
	line    *color.Color
	name    *color.Color
	stack   *color.Color
	ok      *color.Color
	failure *color.Color
	dim     *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		header:  color.New(color.Bold),
		step:    color.New(color.FgCyan),
		line:    color.New(color.FgYellow),
		name:    color.New(color.FgGreen),
		stack:   color.New(color.FgMagenta),
		ok:      color.New(color.FgGreen, color.Bold),
		failure: color.New(color.FgRed, color.Bold),
		dim:     color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.header, p.step, p.line, p.name, p.stack, p.ok, p.failure, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// writeText renders a result for a terminal:
//
//	fib.js: ok, 12 steps
//	#1    L5   main
//	      │ const r = fib(3);
//	      r = <undefined>
func writeText(w io.Writer, res *engine.Result, opts Options) error {
	width := opts.Width
	if width <= 0 {
		width = 100
	}
	p := newPalette(opts.Color)
	lines := strings.Split(opts.Source, "\n")
	var sb strings.Builder

	status := p.ok.Sprint(res.Status)
	if res.Status != engine.StatusOK {
		status = p.failure.Sprint(res.Status)
	}
	fmt.Fprintf(&sb, "%s: %s, %d steps\n", p.header.Sprint(res.Name), status, len(res.Steps))

	for _, s := range res.Steps {
		if s.Terminal() {
			fmt.Fprintf(&sb, "%s %s\n", p.step.Sprintf("#%-4d", s.Step), p.failure.Sprint("✗ "+s.Error()))
			continue
		}
		fmt.Fprintf(&sb, "%s %s %s\n",
			p.step.Sprintf("#%-4d", s.Step),
			p.line.Sprintf("L%-4d", s.Line),
			p.stack.Sprint(strings.Join(s.Stack, " ← ")))
		if s.Line > 0 && s.Line <= len(lines) {
			src := strings.TrimRight(expandTabs(lines[s.Line-1]), " ")
			fmt.Fprintf(&sb, "      %s %s\n", p.dim.Sprint("│"), runewidth.Truncate(src, width-8, "…"))
		}
		for _, name := range sortedKeys(s.Locals) {
			val := runewidth.Truncate(renderValue(s.Locals[name]), max(width-9-runewidth.StringWidth(name), 8), "…")
			fmt.Fprintf(&sb, "      %s = %s\n", p.name.Sprint(name), val)
		}
	}

	if res.Syntax != nil {
		fmt.Fprintf(&sb, "%s\n", p.failure.Sprint(res.Error))
	}
	if res.Output != "" {
		sb.WriteString(p.header.Sprint("output:") + "\n")
		for _, l := range strings.Split(strings.TrimSuffix(res.Output, "\n"), "\n") {
			sb.WriteString("  " + l + "\n")
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func renderValue(v any) string {
	if s, ok := v.(string); ok && isMarker(s) {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// isMarker reports whether s is a serializer marker such as "<NaN>",
// printed without quotes.
func isMarker(s string) bool {
	return len(s) > 2 && s[0] == '<' && s[len(s)-1] == '>'
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", "    ")
}

// Summary is the one-line form used by batch runs.
func Summary(res *engine.Result, colored bool) string {
	p := newPalette(colored)
	name := runewidth.FillRight(res.Name, 24)
	switch res.Status {
	case engine.StatusOK:
		return fmt.Sprintf("%s %s %d steps", name, p.ok.Sprint("ok   "), len(res.Steps))
	default:
		msg := res.Error
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		label := runewidth.FillRight(string(res.Status), 5)
		return fmt.Sprintf("%s %s %d steps  %s", name, p.failure.Sprint(label), len(res.Steps), runewidth.Truncate(msg, 60, "…"))
	}
}
