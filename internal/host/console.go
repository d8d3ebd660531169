package host

import (
	"encoding/json"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/geeth24/codeflow/internal/snapshot"
)

const truncatedNote = "\n... output truncated\n"

// output collects everything the guest prints. It is bounded and may be
// read while an abandoned guest is still writing.
type output struct {
	mu        sync.Mutex
	buf       strings.Builder
	limit     int
	truncated bool
}

func newOutput(limit int) *output { return &output{limit: limit} }

func (o *output) write(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.truncated {
		return
	}
	if room := o.limit - o.buf.Len(); len(s) > room {
		room = max(room, 0)
		for room > 0 && !utf8.RuneStart(s[room]) {
			room--
		}
		o.buf.WriteString(s[:room])
		o.buf.WriteString(truncatedNote)
		o.truncated = true
		return
	}
	o.buf.WriteString(s)
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

// newConsole builds the console global. Every method writes one line to the
// captured output; nothing reaches the host process.
func newConsole(rt *goja.Runtime, out *output) *goja.Object {
	ser := snapshot.New(rt, snapshot.Limits{MaxDepth: 3})
	log := func(prefix string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, formatArg(ser, arg))
			}
			out.write(prefix + strings.Join(parts, " ") + "\n")
			return goja.Undefined()
		}
	}

	console := rt.NewObject()
	for name, prefix := range map[string]string{
		"log":   "",
		"info":  "",
		"debug": "",
		"warn":  "[warn] ",
		"error": "[error] ",
	} {
		_ = console.Set(name, log(prefix))
	}
	return console
}

func formatArg(ser *snapshot.Serializer, v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if _, ok := v.(*goja.Object); !ok {
		if _, isSym := v.(*goja.Symbol); !isSym {
			return v.String()
		}
	}
	snap := ser.Serialize(v)
	if s, ok := snap.(string); ok {
		return s
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return v.String()
	}
	return string(b)
}

// input serves the program input line by line to prompt and readline.
type input struct {
	mu    sync.Mutex
	lines []string
	next  int
}

func newInput(s string) *input {
	if s == "" {
		return &input{}
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return &input{lines: strings.Split(s, "\n")}
}

func (in *input) line() (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.next >= len(in.lines) {
		return "", false
	}
	l := in.lines[in.next]
	in.next++
	return l, true
}

func (in *input) readline(rt *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		l, ok := in.line()
		if !ok {
			return goja.Null()
		}
		return rt.ToValue(l)
	}
}

// prompt echoes its message like a terminal would, then reads a line.
func (in *input) prompt(rt *goja.Runtime, out *output) func(goja.FunctionCall) goja.Value {
	read := in.readline(rt)
	return func(call goja.FunctionCall) goja.Value {
		if msg := call.Argument(0); !goja.IsUndefined(msg) {
			out.write(msg.String())
		}
		return read(call)
	}
}
