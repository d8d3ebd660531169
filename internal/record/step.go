// Package record implements the probe: it turns each probe call made by an
// instrumented program into one trace step.
package record

// TerminalLine marks the synthetic step appended when a run fails.
const TerminalLine = -1

// Step is one observed moment of execution. Steps are never modified after
// the recorder appends them.
type Step struct {
	Step   int            `json:"step" yaml:"step" msgpack:"step"`
	Line   int            `json:"line" yaml:"line" msgpack:"line"`
	Locals map[string]any `json:"locals" yaml:"locals" msgpack:"locals"`
	Stack  []string       `json:"stack" yaml:"stack" msgpack:"stack"`
}

// Terminal reports whether s is the failure marker of a run.
func (s Step) Terminal() bool { return s.Line == TerminalLine }

// Error returns the failure message carried by a terminal step.
func (s Step) Error() string {
	if !s.Terminal() {
		return ""
	}
	msg, _ := s.Locals["error"].(string)
	return msg
}

// Trace is the ordered list of steps of one run.
type Trace []Step

// Lines returns the line of every step in order.
func (t Trace) Lines() []int {
	out := make([]int, len(t))
	for i, s := range t {
		out[i] = s.Line
	}
	return out
}

// Failed reports whether the trace ends with a terminal step.
func (t Trace) Failed() bool {
	return len(t) > 0 && t[len(t)-1].Terminal()
}
