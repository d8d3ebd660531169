package tracing

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
)

var kindNames = [...]string{KindSpanBegin: "begin", KindSpanEnd: "end", KindPoint: "point", KindHeartbeat: "heartbeat"}

func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Scope indicates the granularity of an event. Lower values are coarser.
type Scope uint8

const (
	ScopeDriver Scope = iota + 1 // CLI command, batch
	ScopeRun                     // one guest program
	ScopePhase                   // parse, analyze, instrument, execute
	ScopeHost                    // interrupts, abandoned runners
	ScopeProbe                   // individual guest steps
)

var scopeNames = [...]string{ScopeDriver: "driver", ScopeRun: "run", ScopePhase: "phase", ScopeHost: "host", ScopeProbe: "probe"}

func (s Scope) String() string {
	if s > 0 && int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return "unknown"
}

// Event is a single trace event.
type Event struct {
	Time     time.Time
	Seq      uint64 // assigned by the tracer that stores the event
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64 // 0 for roots and unparented points
	GID      uint64 // goroutine of the emitter
	Name     string // e.g. "parse", "run:progs/fib.js"
	Detail   string
	// Elapsed is the span duration; set on KindSpanEnd only.
	Elapsed time.Duration
	Extra   map[string]string
}
