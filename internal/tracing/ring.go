package tracing

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"
)

// RingTracer keeps the most recent events in memory. With LevelError it is
// the only storage, dumped when a command fails.
type RingTracer struct {
	filter
	start time.Time

	mu     sync.Mutex
	events []Event
	next   int // slot of the next write
	n      int // stored events, at most len(events)
}

// NewRingTracer returns a ring holding capacity events.
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &RingTracer{
		filter: filter{level},
		start:  time.Now(),
		events: make([]Event, capacity),
	}
}

// Emit stores a copy of ev, overwriting the oldest event when full.
func (t *RingTracer) Emit(ev *Event) {
	if !t.admit(ev) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	stored := *ev
	stored.Seq = NextSeq()
	t.events[t.next] = stored
	t.next = (t.next + 1) % len(t.events)
	t.n = min(t.n+1, len(t.events))
}

// Len returns the number of stored events.
func (t *RingTracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Snapshot returns the stored events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, 0, t.n)
	first := (t.next - t.n + len(t.events)) % len(t.events)
	for i := range t.n {
		out = append(out, t.events[(first+i)%len(t.events)])
	}
	return out
}

// Reset drops every stored event.
func (t *RingTracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.events)
	t.next, t.n = 0, 0
}

// Dump writes the stored events to w. Chrome output is a complete document.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	bw := bufio.NewWriter(w)
	enc := newEncoder(bw, format, t.start)
	for _, ev := range t.Snapshot() {
		enc.write(&ev)
	}
	enc.finish()
	return errors.Join(enc.err, bw.Flush())
}

func (t *RingTracer) Flush() error { return nil }

func (t *RingTracer) Close() error { return nil }
