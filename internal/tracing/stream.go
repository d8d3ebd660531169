package tracing

import (
	"io"
	"sync"
	"time"
)

// StreamTracer writes events to an io.Writer as they arrive. Write errors
// are dropped: a broken trace sink must not fail the traced command.
type StreamTracer struct {
	filter
	w io.Writer

	mu     sync.Mutex
	enc    *encoder
	closed bool
}

// NewStreamTracer returns a tracer writing format to w. A Chrome document
// is opened immediately and completed by Close.
func NewStreamTracer(w io.Writer, level Level, format Format) *StreamTracer {
	return &StreamTracer{filter: filter{level}, w: w, enc: newEncoder(w, format, time.Now())}
}

func (t *StreamTracer) Emit(ev *Event) {
	if !t.admit(ev) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	ev.Seq = NextSeq()
	t.enc.write(ev)
}

// Flush calls the writer's Flush method if it has one.
func (t *StreamTracer) Flush() error {
	if f, ok := t.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close completes the document, flushes and closes the writer if it is an
// io.Closer. Later events are dropped.
func (t *StreamTracer) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.enc.finish()
	t.mu.Unlock()

	if err := t.Flush(); err != nil {
		return err
	}
	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
