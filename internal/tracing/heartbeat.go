package tracing

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// Heartbeat emits an event at a fixed interval. Heartbeats with no span
// ends in between point at a hung guest; a goroutine count that keeps
// growing points at abandoned runners.
type Heartbeat struct {
	stop func()
}

// StartHeartbeat starts emitting to tracer. It returns nil when tracing is
// off or interval is not positive; Stop on nil is a no-op.
func StartHeartbeat(tracer Tracer, interval time.Duration) *Heartbeat {
	if tracer == nil || tracer.Level() == LevelOff || interval <= 0 {
		return nil
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for n := 1; ; n++ {
			select {
			case <-quit:
				return
			case now := <-ticker.C:
				tracer.Emit(&Event{
					Time:   now,
					Kind:   KindHeartbeat,
					Scope:  ScopeDriver,
					GID:    goroutineID(),
					Name:   "heartbeat",
					Detail: fmt.Sprintf("#%d", n),
					Extra:  map[string]string{"goroutines": strconv.Itoa(runtime.NumGoroutine())},
				})
			}
		}
	}()
	return &Heartbeat{stop: sync.OnceFunc(func() {
		close(quit)
		<-done
	})}
}

// Stop ends the heartbeat and waits for its goroutine. It may be called
// more than once.
func (h *Heartbeat) Stop() {
	if h != nil {
		h.stop()
	}
}
