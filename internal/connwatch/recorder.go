package connwatch

import (
	"context"
	"sync"
	"time"
)

// Recorder is a [Sleeper] that returns immediately and records every
// requested delay. Nodes run with it under test and in dry runs so loop
// periods can be checked without waiting on the wall clock.
type Recorder struct {
	// AfterSleep, if set, is called after each recorded sleep with the
	// number of sleeps so far. Tests use it to cancel a context after a
	// fixed number of iterations.
	AfterSleep func(n int)

	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d and reports whether ctx is still live.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}

	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.mu.Unlock()

	if r.AfterSleep != nil {
		r.AfterSleep(n)
	}
	return ctx.Err() == nil
}

// Delays returns a copy of the recorded delays in call order.
func (r *Recorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

// Count returns the number of recorded sleeps.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delays)
}
