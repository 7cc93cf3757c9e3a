// Package throttle implements a single-slot serialising gate that forces a
// minimum wall-clock delay between login attempts, globally, to blunt brute
// force without imposing a ban on a specific user or IP.
package throttle

import (
	"sync"
	"time"
)

// Throttle guards a single queue slot. Concurrent callers to Wait queue
// behind one another; effective maximum throughput is one call per the
// duration passed in.
type Throttle struct {
	mu sync.Mutex
}

// New returns a ready-to-use Throttle.
func New() *Throttle {
	return &Throttle{}
}

// Wait blocks the calling goroutine until it holds the single slot, sleeps
// for duration, then releases the slot. Other callers block queued behind
// the mutex for the duration of the sleep.
func (t *Throttle) Wait(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	time.Sleep(duration)
}
