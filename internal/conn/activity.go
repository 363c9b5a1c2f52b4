package conn

import (
	"sync"
	"time"
)

// activityTracker records the time of the last inbound datagram so the
// connection engine can fire its idle-timeout callback. RFT has no adaptive
// chunk sizing to feed, so only a windowed timestamp-tracking shape is kept,
// repurposed for idle detection.
type activityTracker struct {
	mu   sync.Mutex
	last time.Time
}

func newActivityTracker(now time.Time) *activityTracker {
	return &activityTracker{last: now}
}

func (a *activityTracker) touch(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = now
}

func (a *activityTracker) idleFor(now time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return now.Sub(a.last)
}
