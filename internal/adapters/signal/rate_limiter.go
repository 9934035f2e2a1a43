package signal

import (
	"sync"
	"time"
)

// FrameRateLimiter is a sliding-window counter for inbound frames on one
// channel. A limit of zero or less disables it.
type FrameRateLimiter struct {
	mu       sync.Mutex
	attempts []time.Time
	limit    int
	interval time.Duration
}

func NewFrameRateLimiter(limit int, interval time.Duration) *FrameRateLimiter {
	return &FrameRateLimiter{
		limit:    limit,
		interval: interval,
	}
}

func (rl *FrameRateLimiter) Allow() bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	fresh := make([]time.Time, 0, len(rl.attempts))
	for _, t := range rl.attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.attempts = fresh
		return false
	}

	rl.attempts = append(fresh, now)
	return true
}
