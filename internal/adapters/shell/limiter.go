package shell

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicecall/internal/domain"
)

// rateLimiter allows at most limit events per user within a sliding window.
type rateLimiter struct {
	clock    clock.Clock
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
}

func newRateLimiter(clk clock.Clock, limit int, interval time.Duration) *rateLimiter {
	return &rateLimiter{
		clock:    clk,
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *rateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	fresh := rl.history[uid][:0]
	for _, t := range rl.history[uid] {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}
	rl.history[uid] = append(fresh, now)
	rl.prune(windowStart)
	return true
}

// prune forgets users whose last event left the window.
func (rl *rateLimiter) prune(windowStart time.Time) {
	for uid, ts := range rl.history {
		if len(ts) == 0 || !ts[len(ts)-1].After(windowStart) {
			delete(rl.history, uid)
		}
	}
}
