package aggregator

import (
	"sync"
	"time"
)

// SyncLimiter throttles user-triggered refreshes to a minimum interval
// per user. The per-user timestamp map is shared by every concurrent
// request, so all access goes through the mutex; two simultaneous
// manual syncs for the same user must not both pass the check.
type SyncLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func NewSyncLimiter(interval time.Duration) *SyncLimiter {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &SyncLimiter{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether the user may start a manual sync at now, and
// records now as the new last invocation only when it returns true, so
// rejected attempts don't push the window out. A gap exactly equal to
// the interval is allowed.
func (l *SyncLimiter) Allow(userID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.last[userID]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.last[userID] = now

	return true
}

// Reap drops entries last touched before the cutoff so the map doesn't
// grow with every user ever seen.
func (l *SyncLimiter) Reap(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for userID, at := range l.last {
		if at.Before(cutoff) {
			delete(l.last, userID)
		}
	}
}
