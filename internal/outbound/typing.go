package outbound

import (
	"sync"
	"time"
)

// typingLimiter allows at most one typing signal per conversation per
// interval.
type typingLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func newTypingLimiter(interval time.Duration) *typingLimiter {
	return &typingLimiter{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

func (l *typingLimiter) allow(conversationID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.last[conversationID]; ok && now.Sub(prev) < l.interval {
		return false
	}
	l.last[conversationID] = now
	return true
}
