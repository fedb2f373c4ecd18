package ratelimit

import (
	"sync"
	"time"
)

// MemoryRateLimiter is the single-instance counterpart of RedisRateLimiter:
// the same sliding windows, kept in process memory. Used when Redis is not
// configured.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (l *MemoryRateLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *MemoryRateLimiter) Allow(key string, config RateLimitConfig) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windows := windowsFor(config)

	// Trim everything older than the widest window once, then count per window.
	widest := time.Duration(0)
	for _, w := range windows {
		if w.limit > 0 && w.duration > widest {
			widest = w.duration
		}
	}
	if widest == 0 {
		return true, nil
	}

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
		if now.Sub(ts) <= widest {
			kept = append(kept, ts)
		}
	}
	l.entries[key] = kept

	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		count := 0
		for _, ts := range kept {
			if now.Sub(ts) <= w.duration {
				count++
			}
		}
		if count >= w.limit {
			return false, nil
		}
	}

	l.entries[key] = append(l.entries[key], now)
	return true, nil
}

func (l *MemoryRateLimiter) Reset(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}
