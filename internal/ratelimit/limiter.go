// Package ratelimit is the abuse guard in front of dispute and
// payment-creation endpoints: a per-key fixed-window counter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*window
}

func NewLimiter(limit int, windowSize time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  windowSize,
		now:     time.Now,
		buckets: make(map[string]*window),
	}
}

// CheckAndRecord counts the request against the key's current window and
// reports whether it is allowed. Denied requests are not counted, so a
// flooding client does not push its own window forward.
func (l *Limiter) CheckAndRecord(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window {
		b = &window{start: now}
		l.buckets[key] = b
	}

	if b.count >= l.limit {
		return Decision{
			Allowed:    false,
			Count:      b.count,
			RetryAfter: b.start.Add(l.window).Sub(now),
		}
	}

	b.count++
	return Decision{Allowed: true, Count: b.count}
}

// Sweep drops expired windows periodically until the context is cancelled.
func (l *Limiter) Sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, key)
		}
	}
}
