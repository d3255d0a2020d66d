package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket. A nil *Limiter never blocks.
type Limiter struct {
	rate       float64 // tokens per second
	tokens     float64
	maxTokens  float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// New creates a limiter allowing rps requests per second. rps <= 0 disables limiting.
func New(rps float64) *Limiter {
	if rps <= 0 {
		return nil
	}
	burst := rps
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:       rps,
		tokens:     burst,
		maxTokens:  burst,
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token if one is available, otherwise reports how long until the next one.
func (l *Limiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.lastUpdate).Seconds() * l.rate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastUpdate = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return 0, true
	}
	missing := 1.0 - l.tokens
	return time.Duration(missing / l.rate * float64(time.Second)), false
}
