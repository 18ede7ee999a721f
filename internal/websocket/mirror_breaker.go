package websocket

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultBreakerThreshold = 3
	defaultBreakerTimeout   = 30 * time.Second
)

// mirrorBreaker stops presence mirror writes after repeated Redis failures so
// a dead Redis does not back the mirror queue up. After the open timeout one
// write is let through; success closes the circuit, failure re-opens it.
type mirrorBreaker struct {
	mu                sync.Mutex
	threshold         int
	openTimeout       time.Duration
	consecutiveErrors int
	open              bool
	resetAt           time.Time
	lastError         error
	now               func() time.Time
}

func newMirrorBreaker(threshold int, openTimeout time.Duration) *mirrorBreaker {
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	if openTimeout <= 0 {
		openTimeout = defaultBreakerTimeout
	}
	return &mirrorBreaker{
		threshold:   threshold,
		openTimeout: openTimeout,
		now:         time.Now,
	}
}

// allow reports whether a write may be attempted.
func (b *mirrorBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	// half-open: let the next write try Redis
	return !b.now().Before(b.resetAt)
}

// record feeds the outcome of an attempted write back into the breaker.
func (b *mirrorBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.open {
			slog.Info("Presence mirror circuit closed", "downtime", b.now().Sub(b.resetAt.Add(-b.openTimeout)))
		}
		b.open = false
		b.consecutiveErrors = 0
		b.lastError = nil
		return
	}

	b.lastError = err
	b.consecutiveErrors++
	if b.open || b.consecutiveErrors >= b.threshold {
		if !b.open {
			slog.Error("Presence mirror circuit opened", "consecutiveErrors", b.consecutiveErrors, "timeout", b.openTimeout, "error", err)
		}
		b.open = true
		b.resetAt = b.now().Add(b.openTimeout)
	}
}

func (b *mirrorBreaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
