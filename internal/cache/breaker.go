package cache

import (
	"sync"
	"time"
)

// breaker trips after threshold consecutive failures. While open it lets one
// trial request through every retryEvery; the trial's outcome closes it or
// keeps it open.
type breaker struct {
	mu         sync.Mutex
	open       bool
	trying     bool
	failures   int
	openedAt   time.Time
	threshold  int
	retryEvery time.Duration
	nowFn      func() time.Time
	onChange   func(open bool, failures int)
}

func newBreaker(threshold int, retryEvery time.Duration) *breaker {
	return &breaker{
		threshold:  threshold,
		retryEvery: retryEvery,
		nowFn:      time.Now,
	}
}

// allow reports whether a request may reach Redis
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.trying || b.nowFn().Sub(b.openedAt) < b.retryEvery {
		return false
	}
	b.trying = true
	return true
}

func (b *breaker) success() {
	b.mu.Lock()
	wasOpen := b.open
	b.open, b.trying, b.failures = false, false, 0
	b.mu.Unlock()

	if wasOpen && b.onChange != nil {
		b.onChange(false, 0)
	}
}

func (b *breaker) failure() {
	b.mu.Lock()
	b.failures++
	tripped := !b.open && b.failures >= b.threshold
	if b.open || tripped {
		// a failed trial restarts the wait
		b.open, b.trying, b.openedAt = true, false, b.nowFn()
	}
	failures := b.failures
	b.mu.Unlock()

	if tripped && b.onChange != nil {
		b.onChange(true, failures)
	}
}

// trip opens the breaker immediately
func (b *breaker) trip() {
	b.mu.Lock()
	b.open, b.trying, b.openedAt = true, false, b.nowFn()
	b.mu.Unlock()
}

func (b *breaker) state() (open bool, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open, b.failures
}
