package embedder

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the circuit breaker rejects a call without
// attempting the backend.
var ErrBreakerOpen = errors.New("embedder: circuit breaker open")

// breaker is a consecutive-failure circuit breaker. After threshold failures
// in a row it rejects calls for cooldown, then lets a single probe through;
// a successful probe closes the circuit, a failed one reopens it.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures int
	openedAt time.Time

	// now is swapped in tests.
	now func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		// Half-open: let one probe through. Dropping the count to just
		// below threshold means a failed probe reopens immediately.
		b.failures = b.threshold - 1
		return true
	}
	return false
}

// record updates the breaker with the outcome of a call.
func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures == b.threshold {
		b.openedAt = b.now()
	}
}

// open reports whether the breaker is currently rejecting calls.
func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold && b.now().Sub(b.openedAt) < b.cooldown
}
