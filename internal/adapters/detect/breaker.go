package detect

import (
	"sync"
	"time"
)

// Breaker state names, stable for telemetry and the status endpoint
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// breaker fails fast after consecutive remote failures and probes recovery
// after a cooldown. One probe is allowed half-open; its failure reopens the
// breaker with a doubled cooldown up to the cap
type breaker struct {
	mu        sync.Mutex
	state     string
	failures  int
	openedAt  time.Time
	cooldown  time.Duration
	threshold int
	base      time.Duration
	max       time.Duration
	probing   bool

	now func() time.Time
	// onTransition observes state changes; called outside the lock
	onTransition func(from, to string, cooldown time.Duration)
}

func newBreaker(threshold int, base, max time.Duration) *breaker {
	return &breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  base,
		base:      base,
		max:       max,
		now:       time.Now,
	}
}

// allow reports whether a submission may proceed right now. While open it
// refuses until the cooldown elapses, then admits exactly one probe
func (b *breaker) allow() bool {
	b.mu.Lock()

	switch b.state {
	case BreakerClosed:
		b.mu.Unlock()
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false
		}
		from := b.state
		b.state = BreakerHalfOpen
		b.probing = true
		b.mu.Unlock()
		b.transition(from, BreakerHalfOpen, 0)
		return true
	default: // half-open, probe outstanding
		if b.probing {
			b.mu.Unlock()
			return false
		}
		b.probing = true
		b.mu.Unlock()
		return true
	}
}

// success closes the breaker and resets the failure run and cooldown
func (b *breaker) success() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.probing = false
	b.cooldown = b.base
	b.state = BreakerClosed
	b.mu.Unlock()

	if from != BreakerClosed {
		b.transition(from, BreakerClosed, 0)
	}
}

// failure records one completed failure (timeout, transport, remote status).
// A failed half-open probe reopens with a doubled cooldown
func (b *breaker) failure() {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		b.cooldown *= 2
		if b.cooldown > b.max {
			b.cooldown = b.max
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	default:
		b.failures++
		if b.state == BreakerClosed && b.failures >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	}

	to, cd := b.state, b.cooldown
	b.mu.Unlock()

	if to != from {
		b.transition(from, to, cd)
	}
}

// current returns the state name for status reporting
func (b *breaker) current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) transition(from, to string, cooldown time.Duration) {
	if b.onTransition != nil {
		b.onTransition(from, to, cooldown)
	}
}
