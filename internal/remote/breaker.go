package remote

import (
	"sync"
	"time"

	"github.com/pitabwire/casewizard/internal/clock"
)

// BreakerState is the state of the case-service circuit breaker.
type BreakerState int

const (
	// BreakerClosed passes every call and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cool-down has elapsed.
	BreakerOpen
	// BreakerHalfOpen lets probes through; one failure reopens.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips after a run of consecutive infrastructure failures against
// the case service. 4xx responses are not failures. Safe for concurrent use.
type Breaker struct {
	clock            clock.Clock
	failureThreshold int
	successThreshold int
	coolDown         time.Duration
	onChange         func(BreakerState)

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker returns a closed breaker. Non-positive thresholds fall back to
// 5 failures, 2 probe successes and a 30s cool-down. onChange, if set, is
// called outside the lock after every state change.
func NewBreaker(clk clock.Clock, failureThreshold, successThreshold int, coolDown time.Duration, onChange func(BreakerState)) *Breaker {
	if clk == nil {
		clk = clock.Real{}
	}
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Breaker{
		clock:            clk,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		coolDown:         coolDown,
		onChange:         onChange,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	changed := b.expireLocked()
	st := b.state
	b.mu.Unlock()

	b.notify(changed, st)
	return st != BreakerOpen
}

// Success records a call that reached the service and was not a 5xx.
func (b *Breaker) Success() {
	b.mu.Lock()
	changed := b.expireLocked()
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures, b.successes = 0, 0
			changed = true
		}
	}
	st := b.state
	b.mu.Unlock()

	b.notify(changed, st)
}

// Failure records a transport error or 5xx response.
func (b *Breaker) Failure() {
	b.mu.Lock()
	changed := b.expireLocked()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.tripLocked()
			changed = true
		}
	case BreakerHalfOpen:
		b.tripLocked()
		changed = true
	}
	st := b.state
	b.mu.Unlock()

	b.notify(changed, st)
}

// State returns the current state, moving Open to HalfOpen once the
// cool-down has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	changed := b.expireLocked()
	st := b.state
	b.mu.Unlock()

	b.notify(changed, st)
	return st
}

func (b *Breaker) tripLocked() {
	b.state = BreakerOpen
	b.openedAt = b.clock.Now()
	b.successes = 0
}

func (b *Breaker) expireLocked() bool {
	if b.state == BreakerOpen && b.clock.Now().Sub(b.openedAt) >= b.coolDown {
		b.state = BreakerHalfOpen
		b.successes = 0
		return true
	}
	return false
}

func (b *Breaker) notify(changed bool, st BreakerState) {
	if changed && b.onChange != nil {
		b.onChange(st)
	}
}
