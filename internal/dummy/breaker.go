package dummy

import (
	"sync"
	"time"
)

type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// breaker is a consecutive-failure circuit breaker. While half-open a single
// trial call is let through; its result closes or re-opens the circuit.
type breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  int
	openUntil time.Time
	trial     bool
}

func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case open:
		if now.Before(b.openUntil) {
			return false
		}
		b.state = halfOpen
		b.trial = true
		return true
	case halfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
	return true
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = closed
	b.failures = 0
	b.trial = false
}

// failure records an upstream failure and reports whether it opened the
// circuit.
func (b *breaker) failure(now time.Time, threshold int, openFor time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	b.failures++
	if b.state == halfOpen || b.failures >= threshold {
		wasOpen := b.state == open
		b.state = open
		b.openUntil = now.Add(openFor)
		b.failures = 0
		return !wasOpen
	}
	return false
}

// release gives back a half-open trial that never reached the upstream.
func (b *breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == halfOpen {
		b.trial = false
	}
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
