// Package circuit is a consecutive-failure circuit breaker with a cooldown.
package circuit

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	// StateHalfOpen lets a single trial call through after the cooldown.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// StateChange reports a transition caused by a Record call.
type StateChange struct {
	Opened bool
	Closed bool
}

type Breaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openUntil time.Time
}

type Option func(*Breaker)

func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New returns a closed breaker that opens after 5 consecutive failures and
// stays open for 30 seconds unless configured otherwise.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		cooldown:         30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Allow reports whether a call may proceed. Once the cooldown has passed an
// open breaker admits exactly one trial call and refuses the rest until that
// trial is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Before(b.openUntil) {
			return false
		}
		b.state = StateHalfOpen
		return true
	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateClosed {
		return StateChange{}
	}
	b.state = StateClosed
	return StateChange{Closed: true}
}

func (b *Breaker) RecordFailure() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		return StateChange{}
	case StateHalfOpen:
		b.trip()
		return StateChange{Opened: true}
	}
	b.failures++
	if b.failures < b.failureThreshold {
		return StateChange{}
	}
	b.trip()
	return StateChange{Opened: true}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.failures = 0
	b.openUntil = b.now().Add(b.cooldown)
}

// Reset closes the breaker and forgets recorded failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.openUntil = time.Time{}
}
