// Package circuitbreaker shields the engine from a flapping LLM backend.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker trips open after maxFailures consecutive failures inside the
// failure window. After cooldown it lets probe calls through half-open;
// probeQuota consecutive successes close it again.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	probes      int
	lastFailure time.Time

	maxFailures int
	window      time.Duration
	cooldown    time.Duration
	probeQuota  int
}

func New(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		window:      2 * cooldown,
		cooldown:    cooldown,
		probeQuota:  3,
	}
}

// Do runs fn unless the circuit is open. A context already past its deadline
// never counts against the breaker; the backend was not consulted.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			remaining := b.cooldown - time.Since(b.lastFailure)
			b.mu.Unlock()
			return fmt.Errorf("%w (retry in %s)", ErrCircuitOpen, remaining.Round(time.Second))
		}
		b.state = StateHalfOpen
		b.probes = 0
	case StateClosed:
		// Stale failures age out; only a dense burst should trip the circuit.
		if b.failures > 0 && time.Since(b.lastFailure) > b.window {
			b.failures = 0
		}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		b.failures++
		b.lastFailure = time.Now()
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.state = StateOpen
		}
		return err
	}

	if b.state == StateHalfOpen {
		b.probes++
		if b.probes >= b.probeQuota {
			b.state = StateClosed
			b.failures = 0
		}
	} else {
		b.failures = 0
	}
	return nil
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
