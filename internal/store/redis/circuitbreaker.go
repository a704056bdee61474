package redis

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call. The
// returned error wraps it with the breaker name and remaining cooldown.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // publishes pass through
	StateOpen     State = 1 // publishes rejected until the cooldown elapses
	StateHalfOpen State = 2 // one trial publish allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards doji event publishes to Redis. After maxFailures
// consecutive failed publishes it opens and rejects publishes for cooldown,
// during which the BufferedWriter holds events back. The next publish after
// the cooldown is a trial: success closes the breaker, failure reopens it.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	lastErr  error
	trips    int

	// OnStateChange is called on every transition, with the lock held.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a breaker identified by name in logs and errors.
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs publish unless the breaker is open.
func (cb *CircuitBreaker) Execute(publish func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		remaining := cb.cooldown - cb.now().Sub(cb.openedAt)
		if remaining >= 0 {
			cb.mu.Unlock()
			return fmt.Errorf("%w: %s, retry in %s", ErrCircuitOpen, cb.name, remaining.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
	}
	cb.mu.Unlock()

	err := publish()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastErr = err
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			cb.trips++
			cb.transition(StateOpen)
		}
		return err
	}

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
	return nil
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Trips returns how many times the breaker has opened.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	attrs := []any{
		slog.String("breaker", cb.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	}
	switch to {
	case StateOpen:
		attrs = append(attrs, slog.Int("failures", cb.failures), slog.Duration("cooldown", cb.cooldown))
		if cb.lastErr != nil {
			attrs = append(attrs, slog.String("cause", cb.lastErr.Error()))
		}
		slog.Warn("[redis] doji publishes suspended", attrs...)
	case StateClosed:
		cb.failures = 0
		cb.lastErr = nil
		slog.Info("[redis] doji publishes resumed", attrs...)
	default:
		slog.Info("[redis] trial doji publish", attrs...)
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
