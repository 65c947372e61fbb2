// Package circuitbreaker guards an upstream dependency with a three
// state breaker. A run of failures opens the circuit and sheds calls
// immediately. After a cooldown the breaker lets a small number of
// probes through, and either closes again or re-opens.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	// MaxRequests caps concurrent probes while half-open.
	MaxRequests uint32
	// Interval resets the failure window while closed. Zero keeps
	// counting failures indefinitely.
	Interval time.Duration
	// Timeout is how long the circuit stays open before probing.
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	OnStateChange    func(name string, from State, to State)
	Logger           *zap.Logger
}

// Snapshot is a point-in-time view of the breaker's counters.
type Snapshot struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

type CircuitBreaker struct {
	name string
	cfg  Config

	mu     sync.Mutex
	state  State
	epoch  uint64
	counts Snapshot
	expiry time.Time
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}

	cb := &CircuitBreaker{name: name, cfg: cfg}
	cb.resetCounts(time.Now())
	return cb
}

// Execute runs fn under the breaker. It returns ErrCircuitOpen without
// calling fn while the circuit is open, and ErrTooManyRequests when the
// half-open probe budget is spent. A panic in fn counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	epoch, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.record(epoch, false)
			panic(r)
		}
	}()

	err = fn()
	cb.record(epoch, err == nil)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.advance(time.Now())
	return state
}

func (cb *CircuitBreaker) Counts() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, epoch := cb.advance(time.Now())

	switch {
	case state == StateOpen:
		return epoch, ErrCircuitOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests:
		return epoch, ErrTooManyRequests
	}

	cb.counts.Requests++
	return epoch, nil
}

// record applies an outcome. Outcomes from a previous epoch are stale
// and dropped: the breaker already moved on.
func (cb *CircuitBreaker) record(epoch uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, current := cb.advance(now)
	if current != epoch {
		return
	}

	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0

		if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		cb.transition(StateOpen, now)
	}
}

// advance applies time-based transitions and returns the effective
// state. Callers must hold cb.mu.
func (cb *CircuitBreaker) advance(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.resetCounts(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.epoch
}

func (cb *CircuitBreaker) transition(next State, now time.Time) {
	if cb.state == next {
		return
	}

	prev := cb.state
	cb.state = next
	cb.resetCounts(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, prev, next)
	}
	if cb.cfg.Logger != nil {
		cb.cfg.Logger.Info("Circuit breaker state changed",
			zap.String("name", cb.name),
			zap.String("from", prev.String()),
			zap.String("to", next.String()),
		)
	}
}

func (cb *CircuitBreaker) resetCounts(now time.Time) {
	cb.epoch++
	cb.counts = Snapshot{}

	switch cb.state {
	case StateOpen:
		cb.expiry = now.Add(cb.cfg.Timeout)
	case StateClosed:
		if cb.cfg.Interval > 0 {
			cb.expiry = now.Add(cb.cfg.Interval)
		} else {
			cb.expiry = time.Time{}
		}
	default:
		cb.expiry = time.Time{}
	}
}
