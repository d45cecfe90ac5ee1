package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
)

// State of a breaker. The numeric value is exported as the breaker state
// gauge.
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
	}
	return "unknown"
}

// Settings for one breaker. Zero values take the defaults applied by New.
type Settings struct {
	Name string

	// MaxRequests trial calls are admitted while half-open.
	MaxRequests uint32

	// Interval clears closed-state counts so old failures expire.
	Interval time.Duration

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	FailureThreshold uint32
	SuccessThreshold uint32

	// IsExcluded marks errors that count neither as success nor failure.
	IsExcluded func(err error) bool

	Now func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 1
	}
	if s.IsExcluded == nil {
		s.IsExcluded = func(error) bool { return false }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Counts describes the current window.
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// window is the span of time a set of counts belongs to. A result reported
// against an older window is dropped.
type window struct {
	id     uint64
	counts Counts
	ends   time.Time // zero while half-open
}

// CircuitBreaker guards one upstream dependency. A single instance is shared
// by every session calling that dependency.
type CircuitBreaker struct {
	cfg Settings
	log *zap.Logger

	mu       sync.Mutex
	state    State
	win      window
	openedAt time.Time
}

func New(settings Settings, log *zap.Logger) *CircuitBreaker {
	if log == nil {
		log = zap.NewNop()
	}
	cb := &CircuitBreaker{cfg: settings.withDefaults(), log: log}
	cb.resetWindow(cb.cfg.Now())
	telemetry.BreakerState.WithLabelValues(cb.cfg.Name).Set(float64(StateClosed))
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the breaker refuses it, in which case fn is never
// called and the error is an *Error. fn's own error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return cb.ExecuteCtx(context.Background(), func(context.Context) (interface{}, error) {
		return fn()
	})
}

func (cb *CircuitBreaker) ExecuteCtx(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	id, err := cb.admit()
	if err != nil {
		return nil, err
	}

	finished := false
	defer func() {
		if !finished {
			cb.record(id, false, false)
		}
	}()

	result, err := fn(ctx)
	finished = true
	cb.record(id, err == nil, err != nil && cb.cfg.IsExcluded(err))
	return result, err
}

// ExecuteWithResult runs fn through cb and returns its typed result.
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	_, err := cb.ExecuteCtx(ctx, func(ctx context.Context) (interface{}, error) {
		var err error
		out, err = fn(ctx)
		return nil, err
	})
	return out, err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.advance(cb.cfg.Now())
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.win.counts
}

// OpenedAt is the last time the breaker opened, or the zero time.
func (cb *CircuitBreaker) OpenedAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openedAt
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.advance(cb.cfg.Now())
	if state == StateOpen {
		return 0, &Error{Name: cb.cfg.Name, State: state, Err: ErrCircuitOpen}
	}
	if state == StateHalfOpen && cb.win.counts.Requests >= cb.cfg.MaxRequests {
		return 0, &Error{Name: cb.cfg.Name, State: state, Err: ErrTooManyRequests}
	}
	cb.win.counts.Requests++
	return cb.win.id, nil
}

func (cb *CircuitBreaker) record(id uint64, ok, excluded bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Now()
	state := cb.advance(now)
	if id != cb.win.id {
		return
	}

	switch {
	case excluded:
		// Frees the trial slot for the next caller.
		if state == StateHalfOpen && cb.win.counts.Requests > 0 {
			cb.win.counts.Requests--
		}
	case ok:
		cb.win.counts.success()
		if state == StateHalfOpen && cb.win.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
	default:
		cb.win.counts.failure()
		if state == StateHalfOpen || cb.win.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	}
}

// advance applies time-driven changes: an expired closed window starts
// afresh and an expired open period becomes half-open.
func (cb *CircuitBreaker) advance(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if now.After(cb.win.ends) {
			cb.resetWindow(now)
		}
	case StateOpen:
		if !now.Before(cb.win.ends) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateOpen {
		cb.openedAt = now
	}
	cb.resetWindow(now)

	telemetry.BreakerState.WithLabelValues(cb.cfg.Name).Set(float64(to))
	telemetry.BreakerTransitions.WithLabelValues(cb.cfg.Name, from.String(), to.String()).Inc()
	cb.log.Warn("Circuit breaker state changed",
		zap.String("name", cb.cfg.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (cb *CircuitBreaker) resetWindow(now time.Time) {
	next := window{id: cb.win.id + 1}
	switch cb.state {
	case StateClosed:
		next.ends = now.Add(cb.cfg.Interval)
	case StateOpen:
		next.ends = now.Add(cb.cfg.Timeout)
	}
	cb.win = next
}
