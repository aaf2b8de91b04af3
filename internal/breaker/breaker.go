// Package breaker wraps the primary response generator in an explicit
// three-state circuit breaker with a degraded fallback path. State lives in
// process memory; each worker process trips and recovers on its own evidence.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// Operation is the protected call. ExecuteWithFallback runs either the
// primary or the fallback depending on breaker state.
type Operation func(ctx context.Context) (string, error)

// Breaker is a closed/open/half-open circuit breaker over a primary
// operation. The open->half-open transition is evaluated lazily on the next
// call rather than by a timer.
type Breaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	logger           *slog.Logger
	now              func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	lastErr             error

	totalCalls     int64
	primaryCalls   int64
	fallbackCalls  int64
	primaryErrors  int64
	fallbackErrors int64
	trips          int64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive primary failures open the
// circuit. Values below 1 keep the default.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n >= 1 {
			b.failureThreshold = n
		}
	}
}

// WithResetTimeout sets how long the circuit stays open before a half-open
// probe is allowed.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a closed Breaker.
func New(name string, logger *slog.Logger, opts ...Option) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:             name,
		failureThreshold: DefaultFailureThreshold,
		resetTimeout:     DefaultResetTimeout,
		logger:           logger.With("component", "breaker", "breaker", name),
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the breaker's current position, applying the lazy
// open->half-open transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

func (b *Breaker) currentStateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		b.state = StateHalfOpen
		b.logger.Info("breaker half-open, next call probes primary")
	}
	return b.state
}

// ExecuteWithFallback routes the call through the primary unless the circuit
// is open, in which case the fallback runs immediately. A half-open probe
// that succeeds closes the circuit; one that fails re-opens it for a full
// reset window. usedFallback reports which path produced the result.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, primary, fallback Operation) (result string, usedFallback bool, err error) {
	b.mu.Lock()
	b.totalCalls++
	st := b.currentStateLocked()
	b.mu.Unlock()

	if st == StateOpen {
		return b.runFallback(ctx, fallback)
	}

	b.mu.Lock()
	b.primaryCalls++
	b.mu.Unlock()

	result, err = primary(ctx)
	if err == nil {
		b.onPrimarySuccess(st)
		return result, false, nil
	}
	b.onPrimaryFailure(st, err)
	return b.runFallback(ctx, fallback)
}

func (b *Breaker) onPrimarySuccess(was State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.lastErr = nil
	if b.state != StateClosed {
		b.logger.Info("breaker closed after successful probe", "previous_state", string(was))
	}
	b.state = StateClosed
}

func (b *Breaker) onPrimaryFailure(was State, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primaryErrors++
	b.lastErr = err
	b.consecutiveFailures++

	if was == StateHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		if b.state != StateOpen {
			b.trips++
			b.logger.Warn("breaker opened",
				"consecutive_failures", b.consecutiveFailures,
				"reset_timeout", b.resetTimeout.String(),
				"error", err.Error())
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) runFallback(ctx context.Context, fallback Operation) (string, bool, error) {
	b.mu.Lock()
	b.fallbackCalls++
	b.mu.Unlock()

	result, err := fallback(ctx)
	if err != nil {
		b.mu.Lock()
		b.fallbackErrors++
		b.mu.Unlock()
		return "", true, fmt.Errorf("fallback after primary unavailable: %w", err)
	}
	return result, true, nil
}

// Metrics is a point-in-time snapshot of breaker health.
type Metrics struct {
	Name                string  `json:"name"`
	State               State   `json:"state"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	TotalCalls          int64   `json:"total_calls"`
	PrimaryCalls        int64   `json:"primary_calls"`
	FallbackCalls       int64   `json:"fallback_calls"`
	PrimaryErrors       int64   `json:"primary_errors"`
	FallbackErrors      int64   `json:"fallback_errors"`
	Trips               int64   `json:"trips"`
	PrimaryHealthPct    float64 `json:"primary_health_pct"`
	LastError           string  `json:"last_error,omitempty"`
}

// Snapshot returns the current metrics.
func (b *Breaker) Snapshot() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := Metrics{
		Name:                b.name,
		State:               b.currentStateLocked(),
		ConsecutiveFailures: b.consecutiveFailures,
		TotalCalls:          b.totalCalls,
		PrimaryCalls:        b.primaryCalls,
		FallbackCalls:       b.fallbackCalls,
		PrimaryErrors:       b.primaryErrors,
		FallbackErrors:      b.fallbackErrors,
		Trips:               b.trips,
	}
	if b.primaryCalls > 0 {
		m.PrimaryHealthPct = float64(b.primaryCalls-b.primaryErrors) / float64(b.primaryCalls) * 100
	}
	if b.lastErr != nil {
		m.LastError = b.lastErr.Error()
	}
	return m
}
