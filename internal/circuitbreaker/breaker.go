// Package circuitbreaker protects calls to external dependencies with a
// per-dependency Closed/Open/HalfOpen state machine, plus retry and
// timeout wrappers for the call sites that need them.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// State is the circuit breaker state.
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

// Config holds circuit breaker tuning.
type Config struct {
	FailureThreshold uint32        // consecutive failures before opening
	ResetTimeout     time.Duration // open duration before a half-open probe
	HalfOpenProbes   uint32        // concurrent probes admitted while half-open
	OnStateChange    func(name string, from, to State)
}

// DefaultConfig returns the defaults used for provider dependencies.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Counts holds rolling statistics for the current generation.
type Counts struct {
	Requests            uint32
	TotalSuccesses      uint32
	TotalFailures       uint32
	ConsecutiveFailures uint32
}

// Breaker implements the circuit breaker pattern for one named dependency.
// Generations guard against late results from a previous state flipping
// counters after a transition.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.RWMutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
}

// New creates a breaker, applying defaults for zero-valued config fields.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	if config.HalfOpenProbes == 0 {
		config.HalfOpenProbes = def.HalfOpenProbes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{name: name, config: config, logger: logger, state: StateClosed}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn if the breaker admits the call. An open breaker fails
// immediately with a service_unavailable error carrying a retry hint.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.afterRequest(generation, false)
			panic(r)
		}
	}()
	err = fn()
	b.afterRequest(generation, err == nil && ctx.Err() == nil)
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Counts returns the current generation's statistics.
func (b *Breaker) Counts() Counts {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts
}

// OpenedAt returns when the breaker last opened, zero if it never has.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.openedAt
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		retry := b.openedAt.Add(b.config.ResetTimeout).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return generation, apperrors.Newf(apperrors.CodeServiceUnavailable,
			"%s circuit breaker is open", b.name).WithRetryAfter(retry)
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.HalfOpenProbes {
		return generation, apperrors.Newf(apperrors.CodeServiceUnavailable,
			"%s circuit breaker is probing", b.name)
	}
	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) afterRequest(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}
	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.config.ResetTimeout {
		b.setState(StateHalfOpen, now)
	}
	return b.state, b.generation
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.generation++
	b.counts = Counts{}
	if state == StateOpen {
		b.openedAt = now
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}
