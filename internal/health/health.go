// Package health aggregates per-dependency health checks into liveness
// and readiness verdicts for probes and monitoring.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a check verdict.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result is the outcome of one check.
type Result struct {
	Component string                 `json:"component"`
	Status    Status                 `json:"-"`
	StatusStr string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"-"`
	LatencyMS int64                  `json:"latency_ms"`
	Critical  bool                   `json:"critical"`
}

// Checker is one dependency probe.
type Checker interface {
	Name() string
	// Critical checks mark the whole service unhealthy when they fail;
	// non-critical failures only degrade it.
	Critical() bool
	Check(ctx context.Context) Result
}

// Overall is the aggregated verdict.
type Overall struct {
	Status    Status    `json:"-"`
	StatusStr string    `json:"status"`
	Ready     bool      `json:"ready"`
	Checks    []Result  `json:"checks,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const checkTimeout = 5 * time.Second

// Manager runs registered checkers and aggregates their verdicts.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check runs every checker under a shared timeout and aggregates.
func (m *Manager) Check(ctx context.Context) Overall {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	overall := Overall{Status: StatusHealthy, Ready: true, Timestamp: time.Now()}
	results := make([]Result, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			start := time.Now()
			r := c.Check(ctx)
			r.Component = c.Name()
			r.Critical = c.Critical()
			if r.Duration == 0 {
				r.Duration = time.Since(start)
			}
			r.StatusStr = r.Status.String()
			r.LatencyMS = r.Duration.Milliseconds()
			results[i] = r
		}(i, c)
	}
	wg.Wait()

	for _, r := range results {
		switch {
		case r.Status == StatusUnhealthy && r.Critical:
			overall.Status = StatusUnhealthy
			overall.Ready = false
		case r.Status != StatusHealthy && overall.Status == StatusHealthy:
			overall.Status = StatusDegraded
		}
		if r.Status != StatusHealthy {
			m.logger.Warn("Health check not healthy",
				zap.String("component", r.Component),
				zap.String("status", r.Status.String()),
				zap.String("error", r.Error),
			)
		}
	}
	overall.Checks = results
	overall.StatusStr = overall.Status.String()
	return overall
}
