package health

import (
	"context"
	"time"

	"github.com/pagesage/pagesage/internal/circuitbreaker"
)

// degradedLatency marks a dependency degraded when a successful probe
// takes longer than this.
const degradedLatency = 100 * time.Millisecond

// Pinger is anything with a context-aware health probe.
type Pinger interface {
	Healthcheck(ctx context.Context) error
}

// PingChecker adapts a Pinger into a Checker.
type PingChecker struct {
	name     string
	critical bool
	target   Pinger
}

// NewPingChecker wraps a dependency's Healthcheck method.
func NewPingChecker(name string, critical bool, target Pinger) *PingChecker {
	return &PingChecker{name: name, critical: critical, target: target}
}

func (c *PingChecker) Name() string   { return c.name }
func (c *PingChecker) Critical() bool { return c.critical }

func (c *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()
	err := c.target.Healthcheck(ctx)
	r := Result{Duration: time.Since(start)}
	if err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		return r
	}
	if r.Duration > degradedLatency {
		r.Status = StatusDegraded
		r.Message = "responding with high latency"
		return r
	}
	r.Status = StatusHealthy
	return r
}

// BreakerChecker reports provider availability from breaker states. It
// is never critical: an open provider breaker degrades the service but
// the chain can still fail over.
type BreakerChecker struct {
	name   string
	states func() map[string]string
}

// NewBreakerChecker builds a checker over a breaker-state snapshot
// function.
func NewBreakerChecker(name string, states func() map[string]string) *BreakerChecker {
	return &BreakerChecker{name: name, states: states}
}

func (c *BreakerChecker) Name() string   { return c.name }
func (c *BreakerChecker) Critical() bool { return false }

func (c *BreakerChecker) Check(context.Context) Result {
	states := c.states()
	r := Result{
		Status:  StatusHealthy,
		Details: make(map[string]interface{}, len(states)),
	}
	open := 0
	for name, state := range states {
		r.Details[name] = state
		if state == circuitbreaker.StateOpen.String() {
			open++
		}
	}
	if open == len(states) && len(states) > 0 {
		r.Status = StatusUnhealthy
		r.Message = "all provider breakers open"
	} else if open > 0 {
		r.Status = StatusDegraded
		r.Message = "some provider breakers open"
	}
	return r
}
