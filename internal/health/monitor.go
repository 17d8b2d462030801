// Package health evaluates liveness of the supervised engine: a process
// check plus an HTTP probe, debounced, with a consecutive-failure count
// that drives the restart decision.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"comfyguard/internal/engine"
	"comfyguard/internal/observability"
)

// Status classifies one health check.
type Status string

const (
	// StatusStarting means the engine process exists but is not accepting
	// connections yet. Not counted as a failure.
	StatusStarting Status = "starting"
	StatusHealthy  Status = "healthy"
	StatusError    Status = "error"
	// StatusOKSkipped is returned when a check arrives inside the debounce
	// window; no probe was made.
	StatusOKSkipped Status = "ok_skipped"
)

// Prober is the liveness probe against the engine. *engine.Client satisfies it.
type Prober interface {
	Probe(ctx context.Context) error
}

// RunState is the supervisor's process-alive check.
type RunState interface {
	IsRunning() bool
}

// Restarter restarts the engine when the failure threshold is crossed.
type Restarter interface {
	Restart() error
}

// Check is the outcome of one health evaluation.
type Check struct {
	Status              Status
	Message             string
	ConsecutiveFailures int
	Timestamp           time.Time
}

// Options configures a Monitor. Zero values fall back to defaults.
type Options struct {
	Interval     time.Duration // debounce window and loop cadence
	ProbeTimeout time.Duration // generous, to tolerate slow startup
	MaxFailures  int
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 30 * time.Second
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 3
	}
}

// Monitor owns the health state. The mutex doubles as the debounce gate:
// exactly one caller per interval does real work, the rest observe the
// refreshed check time and return ok_skipped.
type Monitor struct {
	prober   Prober
	runState RunState
	opts     Options
	log      *slog.Logger
	inst     *observability.Instruments

	mu                  sync.Mutex
	consecutiveFailures int
	lastCheck           time.Time
}

// New creates a health monitor over the given probe and run-state sources.
func New(prober Prober, runState RunState, opts Options, log *slog.Logger, inst *observability.Instruments) *Monitor {
	opts.applyDefaults()
	return &Monitor{
		prober:   prober,
		runState: runState,
		opts:     opts,
		log:      log,
		inst:     inst,
	}
}

// CheckHealth performs one debounced health evaluation. Calls inside the
// debounce window return ok_skipped without any probe.
func (m *Monitor) CheckHealth(ctx context.Context) Check {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < m.opts.Interval {
		return Check{
			Status:              StatusOKSkipped,
			Message:             "checked recently",
			ConsecutiveFailures: m.consecutiveFailures,
			Timestamp:           now,
		}
	}
	m.lastCheck = now

	if !m.runState.IsRunning() {
		m.consecutiveFailures++
		return Check{
			Status:              StatusError,
			Message:             "process not running",
			ConsecutiveFailures: m.consecutiveFailures,
			Timestamp:           now,
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	switch {
	case err == nil:
		m.consecutiveFailures = 0
		return Check{Status: StatusHealthy, Timestamp: now}

	case errors.Is(err, engine.ErrNotListening):
		// Known startup window: the process is up but the listener is not.
		return Check{
			Status:              StatusStarting,
			Message:             "engine not accepting connections yet",
			ConsecutiveFailures: m.consecutiveFailures,
			Timestamp:           now,
		}

	default:
		m.consecutiveFailures++
		return Check{
			Status:              StatusError,
			Message:             fmt.Sprintf("liveness probe failed: %v", err),
			ConsecutiveFailures: m.consecutiveFailures,
			Timestamp:           now,
		}
	}
}

// ShouldRestart reports whether the failure threshold has been crossed.
// Pure predicate, no side effects.
func (m *Monitor) ShouldRestart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures >= m.opts.MaxFailures
}

// Failures returns the current consecutive-failure count.
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

// Run drives periodic health evaluation until the context is cancelled.
// When the failure threshold is crossed it restarts the engine through the
// given Restarter and resets the counter on success.
func (m *Monitor) Run(ctx context.Context, restarter Restarter) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		check := m.CheckHealth(ctx)
		if check.Status == StatusError {
			m.log.Warn("health check failed",
				"message", check.Message,
				"consecutive_failures", check.ConsecutiveFailures)
		}

		if !m.ShouldRestart() {
			continue
		}

		m.log.Error("failure threshold crossed, restarting engine",
			"consecutive_failures", check.ConsecutiveFailures)
		if err := restarter.Restart(); err != nil {
			m.log.Error("health-triggered restart failed", "error", err)
			continue
		}
		m.inst.RecordRestart(ctx, "health")

		m.mu.Lock()
		m.consecutiveFailures = 0
		m.mu.Unlock()
	}
}
