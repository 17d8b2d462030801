// Package supervisor owns the lifecycle of the supervised engine process:
// start, stop, kill, restart, crash detection and bounded auto-restart.
// Nothing else in the system is allowed to signal the engine.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"comfyguard/internal/observability"
)

// ErrRestartThrottled reports that the restart ceiling was reached inside
// the cooldown window. The process stays stopped until the window elapses.
var ErrRestartThrottled = errors.New("restart throttled: ceiling reached within cooldown")

// Options configures a Supervisor. Zero durations fall back to defaults.
type Options struct {
	Autorestart     bool
	MaxRestarts     int
	RestartCooldown time.Duration

	StopGrace       time.Duration // wait after SIGTERM before SIGKILL
	SettleDelay     time.Duration // pause between stop and start on restart
	MonitorInterval time.Duration // crash monitor poll cadence
	CrashBackoff    time.Duration // pause before relaunching a crashed engine
}

func (o *Options) applyDefaults() {
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 5
	}
	if o.RestartCooldown <= 0 {
		o.RestartCooldown = 60 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 10 * time.Second
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = 5 * time.Second
	}
	if o.CrashBackoff <= 0 {
		o.CrashBackoff = 2 * time.Second
	}
}

// Status is a point-in-time snapshot of the supervised process.
type Status struct {
	Running      bool
	PID          int
	RestartCount int
	LastRestart  time.Time
	Uptime       time.Duration
}

// Supervisor manages exactly one engine process. All handle mutation happens
// under one mutex so concurrent starts can never double-spawn.
type Supervisor struct {
	launcher Launcher
	opts     Options
	log      *slog.Logger
	inst     *observability.Instruments

	mu           sync.Mutex
	proc         Proc
	running      bool
	restartCount int
	lastRestart  time.Time
	startedAt    time.Time

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// New creates a supervisor for the process the launcher spawns.
func New(launcher Launcher, opts Options, log *slog.Logger, inst *observability.Instruments) *Supervisor {
	opts.applyDefaults()
	return &Supervisor{
		launcher: launcher,
		opts:     opts,
		log:      log,
		inst:     inst,
	}
}

// Start launches the engine unless it is already running. A start attempt
// past the restart ceiling inside the cooldown window returns
// ErrRestartThrottled. Spawn failures are returned, never propagated as a
// crash of the supervisor itself.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Supervisor) startLocked() error {
	if s.procAliveLocked() {
		s.log.Info("engine already running", "pid", s.proc.PID())
		return nil
	}

	// A full cooldown window of quiet forgives earlier restarts.
	if s.restartCount >= s.opts.MaxRestarts {
		if time.Since(s.lastRestart) < s.opts.RestartCooldown {
			return fmt.Errorf("%w (restarts=%d, cooldown=%s)",
				ErrRestartThrottled, s.restartCount, s.opts.RestartCooldown)
		}
		s.restartCount = 0
	}

	proc, err := s.launcher.Launch()
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	now := time.Now()
	s.proc = proc
	s.running = true
	s.restartCount++
	s.lastRestart = now
	s.startedAt = now

	if s.opts.Autorestart && s.monitorCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.monitorCancel = cancel
		s.monitorDone = make(chan struct{})
		go s.monitor(ctx, s.monitorDone)
	}

	s.log.Info("engine started", "pid", proc.PID(), "restart_count", s.restartCount)
	return nil
}

// Stop terminates the engine gracefully: SIGTERM, a bounded grace period,
// then SIGKILL. Calling Stop on a stopped supervisor is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelMonitorLocked()
	return s.stopLocked(false)
}

// Kill terminates the engine immediately with SIGKILL. Idempotent.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelMonitorLocked()
	return s.stopLocked(true)
}

func (s *Supervisor) stopLocked(force bool) error {
	if !s.procAliveLocked() {
		s.proc = nil
		s.running = false
		return nil
	}

	pid := s.proc.PID()
	if force {
		s.log.Warn("killing engine", "pid", pid)
		if err := s.proc.Signal(syscall.SIGKILL); err != nil {
			return fmt.Errorf("kill engine: %w", err)
		}
		<-s.proc.Done()
	} else {
		s.log.Info("stopping engine", "pid", pid)
		if err := s.proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("stop engine: %w", err)
		}
		select {
		case <-s.proc.Done():
		case <-time.After(s.opts.StopGrace):
			s.log.Warn("engine ignored SIGTERM, escalating", "pid", pid)
			if err := s.proc.Signal(syscall.SIGKILL); err != nil {
				return fmt.Errorf("kill engine after grace: %w", err)
			}
			<-s.proc.Done()
		}
	}

	s.proc = nil
	s.running = false
	return nil
}

// Restart stops the engine, waits for it to settle, and starts it again.
func (s *Supervisor) Restart() error {
	if err := s.Stop(); err != nil {
		return err
	}
	time.Sleep(s.opts.SettleDelay)
	return s.Start()
}

// IsRunning reports whether the engine process is alive right now.
// Side-effect-free snapshot; may be one monitor interval stale for callers
// racing a crash.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procAliveLocked()
}

// Status returns a snapshot of the handle.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		RestartCount: s.restartCount,
		LastRestart:  s.lastRestart,
	}
	if s.procAliveLocked() {
		st.Running = true
		st.PID = s.proc.PID()
		st.Uptime = time.Since(s.startedAt)
	}
	return st
}

// Shutdown stops the crash monitor and the engine. Used on daemon exit.
func (s *Supervisor) Shutdown() error {
	err := s.Stop()
	s.mu.Lock()
	done := s.monitorDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return err
}

// running flag AND a live process; liveness is the reaper's done channel.
func (s *Supervisor) procAliveLocked() bool {
	if s.proc == nil || !s.running {
		return false
	}
	select {
	case <-s.proc.Done():
		return false
	default:
		return true
	}
}

func (s *Supervisor) cancelMonitorLocked() {
	if s.monitorCancel != nil {
		s.monitorCancel()
		s.monitorCancel = nil
	}
}

// monitor is the sole self-healing mechanism for process crashes. It polls
// the handle, relaunches a crashed engine after a short backoff, and stops
// itself when a recovery start fails rather than busy-looping.
func (s *Supervisor) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		crashed := s.running && s.proc != nil && !s.procAliveLocked()
		s.mu.Unlock()
		if !crashed {
			continue
		}

		s.log.Error("engine crashed, scheduling restart", "backoff", s.opts.CrashBackoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.CrashBackoff):
		}

		s.mu.Lock()
		// Stop/Kill cancels under the same lock, so a recovery start can
		// never race a deliberate shutdown.
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		err := s.startLocked()
		s.mu.Unlock()

		if err != nil {
			s.log.Error("crash recovery failed, monitor stopping", "error", err)
			s.mu.Lock()
			if ctx.Err() == nil {
				s.cancelMonitorLocked()
			}
			s.mu.Unlock()
			return
		}
		s.inst.RecordRestart(ctx, "crash")
	}
}
