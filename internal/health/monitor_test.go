package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"comfyguard/internal/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProber struct {
	mu    sync.Mutex
	errs  []error // consumed in order; last one repeats
	calls int
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func (p *fakeProber) probeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeRunState struct{ running bool }

func (r *fakeRunState) IsRunning() bool { return r.running }

type fakeRestarter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeRestarter) Restart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *fakeRestarter) restartCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestMonitor(p Prober, running bool, opts Options) *Monitor {
	return New(p, &fakeRunState{running: running}, opts, testLogger(), nil)
}

func TestCheckHealth_Healthy(t *testing.T) {
	p := &fakeProber{}
	m := newTestMonitor(p, true, Options{})

	check := m.CheckHealth(context.Background())
	if check.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", check.Status)
	}
	if check.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0", check.ConsecutiveFailures)
	}
}

func TestCheckHealth_DebounceSkipsProbe(t *testing.T) {
	p := &fakeProber{}
	m := newTestMonitor(p, true, Options{Interval: time.Hour})

	first := m.CheckHealth(context.Background())
	if first.Status != StatusHealthy {
		t.Fatalf("first status = %s, want healthy", first.Status)
	}

	second := m.CheckHealth(context.Background())
	if second.Status != StatusOKSkipped {
		t.Errorf("second status = %s, want ok_skipped", second.Status)
	}
	if p.probeCalls() != 1 {
		t.Errorf("probe calls = %d, want 1 (debounced)", p.probeCalls())
	}
}

func TestCheckHealth_ProcessNotRunning(t *testing.T) {
	p := &fakeProber{}
	m := newTestMonitor(p, false, Options{Interval: time.Nanosecond})

	check := m.CheckHealth(context.Background())
	if check.Status != StatusError {
		t.Errorf("status = %s, want error", check.Status)
	}
	if check.ConsecutiveFailures != 1 {
		t.Errorf("failures = %d, want 1", check.ConsecutiveFailures)
	}
	if p.probeCalls() != 0 {
		t.Errorf("probe calls = %d, want 0 when process is down", p.probeCalls())
	}
}

func TestCheckHealth_StartingDoesNotCountAsFailure(t *testing.T) {
	notListening := fmt.Errorf("probe: %w", engine.ErrNotListening)
	p := &fakeProber{errs: []error{notListening, notListening, notListening, notListening, notListening}}
	m := newTestMonitor(p, true, Options{Interval: time.Nanosecond})

	for i := 0; i < 5; i++ {
		check := m.CheckHealth(context.Background())
		if check.Status != StatusStarting {
			t.Fatalf("status = %s, want starting", check.Status)
		}
		if check.ConsecutiveFailures != 0 {
			t.Fatalf("failures = %d, want 0 during startup window", check.ConsecutiveFailures)
		}
		time.Sleep(time.Millisecond)
	}
	if m.ShouldRestart() {
		t.Error("ShouldRestart() = true during startup window")
	}
}

func TestCheckHealth_NonOKResponseIsError(t *testing.T) {
	p := &fakeProber{errs: []error{&engine.StatusError{Code: 500}}}
	m := newTestMonitor(p, true, Options{Interval: time.Nanosecond})

	check := m.CheckHealth(context.Background())
	if check.Status != StatusError {
		t.Errorf("status = %s, want error", check.Status)
	}
	if check.ConsecutiveFailures != 1 {
		t.Errorf("failures = %d, want 1", check.ConsecutiveFailures)
	}
}

func TestShouldRestart_ThresholdAndReset(t *testing.T) {
	probeErr := errors.New("connection reset")
	p := &fakeProber{errs: []error{probeErr, probeErr, probeErr}}
	m := newTestMonitor(p, true, Options{Interval: time.Nanosecond, MaxFailures: 3})

	for i := 1; i <= 3; i++ {
		check := m.CheckHealth(context.Background())
		if check.Status != StatusError {
			t.Fatalf("check #%d status = %s, want error", i, check.Status)
		}
		want := i >= 3
		if got := m.ShouldRestart(); got != want {
			t.Errorf("after %d failures ShouldRestart() = %v, want %v", i, got, want)
		}
		time.Sleep(time.Millisecond)
	}

	// A single success resets the counter.
	check := m.CheckHealth(context.Background())
	if check.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy", check.Status)
	}
	if m.ShouldRestart() {
		t.Error("ShouldRestart() = true right after a success")
	}
	if m.Failures() != 0 {
		t.Errorf("Failures() = %d, want 0 after success", m.Failures())
	}
}

func TestRun_RestartsAfterThreshold(t *testing.T) {
	probeErr := errors.New("boom")
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = probeErr
	}
	p := &fakeProber{errs: errs}
	m := newTestMonitor(p, true, Options{
		Interval:    5 * time.Millisecond,
		MaxFailures: 2,
	})
	r := &fakeRestarter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, r)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && r.restartCalls() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if r.restartCalls() == 0 {
		t.Fatal("restarter never invoked")
	}
	if m.Failures() != 0 {
		t.Errorf("Failures() = %d, want 0 after successful restart", m.Failures())
	}
}

func TestRun_ExitsOnCancel(t *testing.T) {
	m := newTestMonitor(&fakeProber{}, true, Options{Interval: time.Millisecond})
	r := &fakeRestarter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, r)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit within one interval of cancellation")
	}
}
