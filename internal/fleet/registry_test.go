package fleet

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"

	"comfyguard/pkg/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRegistry() *Registry {
	return NewRegistry(RegistryOptions{
		EvictAfter:        30 * time.Second,
		SweepInterval:     time.Second,
		MaxConcurrentJobs: 3,
	}, testLogger())
}

func TestRegister_Idempotent(t *testing.T) {
	r := testRegistry()
	r.Register("w-1", "")
	r.Register("w-1", api.WorkerHealthy)

	workers := r.Snapshot()
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}
	if workers[0].Status != api.WorkerHealthy {
		t.Errorf("expected status %q, got %q", api.WorkerHealthy, workers[0].Status)
	}
}

func TestHeartbeat_UnknownWorker(t *testing.T) {
	r := testRegistry()
	if err := r.Heartbeat("ghost", 10); !errors.Is(err, ErrUnknownWorker) {
		t.Errorf("expected ErrUnknownWorker, got %v", err)
	}
	if err := r.JobCompleted("ghost", true); !errors.Is(err, ErrUnknownWorker) {
		t.Errorf("expected ErrUnknownWorker, got %v", err)
	}
}

func TestPickWorker_LeastLoaded(t *testing.T) {
	r := testRegistry()
	r.Register("w-busy", "")
	r.Register("w-idle", "")
	r.Register("w-hot", "")

	// w-busy carries 2 jobs, w-idle and w-hot carry none, w-hot runs hotter.
	for i := 0; i < 2; i++ {
		if _, err := r.PickWorker(); err != nil {
			t.Fatalf("seeding picks: %v", err)
		}
	}
	if err := r.Heartbeat("w-hot", 90); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := r.Heartbeat("w-idle", 5); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// Among tied job counts the cooler worker wins.
	picked, err := r.PickWorker()
	if err != nil {
		t.Fatalf("PickWorker: %v", err)
	}
	if picked == "w-hot" {
		t.Errorf("expected the cooler of the tied workers, got %q", picked)
	}
}

func TestPickWorker_SkipsSaturatedAndUnhealthy(t *testing.T) {
	r := testRegistry()
	r.Register("w-1", "")
	r.Register("w-2", api.WorkerError)

	for i := 0; i < 3; i++ {
		picked, err := r.PickWorker()
		if err != nil {
			t.Fatalf("pick %d: %v", i, err)
		}
		if picked != "w-1" {
			t.Fatalf("expected w-1, got %q", picked)
		}
	}

	// w-1 is now at the concurrency cap and w-2 is in error state.
	if _, err := r.PickWorker(); !errors.Is(err, ErrNoWorkerAvailable) {
		t.Errorf("expected ErrNoWorkerAvailable, got %v", err)
	}

	workers := r.Snapshot()
	if workers[0].Status != api.WorkerBusy {
		t.Errorf("expected saturated worker marked %q, got %q", api.WorkerBusy, workers[0].Status)
	}

	// Completing one job frees capacity and clears busy.
	if err := r.JobCompleted("w-1", true); err != nil {
		t.Fatalf("JobCompleted: %v", err)
	}
	picked, err := r.PickWorker()
	if err != nil {
		t.Fatalf("PickWorker after completion: %v", err)
	}
	if picked != "w-1" {
		t.Errorf("expected w-1, got %q", picked)
	}
}

func TestJobCompleted_Counters(t *testing.T) {
	r := testRegistry()
	r.Register("w-1", "")

	if _, err := r.PickWorker(); err != nil {
		t.Fatalf("PickWorker: %v", err)
	}
	if err := r.JobCompleted("w-1", false); err != nil {
		t.Fatalf("JobCompleted: %v", err)
	}
	// A stray completion never drives the gauge negative.
	if err := r.JobCompleted("w-1", true); err != nil {
		t.Fatalf("JobCompleted: %v", err)
	}

	w := r.Snapshot()[0]
	if w.CurrentJobs != 0 {
		t.Errorf("expected 0 current jobs, got %d", w.CurrentJobs)
	}
	if w.TotalJobs != 2 {
		t.Errorf("expected 2 total jobs, got %d", w.TotalJobs)
	}
}

func TestEvictSilent(t *testing.T) {
	r := testRegistry()
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Register("w-stale", "")
	r.Register("w-live", "")

	// Time passes; only w-live heartbeats.
	now = now.Add(31 * time.Second)
	if err := r.Heartbeat("w-live", 12); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	r.evictSilent()

	workers := r.Snapshot()
	if len(workers) != 1 || workers[0].WorkerID != "w-live" {
		t.Fatalf("expected only w-live to survive, got %+v", workers)
	}

	// The evicted worker must re-register before heartbeating again.
	if err := r.Heartbeat("w-stale", 1); !errors.Is(err, ErrUnknownWorker) {
		t.Errorf("expected ErrUnknownWorker after eviction, got %v", err)
	}
}
