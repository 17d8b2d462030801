// Package fleet implements the worker registry served by fleetd and the
// reporter a supervisor daemon runs to stay registered with it.
package fleet

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"comfyguard/pkg/api"
)

var (
	// ErrUnknownWorker is returned for heartbeats and job reports from a
	// worker the registry has no record of.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrNoWorkerAvailable is returned when no healthy worker has capacity.
	ErrNoWorkerAvailable = errors.New("no worker available")
)

// RegistryOptions tunes eviction and capacity.
type RegistryOptions struct {
	// EvictAfter removes a worker whose last heartbeat is older than this.
	EvictAfter time.Duration
	// SweepInterval paces the eviction loop.
	SweepInterval time.Duration
	// MaxConcurrentJobs caps how many jobs PickWorker routes to one worker.
	MaxConcurrentJobs int
}

func (o *RegistryOptions) applyDefaults() {
	if o.EvictAfter <= 0 {
		o.EvictAfter = 30 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Second
	}
	if o.MaxConcurrentJobs <= 0 {
		o.MaxConcurrentJobs = 3
	}
}

type workerState struct {
	id            string
	status        string
	lastHeartbeat time.Time
	currentJobs   int
	totalJobs     int
	cpuUsage      float64
}

// Registry tracks live workers. It owns its state outright; all access
// goes through its methods, one mutex guards the map.
type Registry struct {
	opts RegistryOptions
	log  *slog.Logger

	// now is swapped in tests.
	now func() time.Time

	mu      sync.Mutex
	workers map[string]*workerState
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions, log *slog.Logger) *Registry {
	opts.applyDefaults()
	return &Registry{
		opts:    opts,
		log:     log,
		now:     time.Now,
		workers: make(map[string]*workerState),
	}
}

// Register adds a worker or resets an existing entry. Registering is
// idempotent; a re-register keeps the total-jobs counter.
func (r *Registry) Register(workerID, status string) {
	if status == "" {
		status = api.WorkerHealthy
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		w = &workerState{id: workerID}
		r.workers[workerID] = w
		r.log.Info("worker registered", "worker_id", workerID)
	}
	w.status = status
	w.lastHeartbeat = r.now()
	w.currentJobs = 0
}

// Heartbeat refreshes a worker's liveness and CPU sample.
func (r *Registry) Heartbeat(workerID string, cpuUsage float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrUnknownWorker
	}
	w.lastHeartbeat = r.now()
	w.cpuUsage = cpuUsage
	if w.status == api.WorkerOffline {
		w.status = api.WorkerHealthy
	}
	return nil
}

// JobCompleted records a finished job for a worker.
func (r *Registry) JobCompleted(workerID string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrUnknownWorker
	}
	if w.currentJobs > 0 {
		w.currentJobs--
	}
	w.totalJobs++
	if w.status == api.WorkerBusy && w.currentJobs < r.opts.MaxConcurrentJobs {
		w.status = api.WorkerHealthy
	}
	if !success {
		r.log.Warn("worker reported failed job", "worker_id", workerID)
	}
	return nil
}

// PickWorker selects the least-loaded worker with capacity and assigns it
// one job: candidates are non-error, non-offline workers under the
// concurrency cap, ordered by current jobs then CPU usage.
func (r *Registry) PickWorker() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*workerState
	for _, w := range r.workers {
		if w.status == api.WorkerError || w.status == api.WorkerOffline {
			continue
		}
		if w.currentJobs >= r.opts.MaxConcurrentJobs {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return "", ErrNoWorkerAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].currentJobs != candidates[j].currentJobs {
			return candidates[i].currentJobs < candidates[j].currentJobs
		}
		return candidates[i].cpuUsage < candidates[j].cpuUsage
	})

	picked := candidates[0]
	picked.currentJobs++
	if picked.currentJobs >= r.opts.MaxConcurrentJobs {
		picked.status = api.WorkerBusy
	}
	return picked.id, nil
}

// Snapshot returns all workers ordered by id.
func (r *Registry) Snapshot() []api.WorkerDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]api.WorkerDescriptor, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, api.WorkerDescriptor{
			WorkerID:      w.id,
			Status:        w.status,
			LastHeartbeat: w.lastHeartbeat,
			CurrentJobs:   w.currentJobs,
			TotalJobs:     w.totalJobs,
			CPUUsage:      w.cpuUsage,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

// Run sweeps out silent workers until the context is canceled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictSilent()
		}
	}
}

func (r *Registry) evictSilent() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.opts.EvictAfter)
	for id, w := range r.workers {
		if w.lastHeartbeat.Before(cutoff) {
			delete(r.workers, id)
			r.log.Info("worker evicted", "worker_id", id, "last_heartbeat", w.lastHeartbeat)
		}
	}
}
