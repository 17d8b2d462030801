package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"comfyguard/pkg/api"
)

const reporterTimeout = 10 * time.Second

// Reporter keeps one supervisor daemon registered with a fleet registry:
// it registers on start, heartbeats on an interval and forwards job
// completions. A heartbeat rejected with 404 means the registry lost the
// worker, so the reporter registers again.
type Reporter struct {
	baseURL    string
	workerID   string
	interval   time.Duration
	log        *slog.Logger
	httpClient *http.Client

	// cpuPercent is swapped in tests.
	cpuPercent func(ctx context.Context) float64
}

// NewReporter creates a reporter for the registry at baseURL.
func NewReporter(baseURL, workerID string, interval time.Duration, log *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reporter{
		baseURL:    baseURL,
		workerID:   workerID,
		interval:   interval,
		log:        log,
		httpClient: &http.Client{Timeout: reporterTimeout},
		cpuPercent: sampleCPU,
	}
}

// Run registers the worker and heartbeats until the context is canceled.
// Registry outages are logged and retried on the next tick.
func (r *Reporter) Run(ctx context.Context) error {
	if err := r.register(ctx); err != nil {
		r.log.Warn("fleet registration failed, will retry", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil {
				r.log.Warn("fleet heartbeat failed", "error", err)
			}
		}
	}
}

// JobCompleted forwards a job outcome to the registry. Best-effort.
func (r *Reporter) JobCompleted(ctx context.Context, jobID string, success bool) {
	body := api.JobCompletedRequest{WorkerID: r.workerID, JobID: jobID, Success: success}
	if _, err := r.post(ctx, "/job_completed", body); err != nil {
		r.log.Warn("reporting job completion failed", "job_id", jobID, "error", err)
	}
}

func (r *Reporter) register(ctx context.Context) error {
	body := api.RegisterWorkerRequest{WorkerID: r.workerID, Status: api.WorkerHealthy}
	status, err := r.post(ctx, "/register_worker", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("registry returned status %d", status)
	}
	r.log.Info("registered with fleet registry", "registry", r.baseURL)
	return nil
}

func (r *Reporter) heartbeat(ctx context.Context) error {
	body := api.HeartbeatRequest{WorkerID: r.workerID, CPUUsage: r.cpuPercent(ctx)}
	status, err := r.post(ctx, "/worker_heartbeat", body)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		// Registry restarted and forgot us.
		return r.register(ctx)
	}
	if status != http.StatusOK {
		return fmt.Errorf("registry returned status %d", status)
	}
	return nil
}

func (r *Reporter) post(ctx context.Context, path string, body any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// sampleCPU returns the host CPU utilization percentage. Sampling
// failures degrade to zero.
func sampleCPU(ctx context.Context) float64 {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}
