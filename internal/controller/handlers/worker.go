package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"comfyguard/pkg/api"
)

// sampleSystem returns host CPU and memory utilization percentages.
// Sampling failures degrade to zero values. Swapped in tests.
var sampleSystem = func(ctx context.Context) (cpuPct, memPct float64) {
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memPct = vm.UsedPercent
	}
	return cpuPct, memPct
}

// GetWorkerInfo handles GET /worker.
func (h *Handlers) GetWorkerInfo(w http.ResponseWriter, r *http.Request) {
	st := h.deps.Supervisor.Status()
	cpuPct, _ := sampleSystem(r.Context())

	status := api.WorkerHealthy
	if !st.Running {
		status = api.WorkerOffline
	}

	h.respondJson(w, http.StatusOK, api.WorkerInfoResponse{
		WorkerID:     h.deps.WorkerID,
		Status:       status,
		CPUUsage:     cpuPct,
		UptimeSecs:   time.Since(h.startedAt).Seconds(),
		RestartCount: st.RestartCount,
	})
}

// GetRuntimeMetrics handles GET /metrics/runtime.
func (h *Handlers) GetRuntimeMetrics(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := sampleSystem(r.Context())

	h.respondJson(w, http.StatusOK, api.MetricsResponse{
		CPUUsage:       cpuPct,
		MemoryUsage:    memPct,
		ProcessRunning: h.deps.Supervisor.IsRunning(),
		WorkerID:       h.deps.WorkerID,
		Timestamp:      time.Now().UTC(),
	})
}
