package handlers

import (
	"errors"
	"net/http"

	"comfyguard/internal/health"
	"comfyguard/internal/supervisor"
	"comfyguard/pkg/api"
)

// GetStatus handles GET /status.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.deps.Supervisor.Status()

	resp := api.StatusResponse{
		Running:      st.Running,
		PID:          st.PID,
		RestartCount: st.RestartCount,
		UptimeSecs:   st.Uptime.Seconds(),
	}
	if !st.LastRestart.IsZero() {
		t := st.LastRestart
		resp.LastRestart = &t
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetHealth handles GET /health. Calls within the debounce window return
// the cached verdict as ok_skipped.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	check := h.deps.Health.CheckHealth(r.Context())

	code := http.StatusOK
	if check.Status == health.StatusError {
		code = http.StatusServiceUnavailable
	}
	h.respondJson(w, code, api.HealthResponse{
		Status:              string(check.Status),
		Message:             check.Message,
		ConsecutiveFailures: check.ConsecutiveFailures,
		Timestamp:           check.Timestamp,
	})
}

// Restart handles POST /restart.
func (h *Handlers) Restart(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Supervisor.Restart(); err != nil {
		if errors.Is(err, supervisor.ErrRestartThrottled) {
			h.respondJson(w, http.StatusTooManyRequests, api.LifecycleResponse{
				Status:  api.LifecycleFailed,
				Message: err.Error(),
			})
			return
		}
		h.respondJson(w, http.StatusInternalServerError, api.LifecycleResponse{
			Status:  api.LifecycleFailed,
			Message: err.Error(),
		})
		return
	}

	h.deps.Inst.RecordRestart(r.Context(), "manual")
	h.deps.Log.Info("engine restarted on request")
	h.respondJson(w, http.StatusOK, api.LifecycleResponse{Status: api.LifecycleSuccess})
}

// StopEngine handles POST /stop.
func (h *Handlers) StopEngine(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Supervisor.Stop(); err != nil {
		h.respondJson(w, http.StatusInternalServerError, api.LifecycleResponse{
			Status:  api.LifecycleFailed,
			Message: err.Error(),
		})
		return
	}
	h.deps.Log.Info("engine stopped on request")
	h.respondJson(w, http.StatusOK, api.LifecycleResponse{Status: api.LifecycleStopped})
}

// KillEngine handles POST /kill.
func (h *Handlers) KillEngine(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Supervisor.Kill(); err != nil {
		h.respondJson(w, http.StatusInternalServerError, api.LifecycleResponse{
			Status:  api.LifecycleFailed,
			Message: err.Error(),
		})
		return
	}
	h.deps.Log.Info("engine killed on request")
	h.respondJson(w, http.StatusOK, api.LifecycleResponse{Status: api.LifecycleKilled})
}
