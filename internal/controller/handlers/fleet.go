package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"comfyguard/internal/fleet"
	"comfyguard/pkg/api"
)

// FleetHandlers holds the fleet registry HTTP handlers served by fleetd.
type FleetHandlers struct {
	registry *fleet.Registry
}

// NewFleet creates handlers over a registry.
func NewFleet(registry *fleet.Registry) *FleetHandlers {
	return &FleetHandlers{registry: registry}
}

func (h *FleetHandlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *FleetHandlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{Error: message, Code: strconv.Itoa(code)})
}

// Ping handles GET /ping.
func (h *FleetHandlers) Ping(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterWorker handles POST /register_worker.
func (h *FleetHandlers) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkerID == "" {
		h.httpError(w, "worker_id is required", http.StatusBadRequest)
		return
	}

	h.registry.Register(req.WorkerID, req.Status)
	h.respondJson(w, http.StatusOK, map[string]string{"status": "registered"})
}

// Heartbeat handles POST /worker_heartbeat. Unknown workers get 404 so
// they re-register.
func (h *FleetHandlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.registry.Heartbeat(req.WorkerID, req.CPUUsage); err != nil {
		if errors.Is(err, fleet.ErrUnknownWorker) {
			h.httpError(w, "Unknown worker", http.StatusNotFound)
			return
		}
		h.httpError(w, "Heartbeat failed", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JobCompleted handles POST /job_completed.
func (h *FleetHandlers) JobCompleted(w http.ResponseWriter, r *http.Request) {
	var req api.JobCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.registry.JobCompleted(req.WorkerID, req.Success); err != nil {
		if errors.Is(err, fleet.ErrUnknownWorker) {
			h.httpError(w, "Unknown worker", http.StatusNotFound)
			return
		}
		h.httpError(w, "Recording job completion failed", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListWorkers handles GET /workers.
func (h *FleetHandlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, api.WorkersResponse{Workers: h.registry.Snapshot()})
}

// PickWorker handles GET /pick_worker. It assigns one job slot on the
// selected worker.
func (h *FleetHandlers) PickWorker(w http.ResponseWriter, r *http.Request) {
	workerID, err := h.registry.PickWorker()
	if err != nil {
		if errors.Is(err, fleet.ErrNoWorkerAvailable) {
			h.httpError(w, "No worker available", http.StatusServiceUnavailable)
			return
		}
		h.httpError(w, "Picking worker failed", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"worker_id": workerID})
}
