package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"comfyguard/internal/job"
	"comfyguard/internal/store"
	"comfyguard/internal/workflow"
	"comfyguard/pkg/api"
)

// ProcessJob handles POST /jobs. It blocks until the job reaches a
// terminal state; callers bound the wait with timeout_seconds.
func (h *Handlers) ProcessJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.ProcessJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	payload := req.Workflow
	if req.Template != "" {
		if h.deps.Templates == nil {
			h.httpError(w, "No template directory configured", http.StatusBadRequest)
			return
		}
		tpl, err := h.deps.Templates.Get(req.Template)
		if err != nil {
			if errors.Is(err, workflow.ErrNotFound) {
				h.httpError(w, "Unknown workflow template", http.StatusNotFound)
				return
			}
			h.httpError(w, "Loading workflow template failed", http.StatusInternalServerError)
			return
		}
		payload = tpl
	}
	if len(payload) == 0 {
		h.httpError(w, "Workflow or template is required", http.StatusBadRequest)
		return
	}

	result := h.deps.Jobs.Process(ctx, job.Request{
		Workflow: payload,
		Input:    req.Input,
		Deadline: time.Duration(req.TimeoutSecs) * time.Second,
	})

	resp := api.ProcessJobResponse{
		Success:       result.State == job.StateSuccess,
		CorrelationID: result.CorrelationID,
		State:         result.State,
		Artifacts:     result.Artifacts,
		Error:         result.Reason,
	}

	code := http.StatusOK
	switch result.State {
	case job.StateTimeout:
		code = http.StatusGatewayTimeout
	case job.StateError:
		code = http.StatusInternalServerError
	}
	h.respondJson(w, code, resp)
}

// GetJob handles GET /jobs/{id}. It serves the archived terminal record.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil {
		h.httpError(w, "No job archive configured", http.StatusNotFound)
		return
	}

	rec, err := h.deps.Archive.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Reading job archive failed", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.ArchivedJobResponse{
		CorrelationID: rec.CorrelationID,
		State:         rec.State,
		Reason:        rec.Reason,
		ArtifactCount: rec.ArtifactCount,
		SubmittedAt:   rec.SubmittedAt,
		CompletedAt:   rec.CompletedAt,
	})
}
