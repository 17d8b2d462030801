// Package handlers contains HTTP handlers for the supervisor control API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"comfyguard/internal/health"
	"comfyguard/internal/job"
	"comfyguard/internal/observability"
	"comfyguard/internal/store"
	"comfyguard/internal/supervisor"
	"comfyguard/pkg/api"
)

// Supervisor is the process-lifecycle surface the handlers drive.
type Supervisor interface {
	Start() error
	Stop() error
	Kill() error
	Restart() error
	IsRunning() bool
	Status() supervisor.Status
}

// HealthChecker runs one debounced health evaluation.
type HealthChecker interface {
	CheckHealth(ctx context.Context) health.Check
}

// JobRunner drives one job to a terminal state.
type JobRunner interface {
	Process(ctx context.Context, req job.Request) job.Result
}

// TemplateSource resolves named workflow templates. May be nil when no
// template directory is configured.
type TemplateSource interface {
	Get(name string) (json.RawMessage, error)
}

// Deps collects the handler dependencies.
type Deps struct {
	Supervisor Supervisor
	Health     HealthChecker
	Jobs       JobRunner
	Templates  TemplateSource
	Archive    store.Archive
	Inst       *observability.Instruments
	WorkerID   string
	Log        *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	deps      Deps
	startedAt time.Time
}

// New creates a new Handlers instance.
func New(deps Deps) *Handlers {
	return &Handlers{deps: deps, startedAt: time.Now()}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
