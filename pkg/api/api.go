// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the supervisor and the fleet registry.
package api

import (
	"encoding/json"
	"time"
)

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Running      bool       `json:"running"`
	PID          int        `json:"pid,omitempty"`
	RestartCount int        `json:"restart_count"`
	LastRestart  *time.Time `json:"last_restart,omitempty"`
	UptimeSecs   float64    `json:"uptime_seconds"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status              string    `json:"status"`
	Message             string    `json:"message,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// WorkerInfoResponse is the response body for GET /worker.
type WorkerInfoResponse struct {
	WorkerID     string  `json:"worker_id"`
	Status       string  `json:"status"`
	CPUUsage     float64 `json:"cpu_usage"`
	UptimeSecs   float64 `json:"uptime_seconds"`
	RestartCount int     `json:"restart_count"`
}

// MetricsResponse is the response body for GET /metrics/runtime.
type MetricsResponse struct {
	CPUUsage       float64   `json:"cpu_usage"`
	MemoryUsage    float64   `json:"memory_usage"`
	ProcessRunning bool      `json:"process_running"`
	WorkerID       string    `json:"worker_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// LifecycleResponse is the response body for POST /restart, /stop and /kill.
type LifecycleResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Lifecycle status values.
const (
	LifecycleSuccess = "success"
	LifecycleFailed  = "failed"
	LifecycleStopped = "stopped"
	LifecycleKilled  = "killed"
)

// JobInput carries side-input values spliced into a workflow before submission.
type JobInput struct {
	Prompt string `json:"prompt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Seed   *int64 `json:"seed,omitempty"`
	// Images are base64-encoded source images, pre-uploaded to the engine
	// and referenced by name from image-loading nodes.
	Images []InputImage `json:"images,omitempty"`
}

// InputImage is a base64-encoded source image for image-to-image workflows.
type InputImage struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// ProcessJobRequest is the request body for POST /jobs.
// Either Workflow (inline payload) or Template (name of a stored
// workflow template) must be set.
type ProcessJobRequest struct {
	Workflow json.RawMessage `json:"workflow,omitempty"`
	Template string          `json:"template,omitempty"`
	Input    *JobInput       `json:"input,omitempty"`
	// TimeoutSecs overrides the default polling deadline, capped by the
	// supervisor's configured maximum.
	TimeoutSecs int `json:"timeout_seconds,omitempty"`
}

// Artifact is one binary output of a completed job, base64-encoded.
type Artifact struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Kind      string `json:"type"`
	Data      string `json:"data"`
}

// ProcessJobResponse is the response body for POST /jobs.
type ProcessJobResponse struct {
	Success       bool       `json:"success"`
	CorrelationID string     `json:"correlation_id"`
	State         string     `json:"state"`
	Artifacts     []Artifact `json:"artifacts,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ArchivedJobResponse is the response body for GET /jobs/{id}.
type ArchivedJobResponse struct {
	CorrelationID string    `json:"correlation_id"`
	State         string    `json:"state"`
	Reason        string    `json:"reason,omitempty"`
	ArtifactCount int       `json:"artifact_count"`
	SubmittedAt   time.Time `json:"submitted_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RegisterWorkerRequest is the request body for POST /register_worker.
type RegisterWorkerRequest struct {
	WorkerID string `json:"worker_id"`
	Status   string `json:"status,omitempty"`
}

// HeartbeatRequest is the request body for POST /worker_heartbeat.
type HeartbeatRequest struct {
	WorkerID string  `json:"worker_id"`
	CPUUsage float64 `json:"cpu_usage"`
}

// JobCompletedRequest is the request body for POST /job_completed.
type JobCompletedRequest struct {
	WorkerID string `json:"worker_id"`
	JobID    string `json:"job_id"`
	Success  bool   `json:"success"`
}

// WorkerDescriptor is one worker entry in GET /workers responses.
type WorkerDescriptor struct {
	WorkerID      string    `json:"worker_id"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CurrentJobs   int       `json:"current_jobs"`
	TotalJobs     int       `json:"total_jobs"`
	CPUUsage      float64   `json:"cpu_usage"`
}

// WorkersResponse is the response body for GET /workers.
type WorkersResponse struct {
	Workers []WorkerDescriptor `json:"workers"`
}

// Worker status values used by the fleet registry.
const (
	WorkerHealthy = "healthy"
	WorkerBusy    = "busy"
	WorkerError   = "error"
	WorkerOffline = "offline"
)
