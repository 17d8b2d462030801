package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"comfyguard/internal/job"
	"comfyguard/internal/store"
	"comfyguard/pkg/api"
)

func TestProcessJob(t *testing.T) {
	inlineBody, _ := json.Marshal(api.ProcessJobRequest{
		Workflow:    json.RawMessage(`{"3":{"inputs":{"text":"x"}}}`),
		TimeoutSecs: 60,
	})
	templateBody, _ := json.Marshal(api.ProcessJobRequest{Template: "txt2img"})

	tests := []struct {
		name           string
		body           []byte
		result         job.Result
		templates      TemplateSource
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "inline workflow success",
			body:           inlineBody,
			result:         job.Result{State: job.StateSuccess, Artifacts: []api.Artifact{{Filename: "a.png", Data: "aGk="}}},
			expectedStatus: http.StatusOK,
			expectedInBody: `"success":true`,
		},
		{
			name:           "template success",
			body:           templateBody,
			result:         job.Result{State: job.StateSuccess},
			templates:      &mockTemplates{templates: map[string]json.RawMessage{"txt2img": json.RawMessage(`{"3":{"inputs":{}}}`)}},
			expectedStatus: http.StatusOK,
			expectedInBody: `"state":"success"`,
		},
		{
			name:           "unknown template",
			body:           templateBody,
			templates:      &mockTemplates{},
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Unknown workflow template",
		},
		{
			name:           "template without store",
			body:           templateBody,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "No template directory configured",
		},
		{
			name:           "invalid json",
			body:           []byte(`{broken`),
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "missing workflow and template",
			body:           []byte(`{}`),
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Workflow or template is required",
		},
		{
			name:           "engine error",
			body:           inlineBody,
			result:         job.Result{State: job.StateError, Reason: "node 7 failed"},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "node 7 failed",
		},
		{
			name:           "timeout",
			body:           inlineBody,
			result:         job.Result{State: job.StateTimeout, Reason: "no terminal status"},
			expectedStatus: http.StatusGatewayTimeout,
			expectedInBody: `"state":"timeout"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockJobRunner{result: tt.result}
			deps := testDeps()
			deps.Jobs = runner
			deps.Templates = tt.templates
			h := New(deps)

			rr := httptest.NewRecorder()
			h.ProcessJob(rr, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(tt.body)))

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected %d, got %d", tt.expectedStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("expected body containing %q, got %s", tt.expectedInBody, rr.Body.String())
			}
		})
	}
}

func TestProcessJob_ForwardsDeadline(t *testing.T) {
	runner := &mockJobRunner{result: job.Result{State: job.StateSuccess}}
	deps := testDeps()
	deps.Jobs = runner
	h := New(deps)

	body, _ := json.Marshal(api.ProcessJobRequest{
		Workflow:    json.RawMessage(`{"3":{"inputs":{}}}`),
		TimeoutSecs: 90,
	})
	rr := httptest.NewRecorder()
	h.ProcessJob(rr, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body)))

	if len(runner.requests) != 1 {
		t.Fatalf("expected 1 processed request, got %d", len(runner.requests))
	}
	if got := runner.requests[0].Deadline; got != 90*time.Second {
		t.Errorf("expected 90s deadline, got %v", got)
	}
}

func TestGetJob(t *testing.T) {
	archived := store.JobRecord{
		CorrelationID: "job-1",
		State:         job.StateSuccess,
		ArtifactCount: 2,
		SubmittedAt:   time.Now().Add(-time.Minute).UTC(),
		CompletedAt:   time.Now().UTC(),
	}

	tests := []struct {
		name           string
		id             string
		archive        store.Archive
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "found",
			id:             "job-1",
			archive:        &mockArchive{records: map[string]store.JobRecord{"job-1": archived}},
			expectedStatus: http.StatusOK,
			expectedInBody: `"artifact_count":2`,
		},
		{
			name:           "not found",
			id:             "job-missing",
			archive:        &mockArchive{},
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Job not found",
		},
		{
			name:           "no archive configured",
			id:             "job-1",
			expectedStatus: http.StatusNotFound,
			expectedInBody: "No job archive configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			deps.Archive = tt.archive
			h := New(deps)

			req := httptest.NewRequest(http.MethodGet, "/jobs/"+tt.id, nil)
			req.SetPathValue("id", tt.id)
			rr := httptest.NewRecorder()
			h.GetJob(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected %d, got %d", tt.expectedStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("expected body containing %q, got %s", tt.expectedInBody, rr.Body.String())
			}
		})
	}
}
