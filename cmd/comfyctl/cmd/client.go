package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"comfyguard/pkg/api"
)

// SupervisorClient handles API calls to the supervisor control surface.
type SupervisorClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSupervisorClient creates a new client with the given base URL.
func NewSupervisorClient(baseURL string) *SupervisorClient {
	return &SupervisorClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *SupervisorClient) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out, http.StatusOK)
}

func (c *SupervisorClient) post(path string, body, out any, okCodes ...int) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	return c.do(req, out, okCodes...)
}

func (c *SupervisorClient) do(req *http.Request, out any, okCodes ...int) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	ok := false
	for _, code := range okCodes {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// GetStatus sends GET /status.
func (c *SupervisorClient) GetStatus() (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.get("/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHealth sends GET /health. A 503 still carries a health body.
func (c *SupervisorClient) GetHealth() (*api.HealthResponse, error) {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var out api.HealthResponse
	if err := c.do(req, &out, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lifecycle sends POST /restart, /stop or /kill.
func (c *SupervisorClient) Lifecycle(action string) (*api.LifecycleResponse, error) {
	var out api.LifecycleResponse
	if err := c.post("/"+action, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessJob sends POST /jobs and waits for the terminal result. The HTTP
// timeout is stretched to cover the job deadline.
func (c *SupervisorClient) ProcessJob(req api.ProcessJobRequest) (*api.ProcessJobResponse, error) {
	timeout := 6 * time.Minute
	if req.TimeoutSecs > 0 {
		timeout = time.Duration(req.TimeoutSecs)*time.Second + time.Minute
	}
	client := &http.Client{Timeout: timeout}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, c.BaseURL+"/jobs", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	// Terminal error and timeout states still carry a full job response.
	var out api.ProcessJobResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	return &out, nil
}

// GetJob sends GET /jobs/{id} for the archived record.
func (c *SupervisorClient) GetJob(correlationID string) (*api.ArchivedJobResponse, error) {
	var out api.ArchivedJobResponse
	if err := c.get("/jobs/"+correlationID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkers sends GET /workers to a fleet registry.
func (c *SupervisorClient) ListWorkers() (*api.WorkersResponse, error) {
	var out api.WorkersResponse
	if err := c.get("/workers", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
