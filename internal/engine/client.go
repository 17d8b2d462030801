// Package engine provides a typed HTTP client for the supervised
// image-generation engine. The engine's API is a fixed external contract:
// jobs go in through /prompt, completion is tracked via /queue and
// /history, and binary artifacts come back through /view.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Per-operation request budgets. The probe budget is owned by the caller
// (the health monitor tolerates slow startup), so Probe takes its deadline
// from the context alone.
const (
	submitTimeout   = 30 * time.Second
	pollTimeout     = 10 * time.Second
	artifactTimeout = 60 * time.Second
	uploadTimeout   = 60 * time.Second
)

// Client talks to one supervised engine instance.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// New creates a client for the engine at baseURL. clientID is sent with
// every job submission so the engine can attribute queue entries.
func New(baseURL, clientID string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		// Deadlines are per-call contexts, not a blanket client timeout.
		httpClient: &http.Client{},
	}
}

// Probe performs a liveness check against the engine's stats endpoint.
// It returns nil when the engine answers 200, ErrNotListening when nothing
// accepts the connection, and a StatusError on any other response.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: readBodyPrefix(resp.Body)}
	}
	return nil
}

// SubmitPrompt submits a workflow payload and returns the engine's prompt id.
func (c *Client) SubmitPrompt(ctx context.Context, workflow json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"prompt":    workflow,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal prompt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Body: readBodyPrefix(resp.Body)}
	}

	var out struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode prompt response: %w", err)
	}
	return out.PromptID, nil
}

// QueueState is the engine's view of in-flight work.
type QueueState struct {
	running map[string]struct{}
}

// NewQueueState builds a QueueState holding the given running prompt ids.
func NewQueueState(running ...string) QueueState {
	state := QueueState{running: make(map[string]struct{}, len(running))}
	for _, id := range running {
		state.running[id] = struct{}{}
	}
	return state
}

// IsRunning reports whether the given prompt id is currently executing.
func (q QueueState) IsRunning(promptID string) bool {
	_, ok := q.running[promptID]
	return ok
}

// Queue fetches the engine's running queue.
func (c *Client) Queue(ctx context.Context) (QueueState, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return QueueState{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return QueueState{}, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueueState{}, &StatusError{Code: resp.StatusCode, Body: readBodyPrefix(resp.Body)}
	}

	// queue_running entries are heterogenous arrays; the prompt id is the
	// second element.
	var out struct {
		QueueRunning [][]json.RawMessage `json:"queue_running"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return QueueState{}, fmt.Errorf("decode queue response: %w", err)
	}

	ids := make([]string, 0, len(out.QueueRunning))
	for _, entry := range out.QueueRunning {
		if len(entry) < 2 {
			continue
		}
		var id string
		if err := json.Unmarshal(entry[1], &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return NewQueueState(ids...), nil
}

// ImageRef identifies one binary artifact in the engine's output store.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the output carried by one workflow node.
type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

// HistoryStatus is the terminal marker the engine writes for a finished job.
type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Messages  []json.RawMessage `json:"messages"`
}

// ErrorText joins the status messages into one human-readable string.
func (s HistoryStatus) ErrorText() string {
	if len(s.Messages) == 0 {
		return "engine reported an error without messages"
	}
	parts := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		parts = append(parts, string(m))
	}
	return strings.Join(parts, "; ")
}

// HistoryEntry is one job's record in the engine history.
type HistoryEntry struct {
	Status  HistoryStatus         `json:"status"`
	Outputs map[string]NodeOutput `json:"outputs"`
}

// History looks up the history record for a prompt id. The boolean is false
// when the engine has not written a record yet, which is not an error.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, &StatusError{Code: resp.StatusCode, Body: readBodyPrefix(resp.Body)}
	}

	var out map[string]HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("decode history response: %w", err)
	}

	entry, ok := out[promptID]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// View fetches the raw bytes of one artifact.
func (c *Client) View(ctx context.Context, ref ImageRef) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, artifactTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: readBodyPrefix(resp.Body)}
	}
	return io.ReadAll(resp.Body)
}

// UploadImage pre-uploads a source image so workflows can reference it by
// name. Returns the name the engine stored the image under.
func (c *Client) UploadImage(ctx context.Context, name string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Body: readBodyPrefix(resp.Body)}
	}

	var out struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.Name == "" {
		out.Name = name
	}
	return out.Name, nil
}

// readBodyPrefix reads a bounded prefix of an error response body for
// inclusion in error messages.
func readBodyPrefix(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
