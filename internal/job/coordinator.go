// Package job implements the job-lifecycle state machine: validate,
// splice side-input, submit to the supervised engine, poll for completion
// and collect output artifacts into one terminal result.
package job

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"comfyguard/internal/engine"
	"comfyguard/internal/logger"
	"comfyguard/internal/observability"
	"comfyguard/internal/store"
	"comfyguard/pkg/api"
)

// Terminal states. Every job reaches exactly one of them.
const (
	StateSuccess = "success"
	StateError   = "error"
	StateTimeout = "timeout"
)

// Engine history status markers.
const (
	historySuccess = "success"
	historyError   = "error"
)

// EngineAPI is the slice of the engine client the coordinator uses.
type EngineAPI interface {
	SubmitPrompt(ctx context.Context, workflow json.RawMessage) (string, error)
	Queue(ctx context.Context) (engine.QueueState, error)
	History(ctx context.Context, promptID string) (*engine.HistoryEntry, bool, error)
	View(ctx context.Context, ref engine.ImageRef) ([]byte, error)
	UploadImage(ctx context.Context, name string, data []byte) (string, error)
}

// RunState is the supervisor's pre-flight process check.
type RunState interface {
	IsRunning() bool
}

// Notifier receives job-completion events (the fleet reporter). May be nil.
type Notifier interface {
	JobCompleted(ctx context.Context, jobID string, success bool)
}

// Options configures the coordinator's polling behavior.
type Options struct {
	PollInterval    time.Duration
	DefaultDeadline time.Duration
	MaxDeadline     time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.DefaultDeadline <= 0 {
		o.DefaultDeadline = 300 * time.Second
	}
	if o.MaxDeadline < o.DefaultDeadline {
		o.MaxDeadline = 1200 * time.Second
	}
}

// Request is one unit of work. CorrelationID is generated when empty;
// Deadline falls back to the default and is capped at the maximum.
type Request struct {
	CorrelationID string
	Workflow      json.RawMessage
	Input         *api.JobInput
	Deadline      time.Duration
}

// Result is the terminal outcome of one job.
type Result struct {
	CorrelationID string
	State         string
	Reason        string
	Artifacts     []api.Artifact
	SubmittedAt   time.Time
	CompletedAt   time.Time
}

// Coordinator runs the per-job state machine. Each job's bookkeeping is
// independent, so overlapping Process calls are safe; the engine's own
// queue is the serialization point for the actual work.
type Coordinator struct {
	engine   EngineAPI
	runState RunState
	opts     Options
	log      *slog.Logger
	inst     *observability.Instruments
	archive  store.Archive // may be nil
	notifier Notifier      // may be nil
}

// New creates a coordinator. archive and notifier are optional.
func New(eng EngineAPI, runState RunState, opts Options, log *slog.Logger,
	inst *observability.Instruments, archive store.Archive, notifier Notifier) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		engine:   eng,
		runState: runState,
		opts:     opts,
		log:      log,
		inst:     inst,
		archive:  archive,
		notifier: notifier,
	}
}

// Process runs one job to a terminal state. It never returns an error:
// every fault becomes a terminal error/timeout Result.
func (c *Coordinator) Process(ctx context.Context, req Request) Result {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	ctx = logger.WithCorrelationID(ctx, req.CorrelationID)
	log := logger.FromContext(ctx, c.log)

	tracer := otel.Tracer("comfyguard-coordinator")
	ctx, span := tracer.Start(ctx, "process_job",
		trace.WithAttributes(attribute.String("job.correlation_id", req.CorrelationID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	submittedAt := time.Now()
	result := c.run(ctx, req, log)
	result.CorrelationID = req.CorrelationID
	result.SubmittedAt = submittedAt
	result.CompletedAt = time.Now()

	span.SetAttributes(attribute.String("job.state", result.State))
	if result.State != StateSuccess {
		span.SetAttributes(attribute.String("job.reason", result.Reason))
	}
	c.inst.RecordJob(ctx, result.State, result.CompletedAt.Sub(submittedAt).Seconds())

	c.finish(ctx, result, log)
	return result
}

// run executes the pipeline and returns the terminal state and artifacts.
func (c *Coordinator) run(ctx context.Context, req Request, log *slog.Logger) Result {
	// Validate: a workflow is a non-empty JSON object. The engine owns the
	// rest of the shape.
	if !isWorkflowPayload(req.Workflow) {
		return Result{State: StateError, Reason: "workflow payload must be a non-empty JSON object"}
	}

	// Pre-flight: don't bother the network when the process is down.
	if !c.runState.IsRunning() {
		return Result{State: StateError, Reason: "engine process not running"}
	}

	workflow := req.Workflow
	if req.Input != nil {
		uploaded := c.uploadImages(ctx, req.Input, log)
		workflow = splice(workflow, req.Input, uploaded, log)
	}

	promptID, err := c.engine.SubmitPrompt(ctx, workflow)
	if err != nil {
		return Result{State: StateError, Reason: fmt.Sprintf("submit workflow: %v", err)}
	}
	if promptID == "" {
		return Result{State: StateError, Reason: "engine returned no prompt id"}
	}
	log.Info("workflow submitted", "prompt_id", promptID)

	entry, state := c.awaitCompletion(ctx, promptID, req.Deadline, log)
	switch state {
	case StateTimeout:
		return Result{State: StateTimeout, Reason: fmt.Sprintf("no terminal status for prompt %s before deadline", promptID)}
	case StateError:
		return Result{State: StateError, Reason: entry.Status.ErrorText()}
	}

	artifacts, err := c.collectArtifacts(ctx, entry)
	if err != nil {
		// Partial artifact sets are never returned as success.
		return Result{State: StateError, Reason: err.Error()}
	}

	log.Info("job completed", "prompt_id", promptID, "artifacts", len(artifacts))
	return Result{State: StateSuccess, Artifacts: artifacts}
}

// uploadImages pre-uploads side-input source images. Best-effort: a failed
// upload is logged and skipped, matching the splicer's fallback semantics.
func (c *Coordinator) uploadImages(ctx context.Context, in *api.JobInput, log *slog.Logger) []string {
	var uploaded []string
	for _, img := range in.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			log.Warn("skipping malformed source image", "name", img.Name, "error", err)
			continue
		}
		name, err := c.engine.UploadImage(ctx, img.Name, data)
		if err != nil {
			log.Warn("source image upload failed", "name", img.Name, "error", err)
			continue
		}
		uploaded = append(uploaded, name)
	}
	return uploaded
}

// awaitCompletion polls until the engine history carries a terminal marker
// or the deadline expires. The history marker is authoritative; absence
// from the running queue only prompts a history lookup, because the engine
// may dequeue a job an instant before it writes history.
func (c *Coordinator) awaitCompletion(ctx context.Context, promptID string, deadline time.Duration, log *slog.Logger) (*engine.HistoryEntry, string) {
	if deadline <= 0 {
		deadline = c.opts.DefaultDeadline
	}
	if deadline > c.opts.MaxDeadline {
		deadline = c.opts.MaxDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, StateTimeout
		case <-ticker.C:
		}

		queue, err := c.engine.Queue(ctx)
		if err != nil {
			log.Warn("queue poll failed", "error", err)
		} else if queue.IsRunning(promptID) {
			continue
		}

		entry, found, err := c.engine.History(ctx, promptID)
		if err != nil {
			log.Warn("history poll failed", "error", err)
			continue
		}
		if !found {
			// Dequeued but history not written yet; keep polling.
			continue
		}

		switch entry.Status.StatusStr {
		case historySuccess:
			return entry, StateSuccess
		case historyError:
			return entry, StateError
		default:
			continue
		}
	}
}

// collectArtifacts fetches every image the history record references, in
// node-id order. One failed fetch fails the whole job.
func (c *Coordinator) collectArtifacts(ctx context.Context, entry *engine.HistoryEntry) ([]api.Artifact, error) {
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var artifacts []api.Artifact
	for _, nodeID := range nodeIDs {
		for _, ref := range entry.Outputs[nodeID].Images {
			data, err := c.engine.View(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("fetch artifact %s: %w", ref.Filename, err)
			}
			artifacts = append(artifacts, api.Artifact{
				Filename:  ref.Filename,
				Subfolder: ref.Subfolder,
				Kind:      ref.Type,
				Data:      base64.StdEncoding.EncodeToString(data),
			})
		}
	}
	return artifacts, nil
}

// finish archives the terminal record and notifies the fleet, both
// best-effort.
func (c *Coordinator) finish(ctx context.Context, result Result, log *slog.Logger) {
	if c.archive != nil {
		rec := store.JobRecord{
			CorrelationID: result.CorrelationID,
			State:         result.State,
			Reason:        result.Reason,
			ArtifactCount: len(result.Artifacts),
			SubmittedAt:   result.SubmittedAt,
			CompletedAt:   result.CompletedAt,
		}
		if err := c.archive.Save(ctx, rec); err != nil {
			log.Warn("archiving job record failed", "error", err)
		}
	}
	if c.notifier != nil {
		c.notifier.JobCompleted(ctx, result.CorrelationID, result.State == StateSuccess)
	}
}

// isWorkflowPayload reports whether the payload is a non-empty JSON object.
func isWorkflowPayload(payload json.RawMessage) bool {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return false
	}
	parsed := gjson.ParseBytes(payload)
	if !parsed.IsObject() {
		return false
	}
	empty := true
	parsed.ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	return !empty
}
