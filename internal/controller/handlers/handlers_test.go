package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"comfyguard/internal/health"
	"comfyguard/internal/job"
	"comfyguard/internal/store"
	"comfyguard/internal/supervisor"
	"comfyguard/internal/workflow"
)

// mockSupervisor implements the Supervisor interface for handler tests.
type mockSupervisor struct {
	status     supervisor.Status
	running    bool
	startErr   error
	stopErr    error
	killErr    error
	restartErr error

	restarts int
	stops    int
	kills    int
}

func (m *mockSupervisor) Start() error { return m.startErr }

func (m *mockSupervisor) Stop() error {
	m.stops++
	return m.stopErr
}

func (m *mockSupervisor) Kill() error {
	m.kills++
	return m.killErr
}

func (m *mockSupervisor) Restart() error {
	m.restarts++
	return m.restartErr
}

func (m *mockSupervisor) IsRunning() bool { return m.running }

func (m *mockSupervisor) Status() supervisor.Status { return m.status }

type mockHealth struct {
	check health.Check
}

func (m *mockHealth) CheckHealth(context.Context) health.Check { return m.check }

type mockJobRunner struct {
	result   job.Result
	requests []job.Request
}

func (m *mockJobRunner) Process(_ context.Context, req job.Request) job.Result {
	m.requests = append(m.requests, req)
	if m.result.CorrelationID == "" {
		m.result.CorrelationID = "job-test"
	}
	return m.result
}

type mockTemplates struct {
	templates map[string]json.RawMessage
}

func (m *mockTemplates) Get(name string) (json.RawMessage, error) {
	tpl, ok := m.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, name)
	}
	return tpl, nil
}

type mockArchive struct {
	records map[string]store.JobRecord
	getErr  error
}

func (m *mockArchive) Save(_ context.Context, rec store.JobRecord) error {
	if m.records == nil {
		m.records = make(map[string]store.JobRecord)
	}
	m.records[rec.CorrelationID] = rec
	return nil
}

func (m *mockArchive) Get(_ context.Context, id string) (store.JobRecord, error) {
	if m.getErr != nil {
		return store.JobRecord{}, m.getErr
	}
	rec, ok := m.records[id]
	if !ok {
		return store.JobRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *mockArchive) Recent(context.Context, int) ([]store.JobRecord, error) { return nil, nil }

func (m *mockArchive) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDeps() Deps {
	return Deps{
		Supervisor: &mockSupervisor{running: true, status: supervisor.Status{Running: true, PID: 4242, Uptime: 90 * time.Second}},
		Health:     &mockHealth{check: health.Check{Status: health.StatusHealthy, Timestamp: time.Now()}},
		Jobs:       &mockJobRunner{},
		WorkerID:   "w-test",
		Log:        testLogger(),
	}
}
