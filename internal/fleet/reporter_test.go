package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"comfyguard/pkg/api"
)

// registryStub records fleet API calls and scripts heartbeat responses.
type registryStub struct {
	mu             sync.Mutex
	registers      []api.RegisterWorkerRequest
	heartbeats     []api.HeartbeatRequest
	completions    []api.JobCompletedRequest
	heartbeatCodes []int
}

func (s *registryStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register_worker", func(w http.ResponseWriter, r *http.Request) {
		var req api.RegisterWorkerRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.registers = append(s.registers, req)
		s.mu.Unlock()
	})
	mux.HandleFunc("POST /worker_heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var req api.HeartbeatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.heartbeats = append(s.heartbeats, req)
		code := http.StatusOK
		if len(s.heartbeatCodes) > 0 {
			code = s.heartbeatCodes[0]
			s.heartbeatCodes = s.heartbeatCodes[1:]
		}
		s.mu.Unlock()
		w.WriteHeader(code)
	})
	mux.HandleFunc("POST /job_completed", func(w http.ResponseWriter, r *http.Request) {
		var req api.JobCompletedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.completions = append(s.completions, req)
		s.mu.Unlock()
	})
	return mux
}

func (s *registryStub) counts() (registers, heartbeats, completions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registers), len(s.heartbeats), len(s.completions)
}

func testReporter(url string) *Reporter {
	r := NewReporter(url, "w-test", 10*time.Millisecond, testLogger())
	r.cpuPercent = func(context.Context) float64 { return 42.5 }
	return r
}

func TestReporter_RegistersAndHeartbeats(t *testing.T) {
	stub := &registryStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = testReporter(srv.URL).Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, hb, _ := stub.counts(); hb >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	registers, heartbeats, _ := stub.counts()
	if registers != 1 {
		t.Errorf("expected 1 registration, got %d", registers)
	}
	if heartbeats < 2 {
		t.Fatalf("expected at least 2 heartbeats, got %d", heartbeats)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if got := stub.registers[0].WorkerID; got != "w-test" {
		t.Errorf("unexpected worker id in registration: %q", got)
	}
	if got := stub.heartbeats[0].CPUUsage; got != 42.5 {
		t.Errorf("expected sampled cpu usage in heartbeat, got %v", got)
	}
}

func TestReporter_ReRegistersAfterNotFound(t *testing.T) {
	stub := &registryStub{heartbeatCodes: []int{http.StatusNotFound}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = testReporter(srv.URL).Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg, _, _ := stub.counts(); reg >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	registers, _, _ := stub.counts()
	if registers < 2 {
		t.Errorf("expected a re-registration after 404, got %d registrations", registers)
	}
}

func TestReporter_JobCompleted(t *testing.T) {
	stub := &registryStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	r := testReporter(srv.URL)
	r.JobCompleted(context.Background(), "job-9", true)

	_, _, completions := stub.counts()
	if completions != 1 {
		t.Fatalf("expected 1 completion report, got %d", completions)
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	got := stub.completions[0]
	if got.JobID != "job-9" || !got.Success || got.WorkerID != "w-test" {
		t.Errorf("unexpected completion payload: %+v", got)
	}
}
