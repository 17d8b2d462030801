// Package controller contains the HTTP servers for the supervisor control
// API and the fleet registry API.
package controller

import (
	"context"
	"net/http"
	"time"

	"comfyguard/internal/controller/handlers"
	"comfyguard/internal/controller/middleware"
)

// Options tunes the control server.
type Options struct {
	// Metrics is the Prometheus scrape handler mounted at /metrics.
	// Nil disables the route.
	Metrics http.Handler
	// JobRatePerSec and JobBurst bound POST /jobs. Zero rate is unlimited.
	JobRatePerSec float64
	JobBurst      int
}

// Server is an HTTP server wrapper with graceful shutdown.
type Server struct {
	httpServer *http.Server
}

// New creates the supervisor control server.
func New(addr string, h *handlers.Handlers, opts Options) *Server {
	rateLimitMW := middleware.RateLimitMiddleware(opts.JobRatePerSec, opts.JobBurst)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", h.GetStatus)
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /worker", h.GetWorkerInfo)
	mux.HandleFunc("GET /metrics/runtime", h.GetRuntimeMetrics)

	mux.HandleFunc("POST /restart", h.Restart)
	mux.HandleFunc("POST /stop", h.StopEngine)
	mux.HandleFunc("POST /kill", h.KillEngine)

	// The job route blocks for the whole pipeline, so it gets its own
	// admission control.
	mux.Handle("POST /jobs", rateLimitMW(http.HandlerFunc(h.ProcessJob)))
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return newServer(addr, mux)
}

// NewFleet creates the fleet registry server.
func NewFleet(addr string, h *handlers.FleetHandlers) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("GET /workers", h.ListWorkers)
	mux.HandleFunc("GET /pick_worker", h.PickWorker)
	mux.HandleFunc("POST /register_worker", h.RegisterWorker)
	mux.HandleFunc("POST /worker_heartbeat", h.Heartbeat)
	mux.HandleFunc("POST /job_completed", h.JobCompleted)

	return newServer(addr, mux)
}

func newServer(addr string, mux *http.ServeMux) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			// Writes stay open for the duration of a blocking job request.
			WriteTimeout: 25 * time.Minute,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
