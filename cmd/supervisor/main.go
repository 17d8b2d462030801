// Package main is the entry point for the comfyguard supervisor daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"comfyguard/internal/config"
	"comfyguard/internal/controller"
	"comfyguard/internal/controller/handlers"
	"comfyguard/internal/engine"
	"comfyguard/internal/fleet"
	"comfyguard/internal/health"
	"comfyguard/internal/job"
	"comfyguard/internal/logger"
	"comfyguard/internal/observability"
	"comfyguard/internal/store"
	"comfyguard/internal/store/sqlite"
	"comfyguard/internal/supervisor"
	"comfyguard/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "comfyguard-supervisor", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logg.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logg.Warn("metrics shutdown failed", "error", err)
		}
	}()

	inst, err := observability.NewInstruments()
	if err != nil {
		log.Fatalf("Failed to create instruments: %v", err)
	}

	// Engine client and process supervisor
	client := engine.New(cfg.EngineURL(), cfg.WorkerID)
	launcher := supervisor.NewExecLauncher(cfg.EngineCommand, cfg.EngineArgs, cfg.EngineHost, cfg.EnginePort)
	sup := supervisor.New(launcher, supervisor.Options{
		Autorestart:     cfg.EngineAutorestart,
		MaxRestarts:     cfg.MaxRestarts,
		RestartCooldown: cfg.RestartCooldown,
	}, logg, inst)
	defer func() {
		if err := sup.Shutdown(); err != nil {
			logg.Warn("engine shutdown failed", "error", err)
		}
	}()

	if cfg.EngineAutostart {
		if err := sup.Start(); err != nil {
			log.Fatalf("Failed to start engine: %v", err)
		}
	}

	monitor := health.New(client, sup, health.Options{
		Interval:     cfg.HealthInterval,
		ProbeTimeout: cfg.HealthProbeTimeout,
		MaxFailures:  cfg.HealthMaxFailures,
	}, logg, inst)

	// Job archive
	var archive store.Archive
	if cfg.ArchivePath != "" {
		archive, err = sqlite.New(cfg.ArchivePath)
		if err != nil {
			log.Fatalf("Failed to open job archive: %v", err)
		}
		defer archive.Close()
	}

	// Workflow templates
	var templates handlers.TemplateSource
	if cfg.TemplatesDir != "" {
		tplStore, err := workflow.NewStore(cfg.TemplatesDir, logg)
		if err != nil {
			log.Fatalf("Failed to load workflow templates: %v", err)
		}
		defer tplStore.Close()
		templates = tplStore
	}

	// Fleet reporter
	var reporter *fleet.Reporter
	if cfg.FleetURL != "" {
		reporter = fleet.NewReporter(cfg.FleetURL, cfg.WorkerID, cfg.FleetHeartbeatInterval, logg)
	}

	var notifier job.Notifier
	if reporter != nil {
		notifier = reporter
	}
	coordinator := job.New(client, sup, job.Options{
		PollInterval:    cfg.JobPollInterval,
		DefaultDeadline: cfg.JobDefaultDeadline,
		MaxDeadline:     cfg.JobMaxDeadline,
	}, logg, inst, archive, notifier)

	h := handlers.New(handlers.Deps{
		Supervisor: sup,
		Health:     monitor,
		Jobs:       coordinator,
		Templates:  templates,
		Archive:    archive,
		Inst:       inst,
		WorkerID:   cfg.WorkerID,
		Log:        logg,
	})
	srv := controller.New(cfg.ListenAddr, h, controller.Options{
		Metrics:       metricsHandler,
		JobRatePerSec: 5,
		JobBurst:      10,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logg.Info("control surface listening", "addr", cfg.ListenAddr, "worker_id", cfg.WorkerID)
		return srv.Run(gctx)
	})
	g.Go(func() error {
		monitor.Run(gctx, sup)
		return nil
	})
	if reporter != nil {
		g.Go(func() error {
			if err := reporter.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logg.Error("supervisor exited with error", "error", err)
	}
	logg.Info("supervisor stopped")
}
