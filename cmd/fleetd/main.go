// Package main is the entry point for the comfyguard fleet registry.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"comfyguard/internal/controller"
	"comfyguard/internal/controller/handlers"
	"comfyguard/internal/fleet"
	"comfyguard/internal/logger"
)

func main() {
	addr := flag.String("addr", ":9000", "Address to listen on")
	flag.Parse()

	logg := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := fleet.NewRegistry(fleet.RegistryOptions{}, logg)
	srv := controller.NewFleet(*addr, handlers.NewFleet(registry))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logg.Info("fleet registry listening", "addr", *addr)
		return srv.Run(gctx)
	})
	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Fleet registry stopped: %v", err)
	}
	logg.Info("fleet registry stopped")
}
