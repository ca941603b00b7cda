package main

import (
	"context"
	"log"

	"github.com/f4s4b4/elevenlabs-webhook/internal/bootstrap"
	"github.com/f4s4b4/elevenlabs-webhook/internal/config"
	"github.com/f4s4b4/elevenlabs-webhook/internal/observability"
	"github.com/f4s4b4/elevenlabs-webhook/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewLogger()
	ctx := context.Background()

	deps, err := bootstrap.Initialize(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize dependencies", err)
	}

	srv := server.New(cfg, deps, logger)
	srv.Setup()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start server", err)
	}

	if err := srv.WaitForShutdown(ctx); err != nil {
		logger.Fatal(ctx, "shutdown failed", err)
	}
}
