// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command decision starts the AleutianDecide HTTP server.
//
// This is the main entry point for the containerized decision
// service. It reads configuration from an optional YAML file plus
// environment variables and serves the decision API.
//
// # Environment Variables
//
//   - DECISION_CONFIG: Path to the YAML config file (optional)
//   - DECISION_PORT: HTTP server port (default: 8080)
//   - DECISION_DATAFILE_LOCAL_DIR: Serve datafiles from a watched directory
//   - DECISION_PROFILES_BACKEND: memory, badger or none (default: memory)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o decision ./cmd/decision
//
//	# Run
//	./decision
//
//	# Or via container
//	podman-compose up decision
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	decision "github.com/AleutianAI/AleutianDecide/services/decision"
	"github.com/AleutianAI/AleutianDecide/services/decision/config"
)

func main() {
	cfg, err := config.Load(os.Getenv("DECISION_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	svc, err := decision.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create decision service: %v", err)
	}

	// Serve until SIGINT/SIGTERM, then drain.
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Decision service error: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			log.Fatalf("Shutdown error: %v", err)
		}
	}
}
