// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decision provides the top-level decision service for
// AleutianDecide.
//
// This package contains the main Service type that coordinates all
// components of the service: HTTP routing, the SDK-key client
// registry, the batch coordinator, and observability infrastructure.
//
// # Usage
//
//	cfg := config.Default()
//	svc, err := decision.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package decision

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianDecide/pkg/logging"
	"github.com/AleutianAI/AleutianDecide/services/decision/batch"
	"github.com/AleutianAI/AleutianDecide/services/decision/cmab"
	"github.com/AleutianAI/AleutianDecide/services/decision/config"
	"github.com/AleutianAI/AleutianDecide/services/decision/observability"
	"github.com/AleutianAI/AleutianDecide/services/decision/odp"
	"github.com/AleutianAI/AleutianDecide/services/decision/registry"
	"github.com/AleutianAI/AleutianDecide/services/decision/routes"
	"github.com/AleutianAI/AleutianDecide/services/decision/ups"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the decision service lifecycle.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until Shutdown or a
	// fatal server error.
	Run() error

	// Shutdown stops the HTTP server gracefully, then releases the
	// registry and its pollers.
	Shutdown(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service wires the registry, batch coordinator and HTTP surface
// together. All fields are read-only after New() returns.
type service struct {
	config        config.Config
	logger        *logging.Logger
	router        *gin.Engine
	httpServer    *http.Server
	registry      *registry.Registry
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a decision Service with the given configuration.
//
// # Description
//
// New initializes every component:
//  1. Structured logging per the log config
//  2. OpenTelemetry tracing (when enabled)
//  3. Prometheus metrics (when enabled)
//  4. Datafile fetcher: CDN poller or local fsnotify directory
//  5. Per-SDK-key profile store factory (memory or badger)
//  6. The client registry and batch coordinator
//  7. HTTP routes
//
// A nil logger builds one from the config.
func New(cfg config.Config, logger *logging.Logger) (Service, error) {
	if logger == nil {
		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Log.Level),
			LogDir:  cfg.Log.Dir,
			Service: "decision",
			JSON:    cfg.Log.JSON,
		})
	}

	s := &service{
		config: cfg,
		logger: logger,
	}

	if cfg.Telemetry.EnableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if cfg.Telemetry.EnableMetrics && observability.DefaultMetrics == nil {
		observability.InitMetrics()
		logger.Info("initialized prometheus metrics")
	}

	reg, err := s.initRegistry()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}
	s.registry = reg

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}
	s.logger.Info("starting decision server", "port", s.config.Port)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, then stops the registry and
// the tracer.
func (s *service) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := s.registry.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.cleanup()
	return firstErr
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for the in-cluster
// collector.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.Telemetry.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("decision-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown OTLP exporter", "error", err.Error())
		}
	}

	return cleanup, nil
}

// initRegistry builds the datafile fetcher, the profile store
// factory and the client registry.
func (s *service) initRegistry() (*registry.Registry, error) {
	regCfg := registry.Config{
		PollInterval: s.config.Datafile.PollInterval,
		Profiles:     s.profileFactory(),
		Cmab: cmab.PredictClientConfig{
			EndpointTemplate:  s.config.Cmab.EndpointTemplate,
			Timeout:           s.config.Cmab.Timeout,
			RequestsPerSecond: s.config.Cmab.RequestsPerSecond,
		},
		ODP: odp.Config{
			Timeout:           s.config.ODP.Timeout,
			SegmentsCacheSize: s.config.ODP.SegmentsCacheSize,
			SegmentsCacheTTL:  s.config.ODP.SegmentsCacheTTL,
		},
		Logger: s.logger,
	}

	if dir := s.config.Datafile.LocalDir; dir != "" {
		regCfg.Fetcher = registry.NewLocalFetcher(dir)
		regCfg.Watch = true
		s.logger.Info("datafiles served from local directory", "dir", dir)
	} else {
		regCfg.Fetcher = registry.NewCDNFetcher(registry.CDNFetcherConfig{
			URLTemplate: s.config.Datafile.URLTemplate,
			Timeout:     s.config.Datafile.FetchTimeout,
		})
	}

	return registry.New(regCfg)
}

// profileFactory maps the configured backend to a per-SDK-key store
// constructor.
func (s *service) profileFactory() registry.StoreFactory {
	switch s.config.Profiles.Backend {
	case "badger":
		return func(sdkKey string) (ups.Store, error) {
			cfg := ups.DefaultBadgerConfig(filepath.Join(s.config.Profiles.Path, sdkKey))
			cfg.Logger = s.logger.Slog()
			return ups.NewBadgerStore(cfg)
		}
	case "memory":
		return func(string) (ups.Store, error) {
			return ups.NewMemoryStore(), nil
		}
	default:
		// "none": decisions run without sticky bucketing.
		return nil
	}
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if s.config.Telemetry.EnableTracing {
		s.router.Use(otelgin.Middleware("decision-service"))
	}

	coordinator := batch.NewCoordinator(batch.Config{
		Handler:        s.router,
		MaxOperations:  s.config.Batch.MaxOperations,
		MaxConcurrency: s.config.Batch.MaxConcurrency,
	})
	routes.SetupRoutes(s.router, s.registry, coordinator)
}

// cleanup releases resources held outside the registry.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
