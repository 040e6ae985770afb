// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads decision service configuration. Values layer
// in precedence order: built-in defaults, then an optional YAML file,
// then DECISION_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate checks struct tags on load.
var validate = validator.New()

// Config is the full service configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port" validate:"gt=0,lte=65535"`

	// GinMode sets the Gin framework mode: debug, release or test.
	GinMode string `yaml:"ginMode" validate:"oneof=debug release test"`

	Log       Log       `yaml:"log"`
	Datafile  Datafile  `yaml:"datafile"`
	Profiles  Profiles  `yaml:"profiles"`
	Cmab      Cmab      `yaml:"cmab"`
	ODP       ODP       `yaml:"odp"`
	Batch     Batch     `yaml:"batch"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Log configures pkg/logging.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Dir enables JSON file logging when non-empty.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// Datafile configures datafile acquisition.
type Datafile struct {
	// URLTemplate is the CDN URL with one %s for the SDK key. Empty
	// uses the public CDN.
	URLTemplate string `yaml:"urlTemplate"`

	// PollInterval between refreshes.
	PollInterval time.Duration `yaml:"pollInterval"`

	// FetchTimeout bounds one datafile download.
	FetchTimeout time.Duration `yaml:"fetchTimeout"`

	// LocalDir switches to local-file mode: datafiles are read from
	// <dir>/<sdkKey>.json and hot-reloaded via fsnotify.
	LocalDir string `yaml:"localDir"`
}

// Profiles configures the user profile store.
type Profiles struct {
	// Backend is memory, badger or none.
	Backend string `yaml:"backend" validate:"oneof=memory badger none"`

	// Path is the badger data directory, one subdirectory per SDK
	// key. Required for the badger backend.
	Path string `yaml:"path"`
}

// Cmab configures the prediction client.
type Cmab struct {
	// EndpointTemplate has one %s for the experiment id. Empty uses
	// the public prediction endpoint.
	EndpointTemplate string `yaml:"endpointTemplate"`

	// Timeout bounds one prediction call.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond rate-limits outbound predictions.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// ODP configures the non-datafile ODP settings; host and key come
// from each project's datafile.
type ODP struct {
	Timeout           time.Duration `yaml:"timeout"`
	SegmentsCacheSize int           `yaml:"segmentsCacheSize"`
	SegmentsCacheTTL  time.Duration `yaml:"segmentsCacheTTL"`
}

// Batch configures the batch coordinator.
type Batch struct {
	// MaxOperations caps one batch request.
	MaxOperations int `yaml:"maxOperations" validate:"gt=0"`

	// MaxConcurrency bounds parallel replayed operations.
	MaxConcurrency int `yaml:"maxConcurrency" validate:"gt=0"`
}

// Telemetry configures metrics and tracing.
type Telemetry struct {
	// EnableMetrics registers prometheus metrics and /metrics.
	EnableMetrics bool `yaml:"enableMetrics"`

	// EnableTracing starts the OTLP tracer.
	EnableTracing bool `yaml:"enableTracing"`

	// OTelEndpoint is the OTLP gRPC collector address.
	OTelEndpoint string `yaml:"otelEndpoint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:    8080,
		GinMode: "release",
		Log: Log{
			Level: "info",
		},
		Datafile: Datafile{
			PollInterval: time.Minute,
			FetchTimeout: 10 * time.Second,
		},
		Profiles: Profiles{
			Backend: "memory",
		},
		Cmab: Cmab{
			Timeout:           10 * time.Second,
			RequestsPerSecond: 10,
		},
		ODP: ODP{
			Timeout:           10 * time.Second,
			SegmentsCacheSize: 100,
			SegmentsCacheTTL:  10 * time.Minute,
		},
		Batch: Batch{
			MaxOperations:  10,
			MaxConcurrency: 5,
		},
		Telemetry: Telemetry{
			EnableMetrics: true,
			OTelEndpoint:  "aleutian-otel-collector:4317",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays DECISION_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DECISION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.GinMode = v
	}
	if v := os.Getenv("DECISION_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DECISION_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("DECISION_DATAFILE_URL_TEMPLATE"); v != "" {
		cfg.Datafile.URLTemplate = v
	}
	if v := os.Getenv("DECISION_DATAFILE_LOCAL_DIR"); v != "" {
		cfg.Datafile.LocalDir = v
	}
	if v := os.Getenv("DECISION_DATAFILE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Datafile.PollInterval = d
		}
	}
	if v := os.Getenv("DECISION_PROFILES_BACKEND"); v != "" {
		cfg.Profiles.Backend = v
	}
	if v := os.Getenv("DECISION_PROFILES_PATH"); v != "" {
		cfg.Profiles.Path = v
	}
	if v := os.Getenv("DECISION_CMAB_ENDPOINT_TEMPLATE"); v != "" {
		cfg.Cmab.EndpointTemplate = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTelEndpoint = v
	}
}
