// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, time.Minute, cfg.Datafile.PollInterval)
	assert.Equal(t, "memory", cfg.Profiles.Backend)
	assert.Equal(t, 10, cfg.Batch.MaxOperations)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrency)
	assert.True(t, cfg.Telemetry.EnableMetrics)
	assert.False(t, cfg.Telemetry.EnableTracing)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_YAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decision.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9090
log:
  level: debug
datafile:
  pollInterval: 30s
  localDir: /var/lib/datafiles
profiles:
  backend: badger
  path: /var/lib/profiles
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Datafile.PollInterval)
	assert.Equal(t, "/var/lib/datafiles", cfg.Datafile.LocalDir)
	assert.Equal(t, "badger", cfg.Profiles.Backend)
	assert.Equal(t, "/var/lib/profiles", cfg.Profiles.Path)

	// Untouched sections keep their defaults.
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, 10, cfg.Batch.MaxOperations)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decision.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [what"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decision.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0600))

	t.Setenv("DECISION_PORT", "7070")
	t.Setenv("DECISION_LOG_LEVEL", "warn")
	t.Setenv("DECISION_DATAFILE_POLL_INTERVAL", "5m")
	t.Setenv("DECISION_PROFILES_BACKEND", "none")
	t.Setenv("DECISION_CMAB_ENDPOINT_TEMPLATE", "https://cmab.internal/%s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Datafile.PollInterval)
	assert.Equal(t, "none", cfg.Profiles.Backend)
	assert.Equal(t, "https://cmab.internal/%s", cfg.Cmab.EndpointTemplate)
}

func TestLoad_IgnoresUnparseableEnvValues(t *testing.T) {
	t.Setenv("DECISION_PORT", "not-a-number")
	t.Setenv("DECISION_DATAFILE_POLL_INTERVAL", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Minute, cfg.Datafile.PollInterval)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port out of range", "port: 70000\n"},
		{"bad gin mode", "ginMode: production\n"},
		{"bad profile backend", "profiles:\n  backend: redis\n"},
		{"zero batch limit", "batch:\n  maxOperations: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "decision.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0600))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}
