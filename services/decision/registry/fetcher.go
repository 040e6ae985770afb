// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultCDNTemplate is the datafile CDN URL, keyed by SDK key.
const DefaultCDNTemplate = "https://cdn.optimizely.com/datafiles/%s.json"

// maxDatafileSize bounds a fetched datafile body.
const maxDatafileSize = 32 << 20

// Fetcher retrieves the raw datafile for an SDK key.
type Fetcher interface {
	Fetch(ctx context.Context, sdkKey string) ([]byte, error)
}

// CDNFetcher pulls datafiles over HTTPS from the CDN.
type CDNFetcher struct {
	httpClient  *http.Client
	urlTemplate string
}

// CDNFetcherConfig configures a CDNFetcher. Zero values pick the
// public CDN template and a 10s timeout.
type CDNFetcherConfig struct {
	URLTemplate string
	Timeout     time.Duration
}

// NewCDNFetcher creates a CDN-backed fetcher.
func NewCDNFetcher(cfg CDNFetcherConfig) *CDNFetcher {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultCDNTemplate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CDNFetcher{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		urlTemplate: cfg.URLTemplate,
	}
}

// Fetch downloads the datafile. A non-200 upstream answer is reported
// with the status line so clients can tell a bad SDK key from an
// outage.
func (f *CDNFetcher) Fetch(ctx context.Context, sdkKey string) ([]byte, error) {
	url := fmt.Sprintf(f.urlTemplate, sdkKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build datafile request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch datafile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"unable to fetch fresh datafile (consider rechecking SDK key), status code: %s",
			resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDatafileSize))
	if err != nil {
		return nil, fmt.Errorf("read datafile body: %w", err)
	}
	return body, nil
}

// LocalFetcher reads datafiles from a directory, one <sdkKey>.json
// per project. Used in air-gapped deployments together with the
// fsnotify watcher.
type LocalFetcher struct {
	dir string
}

// NewLocalFetcher creates a directory-backed fetcher.
func NewLocalFetcher(dir string) *LocalFetcher {
	return &LocalFetcher{dir: dir}
}

// Path returns the file backing an SDK key.
func (f *LocalFetcher) Path(sdkKey string) string {
	return filepath.Join(f.dir, sdkKey+".json")
}

// Dir returns the watched directory.
func (f *LocalFetcher) Dir() string { return f.dir }

// Fetch reads the SDK key's datafile from disk.
func (f *LocalFetcher) Fetch(_ context.Context, sdkKey string) ([]byte, error) {
	body, err := os.ReadFile(f.Path(sdkKey))
	if err != nil {
		return nil, fmt.Errorf("read local datafile: %w", err)
	}
	return body, nil
}
