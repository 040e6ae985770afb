// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry maps SDK keys to decision clients. A client is
// created on first lookup: its datafile is fetched synchronously, and
// a background poller (or fsnotify watcher in local mode) keeps the
// snapshot fresh afterwards. Refresh failures keep the last known
// good snapshot.
package registry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianDecide/pkg/logging"
	"github.com/AleutianAI/AleutianDecide/services/decision/cmab"
	"github.com/AleutianAI/AleutianDecide/services/decision/datafile"
	"github.com/AleutianAI/AleutianDecide/services/decision/decide"
	"github.com/AleutianAI/AleutianDecide/services/decision/notifications"
	"github.com/AleutianAI/AleutianDecide/services/decision/odp"
	"github.com/AleutianAI/AleutianDecide/services/decision/ups"
)

// DefaultPollInterval is how often a client re-fetches its datafile.
const DefaultPollInterval = time.Minute

// errWatchNeedsLocal rejects watch mode over a remote fetcher.
var errWatchNeedsLocal = errors.New("watch mode requires a local datafile directory")

// StoreFactory builds the user profile store for a new client. A nil
// factory means decisions run without sticky bucketing.
type StoreFactory func(sdkKey string) (ups.Store, error)

// Config wires a Registry.
type Config struct {
	// Fetcher acquires datafiles. Required.
	Fetcher Fetcher

	// PollInterval between refreshes. <=0 uses DefaultPollInterval;
	// ignored in watch mode.
	PollInterval time.Duration

	// Watch hot-reloads local datafiles through fsnotify instead of
	// polling. Requires a LocalFetcher.
	Watch bool

	// Profiles builds each client's profile store. Nil disables the
	// user profile service.
	Profiles StoreFactory

	// Cmab configures the prediction client. A zero value uses the
	// public endpoint defaults.
	Cmab cmab.PredictClientConfig

	// ODP carries the non-datafile ODP settings (timeout, segment
	// cache sizing). Host and key come from each datafile.
	ODP odp.Config

	Logger *logging.Logger
}

// Registry hands out one Client per SDK key.
type Registry struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	flight  singleflight.Group

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    sync.WaitGroup
}

// New creates a Registry. In watch mode the fsnotify watcher is
// started immediately over the local datafile directory.
func New(cfg Config) (*Registry, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	r := &Registry{
		cfg:     cfg,
		logger:  cfg.Logger,
		clients: make(map[string]*Client),
		stop:    make(chan struct{}),
	}
	if cfg.Watch {
		local, ok := cfg.Fetcher.(*LocalFetcher)
		if !ok {
			return nil, errWatchNeedsLocal
		}
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		if err := w.Add(local.Dir()); err != nil {
			w.Close()
			return nil, err
		}
		r.watcher = w
		r.done.Add(1)
		go r.watch(local)
	}
	return r, nil
}

// Lookup returns the client for an SDK key, creating it on first use.
// Creation fetches the datafile synchronously so the error surface
// (bad key, upstream down) lands on the requesting caller.
func (r *Registry) Lookup(ctx context.Context, sdkKey string) (*Client, error) {
	r.mu.RLock()
	c, ok := r.clients[sdkKey]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := r.flight.Do(sdkKey, func() (any, error) {
		r.mu.RLock()
		c, ok := r.clients[sdkKey]
		r.mu.RUnlock()
		if ok {
			return c, nil
		}
		return r.create(ctx, sdkKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// Client returns an existing client without creating one.
func (r *Registry) Client(sdkKey string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[sdkKey]
	return c, ok
}

// create builds and registers a client for sdkKey.
func (r *Registry) create(ctx context.Context, sdkKey string) (*Client, error) {
	raw, err := r.cfg.Fetcher.Fetch(ctx, sdkKey)
	if err != nil {
		return nil, err
	}
	project, err := datafile.Parse(raw)
	if err != nil {
		return nil, err
	}

	var profiles ups.Store
	if r.cfg.Profiles != nil {
		profiles, err = r.cfg.Profiles(sdkKey)
		if err != nil {
			return nil, err
		}
	}

	bandit := cmab.NewService(
		cmab.NewDecisionCache(0, 0),
		cmab.NewPredictClient(r.cfg.Cmab),
	)

	c := &Client{
		sdkKey:   sdkKey,
		profiles: profiles,
		center:   notifications.NewCenter(),
		stop:     make(chan struct{}),
	}
	c.decider = decide.NewService(profiles, bandit, decide.NewOverrides(), r.logger)
	c.setProject(project, r.cfg.ODP)

	r.mu.Lock()
	r.clients[sdkKey] = c
	r.mu.Unlock()

	if !r.cfg.Watch {
		r.done.Add(1)
		go r.poll(c)
	}
	r.logger.Info("datafile client created",
		"sdk_key", sdkKey, "revision", project.Revision())
	return c, nil
}

// poll refreshes one client's datafile on the configured interval.
func (r *Registry) poll(c *Client) {
	defer r.done.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.refresh(c)
		case <-c.stop:
			return
		case <-r.stop:
			return
		}
	}
}

// watch reacts to datafile writes in the local directory. Events for
// keys without a client are ignored.
func (r *Registry) watch(local *LocalFetcher) {
	defer r.done.Done()
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			sdkKey := strings.TrimSuffix(name, ".json")
			if c, ok := r.Client(sdkKey); ok {
				r.refresh(c)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("datafile watcher error", "error", err.Error())
		case <-r.stop:
			return
		}
	}
}

// refresh fetches and swaps one client's snapshot, keeping the old
// one on any failure.
func (r *Registry) refresh(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	raw, err := r.cfg.Fetcher.Fetch(ctx, c.sdkKey)
	if err != nil {
		r.logger.Warn("datafile refresh failed",
			"sdk_key", c.sdkKey, "error", err.Error())
		return
	}
	project, err := datafile.Parse(raw)
	if err != nil {
		r.logger.Warn("datafile refresh parse failed",
			"sdk_key", c.sdkKey, "error", err.Error())
		return
	}
	prev := c.Project()
	if prev != nil && prev.Revision() == project.Revision() {
		return
	}
	c.setProject(project, r.cfg.ODP)
	r.logger.Info("datafile refreshed",
		"sdk_key", c.sdkKey, "revision", project.Revision())
}

// Close stops every poller and the watcher, then closes client
// resources that need it.
func (r *Registry) Close() error {
	close(r.stop)
	if r.watcher != nil {
		r.watcher.Close()
	}

	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		close(c.stop)
		if closer, ok := c.profiles.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	r.done.Wait()
	return firstErr
}
