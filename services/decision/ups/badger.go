// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package ups

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
)

// keyPrefix namespaces profile keys in the shared database.
const keyPrefix = "profile:"

// BadgerConfig holds configuration for the BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil,
	// BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before
	// a GC pass rewrites a value log file.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults: durable writes and
// a 5-minute GC cadence.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests: no disk
// I/O, no GC.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is a durable Store backed by an embedded BadgerDB.
// Profiles are stored as JSON under "profile:<userId>" keys.
//
// Thread Safety: safe for concurrent use; merges run inside Badger
// transactions and retry on conflict.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

// NewBadgerStore opens (or creates) the database per cfg and starts
// the GC loop when configured. Callers must Close() the store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("path is required for persistent profile store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create profile store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}

	s := &BadgerStore{db: db}
	if cfg.GCInterval > 0 {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// runGC periodically triggers value log garbage collection until the
// store is closed. badger.ErrNoRewrite is the normal "nothing to
// collect" outcome and is ignored.
func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(ratio); err != nil {
					break
				}
			}
		}
	}
}

// Lookup returns the stored profile for userID, or an empty profile.
func (s *BadgerStore) Lookup(ctx context.Context, userID string) (datatypes.Profile, error) {
	if userID == "" {
		return datatypes.Profile{}, ErrEmptyUserID
	}
	out := datatypes.Profile{
		UserID:              userID,
		ExperimentBucketMap: make(map[string]datatypes.ExperimentDecision),
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + userID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		return datatypes.Profile{}, fmt.Errorf("lookup profile %q: %w", userID, err)
	}
	if out.ExperimentBucketMap == nil {
		out.ExperimentBucketMap = make(map[string]datatypes.ExperimentDecision)
	}
	return out, nil
}

// Save merges the profile's decisions into the stored profile.
func (s *BadgerStore) Save(ctx context.Context, profile datatypes.Profile) error {
	if profile.UserID == "" {
		return ErrEmptyUserID
	}
	key := []byte(keyPrefix + profile.UserID)
	err := s.db.Update(func(txn *badger.Txn) error {
		stored := datatypes.Profile{
			UserID:              profile.UserID,
			ExperimentBucketMap: make(map[string]datatypes.ExperimentDecision),
		}
		item, err := txn.Get(key)
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if stored.ExperimentBucketMap == nil {
			stored.ExperimentBucketMap = make(map[string]datatypes.ExperimentDecision)
		}
		for expID, d := range profile.ExperimentBucketMap {
			stored.ExperimentBucketMap[expID] = d
		}
		buf, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if err != nil {
		return fmt.Errorf("save profile %q: %w", profile.UserID, err)
	}
	return nil
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}
