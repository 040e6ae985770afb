// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ups persists per-user bucketing history (user profiles).
//
// A profile records which variation a user was bucketed into per
// experiment, so later decisions stay sticky across datafile changes
// to traffic allocation. Two backends are provided: an in-memory map
// for single-instance deployments and tests, and a BadgerDB-backed
// store for durable local persistence.
package ups

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
)

// ErrEmptyUserID is returned for store operations without a user ID.
var ErrEmptyUserID = errors.New("user id must not be empty")

// Store is the user profile persistence interface.
//
// Lookup of a user with no saved profile returns an empty profile
// (non-nil ExperimentBucketMap), never an error. Save merges the
// given decisions into the stored profile by experiment ID.
type Store interface {
	Lookup(ctx context.Context, userID string) (datatypes.Profile, error)
	Save(ctx context.Context, profile datatypes.Profile) error
}

// MemoryStore is a process-local Store backed by a map.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]map[string]datatypes.ExperimentDecision
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]map[string]datatypes.ExperimentDecision),
	}
}

// Lookup returns the stored profile for userID, or an empty profile.
func (s *MemoryStore) Lookup(_ context.Context, userID string) (datatypes.Profile, error) {
	if userID == "" {
		return datatypes.Profile{}, ErrEmptyUserID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := datatypes.Profile{
		UserID:              userID,
		ExperimentBucketMap: make(map[string]datatypes.ExperimentDecision),
	}
	for expID, d := range s.profiles[userID] {
		out.ExperimentBucketMap[expID] = d
	}
	return out, nil
}

// Save merges the profile's decisions into the stored profile.
func (s *MemoryStore) Save(_ context.Context, profile datatypes.Profile) error {
	if profile.UserID == "" {
		return ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.profiles[profile.UserID]
	if stored == nil {
		stored = make(map[string]datatypes.ExperimentDecision)
		s.profiles[profile.UserID] = stored
	}
	for expID, d := range profile.ExperimentBucketMap {
		stored[expID] = d
	}
	return nil
}
