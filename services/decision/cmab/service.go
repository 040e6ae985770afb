// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package cmab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianDecide/services/decision/bucket"
	"github.com/AleutianAI/AleutianDecide/services/decision/datafile"
)

// ErrNotInAllocation reports that the user fell outside the bandit
// experiment's traffic allocation gate. Not an upstream failure; the
// decision chain falls through to the next rule.
var ErrNotInAllocation = errors.New("user not in cmab traffic allocation")

// predictor abstracts PredictClient for tests.
type predictor interface {
	Predict(ctx context.Context, userID, experimentID string, attrs []predictionAttribute, cmabUUID string) (string, error)
}

// Service decides bandit experiments: traffic gate, cache lookup,
// then at most one in-flight prediction per cache key.
type Service struct {
	cache  *DecisionCache
	client predictor
	flight singleflight.Group
}

// NewService wires a Service from its cache and prediction client.
func NewService(cache *DecisionCache, client *PredictClient) *Service {
	return &Service{cache: cache, client: client}
}

// newServiceWithPredictor is the test seam.
func newServiceWithPredictor(cache *DecisionCache, client predictor) *Service {
	return &Service{cache: cache, client: client}
}

// flightResult carries a prediction through the single-flight group.
type flightResult struct {
	variationID string
	cmabUUID    string
}

// GetDecision resolves the variation for a bandit experiment.
//
// The relevant attributes are the experiment's attributeIds projected
// onto the user's attribute map; their fingerprint decides cache
// validity, so changing an unrelated attribute keeps the cached arm
// while changing a relevant one forces a fresh prediction.
//
// Parameters:
//   - ctx: Deadline/cancellation for a cold-cache prediction call
//   - project: Datafile snapshot (attribute ID -> key resolution)
//   - exp: The experiment; exp.Cmab must be non-nil
//   - userID: Visitor ID
//   - attributes: Full user attribute map from the request
//
// Returns:
//   - string: Winning variation ID
//   - error: ErrNotInAllocation, or a wrapped prediction failure
func (s *Service) GetDecision(ctx context.Context, project *datafile.Project, exp *datafile.Experiment, userID string, attributes map[string]any) (string, error) {
	if exp.Cmab == nil {
		return "", fmt.Errorf("experiment %q is not cmab-driven", exp.Key)
	}
	if !bucket.InRange(userID, exp.ID+"-cmab", exp.Cmab.TrafficAllocation) {
		return "", ErrNotInAllocation
	}

	relevant := s.relevantAttributes(project, exp, attributes)
	attrHash := hashAttributes(userID, exp.ID, relevant)
	cacheKey := userID + ":" + exp.ID

	if variationID, _, ok := s.cache.Lookup(cacheKey, attrHash); ok {
		return variationID, nil
	}

	v, err, _ := s.flight.Do(cacheKey, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the entry while we waited.
		if variationID, cmabUUID, ok := s.cache.Lookup(cacheKey, attrHash); ok {
			return flightResult{variationID: variationID, cmabUUID: cmabUUID}, nil
		}
		cmabUUID := uuid.New().String()
		variationID, err := s.client.Predict(ctx, userID, exp.ID, relevant, cmabUUID)
		if err != nil {
			return flightResult{}, err
		}
		s.cache.Store(cacheKey, attrHash, variationID, cmabUUID)
		return flightResult{variationID: variationID, cmabUUID: cmabUUID}, nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch cmab decision for experiment %q: %w", exp.Key, err)
	}
	return v.(flightResult).variationID, nil
}

// InvalidateUser drops the cached prediction for one (user,
// experiment) pair.
func (s *Service) InvalidateUser(userID, experimentID string) {
	s.cache.Invalidate(userID + ":" + experimentID)
}

// Reset drops the whole prediction cache.
func (s *Service) Reset() {
	s.cache.Reset()
}

// relevantAttributes projects the user's attributes onto the
// experiment's conditioning attribute IDs, in attributeIds order.
func (s *Service) relevantAttributes(project *datafile.Project, exp *datafile.Experiment, attributes map[string]any) []predictionAttribute {
	out := make([]predictionAttribute, 0, len(exp.Cmab.AttributeIDs))
	for _, id := range exp.Cmab.AttributeIDs {
		attr := project.AttributeByID(id)
		if attr == nil {
			continue
		}
		value, ok := attributes[attr.Key]
		if !ok {
			continue
		}
		out = append(out, predictionAttribute{
			ID:    id,
			Value: value,
			Type:  "custom_attribute",
		})
	}
	return out
}

// hashAttributes fingerprints the relevant attribute values together
// with the user and experiment identity. Attribute order is
// normalized so map iteration order can't change the fingerprint.
func hashAttributes(userID, experimentID string, attrs []predictionAttribute) uint64 {
	sorted := make([]predictionAttribute, len(attrs))
	copy(sorted, attrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(experimentID))
	for _, a := range sorted {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(a.ID))
		_, _ = h.Write([]byte{'='})
		if buf, err := json.Marshal(a.Value); err == nil {
			_, _ = h.Write(buf)
		}
	}
	return h.Sum64()
}

// DefaultCacheTTL is the default prediction cache lifetime.
const DefaultCacheTTL = 30 * time.Minute
