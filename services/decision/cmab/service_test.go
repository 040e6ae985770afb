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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDecide/services/decision/datafile"
)

const banditDatafile = `{
	"version": "4",
	"attributes": [
		{"id": "attr-1", "key": "house"},
		{"id": "attr-2", "key": "level"}
	],
	"experiments": [
		{
			"id": "exp-b", "key": "bandit", "status": "Running",
			"cmab": {"attributeIds": ["attr-1"], "trafficAllocation": 10000},
			"trafficAllocation": [],
			"variations": [
				{"id": "bv1", "key": "on", "featureEnabled": true, "variables": []},
				{"id": "bv2", "key": "off", "featureEnabled": false, "variables": []}
			]
		},
		{
			"id": "exp-gated", "key": "gated", "status": "Running",
			"cmab": {"attributeIds": [], "trafficAllocation": 0},
			"trafficAllocation": [],
			"variations": [{"id": "gv1", "key": "on", "featureEnabled": true, "variables": []}]
		},
		{
			"id": "exp-plain", "key": "plain", "status": "Running",
			"trafficAllocation": [],
			"variations": []
		}
	]
}`

// fakePredictor counts calls and returns a fixed outcome, optionally
// blocking to widen the single-flight window.
type fakePredictor struct {
	calls       atomic.Int64
	variationID string
	err         error
	delay       time.Duration
}

func (f *fakePredictor) Predict(ctx context.Context, userID, experimentID string, attrs []predictionAttribute, cmabUUID string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.variationID, f.err
}

func banditProject(t *testing.T) *datafile.Project {
	t.Helper()
	p, err := datafile.Parse([]byte(banditDatafile))
	require.NoError(t, err)
	return p
}

func TestGetDecision_RejectsNonBanditExperiment(t *testing.T) {
	s := newServiceWithPredictor(NewDecisionCache(0, 0), &fakePredictor{})
	p := banditProject(t)

	_, err := s.GetDecision(context.Background(), p, p.Experiment("plain"), "u", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not cmab-driven")
}

func TestGetDecision_TrafficGate(t *testing.T) {
	f := &fakePredictor{variationID: "gv1"}
	s := newServiceWithPredictor(NewDecisionCache(0, 0), f)
	p := banditProject(t)

	_, err := s.GetDecision(context.Background(), p, p.Experiment("gated"), "u", nil)
	assert.ErrorIs(t, err, ErrNotInAllocation)
	assert.Equal(t, int64(0), f.calls.Load(), "gate must short-circuit before the predictor")
}

func TestGetDecision_CachesPrediction(t *testing.T) {
	f := &fakePredictor{variationID: "bv1"}
	s := newServiceWithPredictor(NewDecisionCache(0, 0), f)
	p := banditProject(t)
	exp := p.Experiment("bandit")
	attrs := map[string]any{"house": "Slytherin"}

	vid, err := s.GetDecision(context.Background(), p, exp, "u", attrs)
	require.NoError(t, err)
	assert.Equal(t, "bv1", vid)

	vid, err = s.GetDecision(context.Background(), p, exp, "u", attrs)
	require.NoError(t, err)
	assert.Equal(t, "bv1", vid)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestGetDecision_RelevantAttributeChangeInvalidates(t *testing.T) {
	f := &fakePredictor{variationID: "bv1"}
	s := newServiceWithPredictor(NewDecisionCache(0, 0), f)
	p := banditProject(t)
	exp := p.Experiment("bandit")

	_, err := s.GetDecision(context.Background(), p, exp, "u", map[string]any{"house": "Slytherin"})
	require.NoError(t, err)

	// level is not in attributeIds: the cached arm survives.
	_, err = s.GetDecision(context.Background(), p, exp, "u",
		map[string]any{"house": "Slytherin", "level": 9})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.calls.Load())

	// house is relevant: fresh prediction.
	_, err = s.GetDecision(context.Background(), p, exp, "u", map[string]any{"house": "Gryffindor"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestGetDecision_PredictionFailureWrapped(t *testing.T) {
	f := &fakePredictor{err: errors.New("boom")}
	s := newServiceWithPredictor(NewDecisionCache(0, 0), f)
	p := banditProject(t)

	_, err := s.GetDecision(context.Background(), p, p.Experiment("bandit"), "u", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotInAllocation)
	assert.Contains(t, err.Error(), `fetch cmab decision for experiment "bandit"`)
	assert.Contains(t, err.Error(), "boom")
}

func TestGetDecision_SingleFlight(t *testing.T) {
	f := &fakePredictor{variationID: "bv1", delay: 20 * time.Millisecond}
	s := newServiceWithPredictor(NewDecisionCache(0, 0), f)
	p := banditProject(t)
	exp := p.Experiment("bandit")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vid, err := s.GetDecision(context.Background(), p, exp, "u", map[string]any{"house": "S"})
			assert.NoError(t, err)
			assert.Equal(t, "bv1", vid)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestInvalidateUserAndReset(t *testing.T) {
	f := &fakePredictor{variationID: "bv1"}
	s := newServiceWithPredictor(NewDecisionCache(0, 0), f)
	p := banditProject(t)
	exp := p.Experiment("bandit")

	_, err := s.GetDecision(context.Background(), p, exp, "u", nil)
	require.NoError(t, err)

	s.InvalidateUser("u", exp.ID)
	_, err = s.GetDecision(context.Background(), p, exp, "u", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.calls.Load())

	s.Reset()
	_, err = s.GetDecision(context.Background(), p, exp, "u", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.calls.Load())
}

func TestHashAttributes(t *testing.T) {
	a := []predictionAttribute{
		{ID: "attr-1", Value: "x", Type: "custom_attribute"},
		{ID: "attr-2", Value: 3, Type: "custom_attribute"},
	}
	reversed := []predictionAttribute{a[1], a[0]}

	// Order-insensitive, value- and identity-sensitive.
	assert.Equal(t, hashAttributes("u", "e", a), hashAttributes("u", "e", reversed))
	assert.NotEqual(t, hashAttributes("u", "e", a), hashAttributes("u2", "e", a))
	assert.NotEqual(t, hashAttributes("u", "e", a), hashAttributes("u", "e2", a))
	assert.NotEqual(t, hashAttributes("u", "e", a),
		hashAttributes("u", "e", []predictionAttribute{{ID: "attr-1", Value: "y"}}))
}
