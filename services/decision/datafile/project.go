// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package datafile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
)

// IntegrationODP is the integration key carrying ODP credentials.
const IntegrationODP = "odp"

// CompiledAudience is an audience with its condition tree compiled
// once at parse time. RawConditions keeps the original JSON-encoded
// string for the config projection.
type CompiledAudience struct {
	ID            string
	Name          string
	RawConditions string
	Tree          *Condition
}

// Project is an immutable, indexed snapshot of one datafile. All
// lookups are read-only map accesses; a Project is safe for
// unsynchronized concurrent use and is swapped wholesale on refresh.
type Project struct {
	raw []byte
	df  Datafile

	flagsByKey       map[string]*FeatureFlag
	flagByExpID      map[string]*FeatureFlag
	flagKeys         []string
	experimentsByID  map[string]*Experiment
	experimentsByKey map[string]*Experiment
	rolloutsByID     map[string]*Rollout
	eventsByKey      map[string]*Event
	audiencesByID    map[string]*CompiledAudience
	attributesByID   map[string]*Attribute
	attributesByKey  map[string]*Attribute
	holdouts         []*Holdout

	// audienceTrees maps experiment/rollout-rule/holdout IDs to their
	// compiled audienceConditions tree. A missing entry means the
	// entity targets everyone.
	audienceTrees map[string]*Condition

	config *datatypes.ProjectConfig
}

// Parse decodes, validates and indexes a raw datafile.
//
// The input bytes are retained verbatim for GET /v1/datafile; callers
// must not mutate them afterwards.
//
// Parameters:
//   - raw: The datafile JSON document
//
// Returns:
//   - *Project: Indexed snapshot ready for decisions
//   - error: Decode, version or allocation-invariant failure
func Parse(raw []byte) (*Project, error) {
	var df Datafile
	if err := json.Unmarshal(raw, &df); err != nil {
		return nil, fmt.Errorf("decode datafile: %w", err)
	}
	if df.Version != SupportedVersion {
		return nil, fmt.Errorf("unsupported datafile version %q", df.Version)
	}

	p := &Project{
		raw:              raw,
		df:               df,
		flagsByKey:       make(map[string]*FeatureFlag, len(df.FeatureFlags)),
		flagByExpID:      make(map[string]*FeatureFlag),
		experimentsByID:  make(map[string]*Experiment, len(df.Experiments)),
		experimentsByKey: make(map[string]*Experiment, len(df.Experiments)),
		rolloutsByID:     make(map[string]*Rollout, len(df.Rollouts)),
		eventsByKey:      make(map[string]*Event, len(df.Events)),
		audiencesByID:    make(map[string]*CompiledAudience),
		attributesByID:   make(map[string]*Attribute, len(df.Attributes)),
		attributesByKey:  make(map[string]*Attribute, len(df.Attributes)),
		audienceTrees:    make(map[string]*Condition),
	}

	if err := p.index(); err != nil {
		return nil, err
	}
	p.config = p.buildConfig()
	return p, nil
}

func (p *Project) index() error {
	df := &p.df

	for i := range df.Attributes {
		a := &df.Attributes[i]
		p.attributesByID[a.ID] = a
		p.attributesByKey[a.Key] = a
	}

	// typedAudiences override plain audiences with the same ID: the
	// typed form carries the richer (non-string-encoded) tree.
	for i := range df.Audiences {
		if err := p.indexAudience(&df.Audiences[i]); err != nil {
			return err
		}
	}
	for i := range df.TypedAudiences {
		if err := p.indexAudience(&df.TypedAudiences[i]); err != nil {
			return err
		}
	}

	for i := range df.Events {
		e := &df.Events[i]
		p.eventsByKey[e.Key] = e
	}

	for i := range df.Experiments {
		e := &df.Experiments[i]
		if err := p.indexExperiment(e); err != nil {
			return err
		}
	}

	for i := range df.Rollouts {
		r := &df.Rollouts[i]
		p.rolloutsByID[r.ID] = r
		for j := range r.Experiments {
			if err := p.indexExperiment(&r.Experiments[j]); err != nil {
				return err
			}
		}
	}

	for i := range df.Holdouts {
		h := &df.Holdouts[i]
		if err := validateAllocations(h.Key, h.TrafficAllocation); err != nil {
			return err
		}
		tree, err := audienceRefTree(h.AudienceConditions, h.AudienceIDs)
		if err != nil {
			return fmt.Errorf("holdout %q: %w", h.Key, err)
		}
		if tree != nil {
			p.audienceTrees[h.ID] = tree
		}
		p.holdouts = append(p.holdouts, h)
	}

	for i := range df.FeatureFlags {
		f := &df.FeatureFlags[i]
		p.flagsByKey[f.Key] = f
		p.flagKeys = append(p.flagKeys, f.Key)
		for _, expID := range f.ExperimentIDs {
			p.flagByExpID[expID] = f
		}
	}
	sort.Strings(p.flagKeys)

	return nil
}

func (p *Project) indexAudience(a *Audience) error {
	tree, err := compileRawConditions(a.Conditions)
	if err != nil {
		return fmt.Errorf("audience %q: %w", a.ID, err)
	}
	raw := ""
	if len(a.Conditions) > 0 {
		// Keep the projection form: a JSON-encoded string either way.
		var s string
		if json.Unmarshal(a.Conditions, &s) == nil {
			raw = s
		} else {
			raw = string(a.Conditions)
		}
	}
	p.audiencesByID[a.ID] = &CompiledAudience{
		ID:            a.ID,
		Name:          a.Name,
		RawConditions: raw,
		Tree:          tree,
	}
	return nil
}

func (p *Project) indexExperiment(e *Experiment) error {
	if err := validateAllocations(e.Key, e.TrafficAllocation); err != nil {
		return err
	}
	tree, err := audienceRefTree(e.AudienceConditions, e.AudienceIDs)
	if err != nil {
		return fmt.Errorf("experiment %q: %w", e.Key, err)
	}
	if tree != nil {
		p.audienceTrees[e.ID] = tree
	}
	p.experimentsByID[e.ID] = e
	p.experimentsByKey[e.Key] = e
	return nil
}

// audienceRefTree compiles audienceConditions, falling back to an OR
// over audienceIds when the conditions field is absent or empty.
func audienceRefTree(conditions json.RawMessage, ids []string) (*Condition, error) {
	if len(conditions) > 0 {
		var v any
		if err := json.Unmarshal(conditions, &v); err != nil {
			return nil, fmt.Errorf("decode audienceConditions: %w", err)
		}
		tree, err := compileConditions(v)
		if err != nil {
			return nil, err
		}
		if tree != nil {
			return tree, nil
		}
		// Explicit empty conditions: everyone, even if audienceIds set.
		return nil, nil
	}
	if len(ids) == 0 {
		return nil, nil
	}
	node := &Condition{Op: OpOr}
	for _, id := range ids {
		node.Operands = append(node.Operands, &Condition{AudienceID: id})
	}
	return node, nil
}

// validateAllocations enforces the allocation invariant: EndOfRange
// values non-decreasing and never above the bucket space size.
func validateAllocations(owner string, allocs []TrafficAllocation) error {
	prev := 0
	for _, a := range allocs {
		if a.EndOfRange < prev || a.EndOfRange > MaxBucketValue {
			return fmt.Errorf("%s: invalid traffic allocation endOfRange %d", owner, a.EndOfRange)
		}
		prev = a.EndOfRange
	}
	return nil
}

// =============================================================================
// Accessors
// =============================================================================

// Raw returns the original datafile bytes.
func (p *Project) Raw() []byte { return p.raw }

// Revision returns the datafile revision string.
func (p *Project) Revision() string { return p.df.Revision }

// SDKKey returns the datafile's own SDK key field.
func (p *Project) SDKKey() string { return p.df.SDKKey }

// EnvironmentKey returns the environment this datafile describes.
func (p *Project) EnvironmentKey() string { return p.df.EnvironmentKey }

// Flag returns the feature flag for key, or nil.
func (p *Project) Flag(key string) *FeatureFlag { return p.flagsByKey[key] }

// FlagKeys returns all flag keys in sorted order.
func (p *Project) FlagKeys() []string { return p.flagKeys }

// FlagByExperimentID returns the flag owning the given experiment, or
// nil for rollout-embedded rules.
func (p *Project) FlagByExperimentID(expID string) *FeatureFlag {
	return p.flagByExpID[expID]
}

// Experiment returns the top-level or rollout experiment for key, or nil.
func (p *Project) Experiment(key string) *Experiment { return p.experimentsByKey[key] }

// ExperimentByID returns the experiment for id, or nil.
func (p *Project) ExperimentByID(id string) *Experiment { return p.experimentsByID[id] }

// ExperimentKeys returns the keys of all flag-attached experiments in
// sorted order. Rollout delivery rules are excluded.
func (p *Project) ExperimentKeys() []string {
	var keys []string
	for _, f := range p.flagsByKey {
		for _, expID := range f.ExperimentIDs {
			if e := p.experimentsByID[expID]; e != nil {
				keys = append(keys, e.Key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// Rollout returns the rollout for id, or nil.
func (p *Project) Rollout(id string) *Rollout { return p.rolloutsByID[id] }

// Event returns the conversion event for key, or nil.
func (p *Project) Event(key string) *Event { return p.eventsByKey[key] }

// Audience returns the compiled audience for id, or nil.
func (p *Project) Audience(id string) *CompiledAudience { return p.audiencesByID[id] }

// AttributeByID returns the attribute declaration for id, or nil.
func (p *Project) AttributeByID(id string) *Attribute { return p.attributesByID[id] }

// Holdouts returns the running holdouts covering the given flag ID,
// in datafile order.
func (p *Project) Holdouts(flagID string) []*Holdout {
	var out []*Holdout
	for _, h := range p.holdouts {
		if h.IsRunning() && h.AppliesTo(flagID) {
			out = append(out, h)
		}
	}
	return out
}

// AudienceTree returns the compiled audience-reference tree for an
// experiment, rollout rule or holdout ID. Nil means everyone matches.
func (p *Project) AudienceTree(entityID string) *Condition {
	return p.audienceTrees[entityID]
}

// Config returns the precomputed GET /v1/config projection.
func (p *Project) Config() *datatypes.ProjectConfig { return p.config }

// ODPConfig returns the host and public key of the "odp" integration.
// ok is false when the datafile carries no usable ODP integration.
func (p *Project) ODPConfig() (host, publicKey string, ok bool) {
	for _, in := range p.df.Integrations {
		if in.Key == IntegrationODP && in.Host != "" && in.PublicKey != "" {
			return in.Host, in.PublicKey, true
		}
	}
	return "", "", false
}

// =============================================================================
// Typed Variables
// =============================================================================

// TypedValue converts a variable's string form to its declared type.
//
// Parameters:
//   - varType: Declared type (boolean, double, integer, string, json)
//   - raw: String form from the datafile
//
// Returns:
//   - any: Converted value (string for unknown types)
//   - error: Conversion failure for the declared type
func TypedValue(varType, raw string) (any, error) {
	switch varType {
	case "boolean":
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("boolean variable %q: %w", raw, err)
		}
		return v, nil
	case "integer":
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("integer variable %q: %w", raw, err)
		}
		return v, nil
	case "double":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("double variable %q: %w", raw, err)
		}
		return v, nil
	case "json":
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("json variable: %w", err)
		}
		return v, nil
	default:
		return raw, nil
	}
}
