// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datafile parses project datafiles into immutable, indexed
// snapshots used by the decision service.
//
// A datafile is the complete description of one project environment:
// flags, experiments, rollouts, holdouts, audiences, events and
// attributes, serialized as a single JSON document (schema version
// "4"). Parse validates it once and precomputes every index the hot
// decision path needs, so a decision never walks raw JSON.
package datafile

import "encoding/json"

// SupportedVersion is the only datafile schema version this service
// accepts.
const SupportedVersion = "4"

// MaxBucketValue is the size of the bucketing space. Traffic
// allocation endOfRange values live in [0, MaxBucketValue].
const MaxBucketValue = 10000

// Experiment statuses that matter for decisions. Anything else is
// treated as not running.
const (
	StatusRunning = "Running"
)

// Attribute is a project attribute declaration.
type Attribute struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Audience is a named condition tree over user attributes.
//
// Conditions arrives in one of two encodings: plain audiences carry a
// JSON-encoded string, typedAudiences carry the raw JSON array. Both
// are compiled once at parse time; see CompiledAudience.
type Audience struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Conditions json.RawMessage `json:"conditions"`
}

// Event is a named conversion event.
type Event struct {
	ID            string   `json:"id"`
	Key           string   `json:"key"`
	ExperimentIDs []string `json:"experimentIds"`
}

// TrafficAllocation is one half-open bucket range. Ranges are listed
// with non-decreasing EndOfRange values; the full space is [0, 10000).
type TrafficAllocation struct {
	EntityID   string `json:"entityId"`
	EndOfRange int    `json:"endOfRange"`
}

// VariableValue is a per-variation override for a flag variable.
type VariableValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Variation is one arm of an experiment, holdout or rollout rule.
type Variation struct {
	ID             string          `json:"id"`
	Key            string          `json:"key"`
	FeatureEnabled bool            `json:"featureEnabled"`
	Variables      []VariableValue `json:"variables"`
}

// Cmab marks an experiment as contextual-multi-armed-bandit driven.
// TrafficAllocation is a single percentage in [0, 10000] applied
// before the prediction call; AttributeIDs name the attributes the
// prediction is conditioned on.
type Cmab struct {
	AttributeIDs      []string `json:"attributeIds"`
	TrafficAllocation int      `json:"trafficAllocation"`
}

// Experiment is an A/B rule, either attached to a flag directly or
// embedded in a rollout as a targeted delivery rule.
type Experiment struct {
	ID                 string              `json:"id"`
	Key                string              `json:"key"`
	Status             string              `json:"status"`
	LayerID            string              `json:"layerId"`
	AudienceIDs        []string            `json:"audienceIds"`
	AudienceConditions json.RawMessage     `json:"audienceConditions,omitempty"`
	TrafficAllocation  []TrafficAllocation `json:"trafficAllocation"`
	Variations         []Variation         `json:"variations"`
	ForcedVariations   map[string]string   `json:"forcedVariations"`
	Cmab               *Cmab               `json:"cmab,omitempty"`
}

// IsRunning reports whether the experiment participates in decisions.
func (e *Experiment) IsRunning() bool {
	return e.Status == StatusRunning
}

// VariationByID returns the variation with the given ID, or nil.
func (e *Experiment) VariationByID(id string) *Variation {
	for i := range e.Variations {
		if e.Variations[i].ID == id {
			return &e.Variations[i]
		}
	}
	return nil
}

// VariationByKey returns the variation with the given key, or nil.
func (e *Experiment) VariationByKey(key string) *Variation {
	for i := range e.Variations {
		if e.Variations[i].Key == key {
			return &e.Variations[i]
		}
	}
	return nil
}

// Rollout is the ordered list of delivery rules behind a flag. The
// last rule is conventionally the untargeted "Everyone Else" rule.
type Rollout struct {
	ID          string       `json:"id"`
	Experiments []Experiment `json:"experiments"`
}

// Holdout is a global control group. A user bucketed into a holdout
// is excluded from the flag's experiments and rollout and sees the
// holdout variation (feature off).
type Holdout struct {
	ID                 string              `json:"id"`
	Key                string              `json:"key"`
	Status             string              `json:"status"`
	Variations         []Variation         `json:"variations"`
	TrafficAllocation  []TrafficAllocation `json:"trafficAllocation"`
	AudienceIDs        []string            `json:"audienceIds"`
	AudienceConditions json.RawMessage     `json:"audienceConditions,omitempty"`

	// Flag scoping. Empty IncludedFlags means the holdout applies to
	// every flag not named in ExcludedFlags.
	IncludedFlags []string `json:"includedFlags,omitempty"`
	ExcludedFlags []string `json:"excludedFlags,omitempty"`
}

// IsRunning reports whether the holdout participates in decisions.
func (h *Holdout) IsRunning() bool {
	return h.Status == StatusRunning
}

// VariationByID returns the holdout variation with the given ID, or nil.
func (h *Holdout) VariationByID(id string) *Variation {
	for i := range h.Variations {
		if h.Variations[i].ID == id {
			return &h.Variations[i]
		}
	}
	return nil
}

// AppliesTo reports whether the holdout covers the given flag ID.
func (h *Holdout) AppliesTo(flagID string) bool {
	for _, id := range h.ExcludedFlags {
		if id == flagID {
			return false
		}
	}
	if len(h.IncludedFlags) == 0 {
		return true
	}
	for _, id := range h.IncludedFlags {
		if id == flagID {
			return true
		}
	}
	return false
}

// FeatureVariable is a flag-level variable declaration.
type FeatureVariable struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	Type         string `json:"type"`
	DefaultValue string `json:"defaultValue"`
}

// FeatureFlag ties experiments and a rollout to a flag key.
type FeatureFlag struct {
	ID            string            `json:"id"`
	Key           string            `json:"key"`
	RolloutID     string            `json:"rolloutId"`
	ExperimentIDs []string          `json:"experimentIds"`
	Variables     []FeatureVariable `json:"variables"`
}

// Integration is an external integration declaration ("odp" is the
// only kind the service consumes).
type Integration struct {
	Key       string `json:"key"`
	Host      string `json:"host,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
}

// Datafile is the raw decoded document. Unknown fields are ignored.
type Datafile struct {
	Version        string        `json:"version"`
	AccountID      string        `json:"accountId"`
	ProjectID      string        `json:"projectId"`
	Revision       string        `json:"revision"`
	SDKKey         string        `json:"sdkKey"`
	EnvironmentKey string        `json:"environmentKey"`
	AnonymizeIP    bool          `json:"anonymizeIP"`
	BotFiltering   bool          `json:"botFiltering"`
	Attributes     []Attribute   `json:"attributes"`
	Audiences      []Audience    `json:"audiences"`
	TypedAudiences []Audience    `json:"typedAudiences"`
	Events         []Event       `json:"events"`
	Experiments    []Experiment  `json:"experiments"`
	FeatureFlags   []FeatureFlag `json:"featureFlags"`
	Rollouts       []Rollout     `json:"rollouts"`
	Holdouts       []Holdout     `json:"holdouts"`
	Integrations   []Integration `json:"integrations"`
}
