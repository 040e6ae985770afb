// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the decision service.
//
// This file contains the decide request/response wire types. For the
// activation types see activate.go, for batch types see batch.go.
package datatypes

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Decide Options
// =============================================================================

// Decide option flags accepted in DecideRequest.DecideOptions.
// Unknown options are ignored rather than rejected.
const (
	// OptionDisableDecisionEvent suppresses the decision notification
	// that would otherwise fan out to subscribers.
	OptionDisableDecisionEvent = "DISABLE_DECISION_EVENT"

	// OptionEnabledFlagsOnly filters DecideAll output down to flags
	// that decided enabled.
	OptionEnabledFlagsOnly = "ENABLED_FLAGS_ONLY"

	// OptionIgnoreUserProfileService skips both the lookup and the
	// write-back against the configured user profile store.
	OptionIgnoreUserProfileService = "IGNORE_USER_PROFILE_SERVICE"

	// OptionIncludeReasons populates Decision.Reasons; without it the
	// reasons array is present but empty.
	OptionIncludeReasons = "INCLUDE_REASONS"

	// OptionExcludeVariables leaves Decision.Variables unset even when
	// the winning variation carries variable values.
	OptionExcludeVariables = "EXCLUDE_VARIABLES"
)

// Segment fetch options accepted in DecideRequest.FetchSegmentsOptions.
const (
	// SegmentsResetCache drops the whole ODP segment cache before the
	// fetch.
	SegmentsResetCache = "RESET_CACHE"

	// SegmentsIgnoreCache bypasses the cache for this fetch without
	// storing the result.
	SegmentsIgnoreCache = "IGNORE_CACHE"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// decideValidate is the validator instance for decision datatypes.
var decideValidate = validator.New()

// ErrEmptyUserID is returned when a request arrives without a user id.
var ErrEmptyUserID = errors.New("userId cannot be empty")

// =============================================================================
// Requests
// =============================================================================

// ForcedDecision pins a flag (and optionally one of its rules) to a
// fixed variation for the duration of a single request.
type ForcedDecision struct {
	FlagKey      string `json:"flagKey"`
	RuleKey      string `json:"ruleKey,omitempty"`
	VariationKey string `json:"variationKey"`
}

// DecideRequest is the body of POST /v1/decide.
type DecideRequest struct {
	UserID               string           `json:"userId" validate:"required"`
	UserAttributes       map[string]any   `json:"userAttributes"`
	DecideOptions        []string         `json:"decideOptions"`
	ForcedDecisions      []ForcedDecision `json:"forcedDecisions,omitempty"`
	FetchSegments        bool             `json:"fetchSegments,omitempty"`
	FetchSegmentsOptions []string         `json:"fetchSegmentsOptions,omitempty"`
}

// Validate checks the request invariants.
//
// Returns:
//   - error: ErrEmptyUserID when userId is missing, nil otherwise
func (r *DecideRequest) Validate() error {
	if err := decideValidate.Struct(r); err != nil {
		return ErrEmptyUserID
	}
	return nil
}

// HasOption reports whether the request carries the given decide option.
func (r *DecideRequest) HasOption(opt string) bool {
	for _, o := range r.DecideOptions {
		if o == opt {
			return true
		}
	}
	return false
}

// =============================================================================
// Responses
// =============================================================================

// UserContext identifies the user a decision was made for. It is
// echoed back verbatim in every decision.
type UserContext struct {
	UserID     string         `json:"userId"`
	Attributes map[string]any `json:"attributes"`
}

// Decision is the outcome of evaluating one flag for one user.
//
// Reasons is always present: an empty array unless INCLUDE_REASONS was
// requested. Variables is omitted entirely when the flag declares no
// variables or the winning variation is not feature-enabled.
type Decision struct {
	VariationKey string         `json:"variationKey"`
	Enabled      bool           `json:"enabled"`
	RuleKey      string         `json:"ruleKey"`
	FlagKey      string         `json:"flagKey"`
	UserContext  UserContext    `json:"userContext"`
	Reasons      []string       `json:"reasons"`
	Variables    map[string]any `json:"variables,omitempty"`

	// IsEveryoneElseVariation is true only when the decision came from
	// the rollout's catch-all targeting rule. Serialized even when
	// false.
	IsEveryoneElseVariation bool `json:"isEveryoneElseVariation"`
}
