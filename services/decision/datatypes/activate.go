// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package datatypes

// Activation entity kinds accepted by the type= query parameter.
const (
	ActivateTypeExperiment = "experiment"
	ActivateTypeFeature    = "feature"
)

// ActivateRequest is the body of POST /v1/activate.
type ActivateRequest struct {
	UserID         string         `json:"userId" validate:"required"`
	UserAttributes map[string]any `json:"userAttributes"`
}

// Validate checks the request invariants.
func (r *ActivateRequest) Validate() error {
	if err := decideValidate.Struct(r); err != nil {
		return ErrEmptyUserID
	}
	return nil
}

// Activation is the outcome of activating a single experiment or
// feature for a user. Error carries a per-entity evaluation failure
// without failing the whole batch of activations.
type Activation struct {
	ExperimentKey string         `json:"experimentKey"`
	FeatureKey    string         `json:"featureKey"`
	VariationKey  string         `json:"variationKey"`
	Type          string         `json:"type"`
	Enabled       bool           `json:"enabled"`
	Variables     map[string]any `json:"variables,omitempty"`
	Error         string         `json:"error,omitempty"`
}
