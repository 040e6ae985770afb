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

import "errors"

// ErrEmptyExperimentKey is returned when an override request arrives
// without an experiment key.
var ErrEmptyExperimentKey = errors.New("experimentKey cannot be empty")

// OverrideRequest is the body of POST /v1/override. An empty
// VariationKey removes any existing override for the pair.
type OverrideRequest struct {
	UserID        string `json:"userId"`
	ExperimentKey string `json:"experimentKey"`
	VariationKey  string `json:"variationKey"`
}

// Validate checks the request invariants.
func (r *OverrideRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.ExperimentKey == "" {
		return ErrEmptyExperimentKey
	}
	return nil
}

// OverrideResponse echoes the applied override. PrevVariationKey is
// set when an earlier override for the same pair was replaced or
// removed, and Messages records what happened to it.
type OverrideResponse struct {
	UserID           string   `json:"userId"`
	ExperimentKey    string   `json:"experimentKey"`
	VariationKey     string   `json:"variationKey"`
	PrevVariationKey string   `json:"prevVariationKey"`
	Messages         []string `json:"messages"`
}
