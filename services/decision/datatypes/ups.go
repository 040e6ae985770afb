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

// ExperimentDecision is the stored bucketing outcome for one
// experiment within a user profile. The snake_case json tag is part
// of the persisted wire format.
type ExperimentDecision struct {
	VariationID string `json:"variation_id"`
}

// Profile is the persisted bucketing history for a single user,
// keyed by experiment ID. It is both the /v1/save request body and
// the /v1/lookup response body.
type Profile struct {
	UserID              string                        `json:"userId"`
	ExperimentBucketMap map[string]ExperimentDecision `json:"experimentBucketMap"`
}

// LookupRequest is the body of POST /v1/lookup.
type LookupRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// Validate checks the request invariants.
func (r *LookupRequest) Validate() error {
	if err := decideValidate.Struct(r); err != nil {
		return ErrEmptyUserID
	}
	return nil
}
