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

// TrackRequest is the body of POST /v1/track. EventTags are forwarded
// opaque to subscribers.
type TrackRequest struct {
	UserID         string         `json:"userId" validate:"required"`
	UserAttributes map[string]any `json:"userAttributes"`
	EventTags      map[string]any `json:"eventTags"`
}

// Validate checks the request invariants.
func (r *TrackRequest) Validate() error {
	if err := decideValidate.Struct(r); err != nil {
		return ErrEmptyUserID
	}
	return nil
}

// TrackResult summarizes a processed conversion event for
// notification subscribers.
type TrackResult struct {
	UserID         string         `json:"userId"`
	EventKey       string         `json:"eventKey"`
	EventTags      map[string]any `json:"eventTags,omitempty"`
	UserAttributes map[string]any `json:"userAttributes,omitempty"`
}
