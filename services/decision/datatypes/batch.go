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

import (
	"encoding/json"
	"time"
)

// BatchOperation is one operation inside a POST /v1/batch request.
// Body is kept as raw JSON so the coordinator can replay it verbatim
// into the synthesized sub-request.
type BatchOperation struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	OperationID string            `json:"operationID"`
	Body        json.RawMessage   `json:"body,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// BatchRequest is the body of POST /v1/batch.
type BatchRequest struct {
	Operations []BatchOperation `json:"operations"`
}

// BatchOperationResponse is the captured result of a single replayed
// operation. Body holds the sub-handler's decoded JSON response.
type BatchOperationResponse struct {
	Status      int       `json:"status"`
	RequestID   string    `json:"requestID"`
	OperationID string    `json:"operationID"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Body        any       `json:"body"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
}

// BatchResponse is the body of a successful POST /v1/batch. Response
// order is not guaranteed to match operation order; correlate by
// OperationID.
type BatchResponse struct {
	StartedAt  time.Time                `json:"startedAt"`
	EndedAt    time.Time                `json:"endedAt"`
	ErrorCount int                      `json:"errorCount"`
	Response   []BatchOperationResponse `json:"response"`
}
