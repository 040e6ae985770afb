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

// OdpEvent is the body of POST /v1/send-odp-event, forwarded to the
// ODP events API. Data values must be scalar (string, bool, number,
// or null); nested objects and arrays are rejected before dispatch.
type OdpEvent struct {
	Action      string            `json:"action"`
	Type        string            `json:"type,omitempty"`
	Identifiers map[string]string `json:"identifiers"`
	Data        map[string]any    `json:"data,omitempty"`
}
