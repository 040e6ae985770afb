// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDecide/services/decision/observability"
)

// Metrics records one requests_total sample per handled request,
// labeled by route pattern and status class. A nil DefaultMetrics
// (tests, metrics disabled) makes this a no-op.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m := observability.DefaultMetrics
		if m == nil {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordRequest(endpoint, c.Writer.Status())
	}
}
