// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the decision service.
//
// # Client Resolution Flow
//
// Every project-scoped endpoint is keyed by the X-Optimizely-SDK-Key
// header. The middleware resolves the header to a registry client and
// stores it in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	ClientFromSDKKey
//	   │
//	   ├─► Read "X-Optimizely-SDK-Key" header
//	   │
//	   ├─► registry.Lookup(ctx, sdkKey)
//	   │
//	   └─► Store *registry.Client in context
//	           │
//	           ▼
//	       Handler (retrieves via GetClient)
//
// A missing header is a 400; a lookup failure (bad key, upstream CDN
// error) is a 403 carrying the fetch error message.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDecide/services/decision/registry"
)

// =============================================================================
// Context Keys
// =============================================================================

// SDKKeyHeader carries the project's SDK key on every API request.
const SDKKeyHeader = "X-Optimizely-SDK-Key"

// RequestIDHeader correlates a request across logs and batch replies.
const RequestIDHeader = "X-Request-Id"

// clientKey is the context key for the resolved registry client.
// Using a dedicated key prevents collisions with other context values.
const clientKey = "aleutian_decision_client"

// ErrMissingSDKKey is the wire message for a request without the SDK
// key header. The batch coordinator relies on per-operation requests
// producing exactly this body.
const ErrMissingSDKKey = "missing required X-Optimizely-SDK-Key header"

// =============================================================================
// Context Helpers
// =============================================================================

// SetClient stores the resolved client in the Gin context.
func SetClient(c *gin.Context, client *registry.Client) {
	c.Set(clientKey, client)
}

// GetClient retrieves the resolved client from the Gin context.
// Returns nil when ClientFromSDKKey did not run or aborted.
func GetClient(c *gin.Context) *registry.Client {
	if v, exists := c.Get(clientKey); exists {
		if client, ok := v.(*registry.Client); ok {
			return client
		}
	}
	return nil
}

// =============================================================================
// Middleware
// =============================================================================

// ClientFromSDKKey creates a Gin middleware that resolves the SDK key
// header to a decision client.
//
// # Description
//
// Reads X-Optimizely-SDK-Key, asks the registry for the matching
// client (creating it on first use, which fetches the datafile), and
// stores it for handlers. First-use latency is therefore one datafile
// fetch; subsequent requests hit the registry map.
//
// # Inputs
//
//   - reg: Client registry. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with Gin.
//
// # Limitations
//
//   - Does not distinguish a bad SDK key from a CDN outage; both
//     surface as 403 with the fetch error message.
func ClientFromSDKKey(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sdkKey := c.GetHeader(SDKKeyHeader)
		if sdkKey == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": ErrMissingSDKKey,
			})
			return
		}

		client, err := reg.Lookup(c.Request.Context(), sdkKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": err.Error(),
			})
			return
		}

		SetClient(c, client)
		c.Next()
	}
}

// RequestID echoes the caller's X-Request-Id header onto the response,
// generating one when absent. Batch operation responses correlate on
// this value.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}
