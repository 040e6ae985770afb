// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
	"github.com/AleutianAI/AleutianDecide/services/decision/decide"
	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
	"github.com/AleutianAI/AleutianDecide/services/decision/notifications"
	"github.com/AleutianAI/AleutianDecide/services/decision/observability"
	"github.com/AleutianAI/AleutianDecide/services/decision/odp"
	"github.com/AleutianAI/AleutianDecide/services/decision/registry"
)

// errParsingBody is the shared 400 body for malformed request JSON.
const errParsingBody = "error parsing request body"

// Decide resolves one or more flags for a user.
//
// # Description
//
// POST /v1/decide?keys=flag1&keys=flag2. With exactly one key the
// response is a single Decision object; with zero keys (all flags) or
// two and more it is an array. fetchSegments resolves the user's ODP
// segments before deciding so audience conditions on third-party
// dimensions can match.
func Decide() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)

		var body datatypes.DecideRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errParsingBody})
			return
		}
		if err := body.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		req := &decide.Request{
			UserID:     body.UserID,
			Attributes: body.UserAttributes,
			Forced:     body.ForcedDecisions,
			Options:    decide.OptionsFromStrings(body.DecideOptions),
		}
		if body.FetchSegments {
			segments, err := fetchSegments(c, client, &body)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": odp.ErrFetchSegments.Error(),
				})
				return
			}
			req.Segments = segments
			req.SegmentsFetched = true
		}

		keys := queryKeys(c)
		started := time.Now()
		decisions := client.Decider().DecideKeys(c.Request.Context(), client.Project(), keys, req)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordDecisionDuration("decide", time.Since(started).Seconds())
		}

		if !req.Options.DisableDecisionEvent {
			publishDecisions(client, decisions)
		}

		if len(keys) == 1 && len(decisions) == 1 {
			c.JSON(http.StatusOK, decisions[0])
			return
		}
		c.JSON(http.StatusOK, decisions)
	}
}

// queryKeys reads the keys= parameter, accepting both repeated values
// and comma-separated lists.
func queryKeys(c *gin.Context) []string {
	var keys []string
	for _, v := range c.QueryArray("keys") {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// fetchSegments resolves the user's qualified ODP segments.
func fetchSegments(c *gin.Context, client *registry.Client, body *datatypes.DecideRequest) ([]string, error) {
	odpClient := client.ODP()
	if odpClient == nil {
		return nil, odp.ErrNotIntegrated
	}
	return odpClient.FetchQualifiedSegments(c.Request.Context(), body.UserID, body.FetchSegmentsOptions)
}

// publishDecisions fans decision events out to SSE subscribers.
func publishDecisions(client *registry.Client, decisions []datatypes.Decision) {
	for i := range decisions {
		client.Notifications().Send(notifications.Event{
			Type:    notifications.TypeDecision,
			Message: decisions[i],
		})
	}
}
