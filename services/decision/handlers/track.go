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
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
	"github.com/AleutianAI/AleutianDecide/services/decision/notifications"
)

// Track records a conversion event.
//
// POST /v1/track?eventKey=. The event must exist in the datafile.
// Success is a bare 204; the processed event fans out to notification
// subscribers as a track event.
func Track() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)

		eventKey := c.Query("eventKey")
		if eventKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "missing required path parameter: eventKey",
			})
			return
		}

		var body datatypes.TrackRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errParsingBody})
			return
		}
		if err := body.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if client.Project().Event(eventKey) == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": fmt.Sprintf("event with key %q not found", eventKey),
			})
			return
		}

		client.Notifications().Send(notifications.Event{
			Type: notifications.TypeTrack,
			Message: datatypes.TrackResult{
				UserID:         body.UserID,
				EventKey:       eventKey,
				EventTags:      body.EventTags,
				UserAttributes: body.UserAttributes,
			},
		})
		c.Status(http.StatusNoContent)
	}
}
