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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
	"github.com/AleutianAI/AleutianDecide/services/decision/odp"
)

// SendOdpEvent forwards one event to the ODP events API.
//
// POST /v1/send-odp-event. Validation failures on identifiers and
// action are 400s; a datafile without the ODP integration and
// non-scalar event data are 500s, mirroring the upstream taxonomy.
func SendOdpEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)

		var ev datatypes.OdpEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errParsingBody})
			return
		}

		odpClient := client.ODP()
		if odpClient == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": odp.ErrNotIntegrated.Error()})
			return
		}

		if err := odp.ValidateEvent(&ev); err != nil {
			if errors.Is(err, odp.ErrInvalidData) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := odpClient.SendEvent(c.Request.Context(), ev); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
