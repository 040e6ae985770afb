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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
)

// errNoProfileStore is the 500 body when the deployment runs without
// a user profile store.
const errNoProfileStore = "user profile service not configured"

// SaveProfile persists sticky bucketing for a user.
//
// POST /v1/save. A payload that does not decode into a profile is
// acknowledged with an empty 200 and ignored, matching the lenient
// SDK behavior for malformed profiles.
func SaveProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)
		store := client.Profiles()
		if store == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": errNoProfileStore})
			return
		}

		var profile datatypes.Profile
		if err := c.ShouldBindJSON(&profile); err != nil || profile.UserID == "" {
			c.Status(http.StatusOK)
			return
		}
		if err := store.Save(c.Request.Context(), profile); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusOK)
	}
}

// LookupProfile returns a user's sticky bucketing history.
//
// POST /v1/lookup. An unknown user answers 200 with an empty bucket
// map rather than a 404.
func LookupProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)
		store := client.Profiles()
		if store == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": errNoProfileStore})
			return
		}

		var body datatypes.LookupRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errParsingBody})
			return
		}
		if err := body.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		profile, err := store.Lookup(c.Request.Context(), body.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}
