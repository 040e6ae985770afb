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

// Override pins (experiment, user) to a variation for QA.
//
// POST /v1/override. An empty variationKey removes an existing
// override. Creation answers 201; updates and removals answer 200
// with a message describing what happened to the previous value.
func Override() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)

		var body datatypes.OverrideRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errParsingBody})
			return
		}
		if err := body.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		overrides := client.Decider().Overrides()
		resp := datatypes.OverrideResponse{
			UserID:        body.UserID,
			ExperimentKey: body.ExperimentKey,
			VariationKey:  body.VariationKey,
			Messages:      []string{},
		}

		if body.VariationKey == "" {
			prev, existed := overrides.Remove(body.ExperimentKey, body.UserID)
			if existed {
				resp.PrevVariationKey = prev
				resp.Messages = append(resp.Messages, "removing previous override")
			} else {
				resp.Messages = append(resp.Messages, "no pre-existing override")
			}
			c.JSON(http.StatusOK, resp)
			return
		}

		prev, existed := overrides.Set(body.ExperimentKey, body.UserID, body.VariationKey)
		if existed {
			resp.PrevVariationKey = prev
			resp.Messages = append(resp.Messages, "updating previous override")
			c.JSON(http.StatusOK, resp)
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}
