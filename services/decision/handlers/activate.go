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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
	"github.com/AleutianAI/AleutianDecide/services/decision/decide"
	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
	"github.com/AleutianAI/AleutianDecide/services/decision/notifications"
)

// Activate runs the legacy activation surface.
//
// # Description
//
// POST /v1/activate?experimentKey=&featureKey=&type=&enabled=&disableTracking=.
// Each experimentKey/featureKey parameter activates one entity;
// type=experiment or type=feature expands to every entity of that
// kind. The response is always an array of activations. An unknown
// single key is a 404 so callers notice typos; per-entity evaluation
// failures ride inside the activation's error field instead.
func Activate() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)

		var body datatypes.ActivateRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errParsingBody})
			return
		}
		if err := body.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		project := client.Project()
		req := &decide.Request{
			UserID:     body.UserID,
			Attributes: body.UserAttributes,
		}

		var activations []datatypes.Activation

		for _, key := range c.QueryArray("experimentKey") {
			exp := project.Experiment(key)
			if exp == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "experimentKey not-found"})
				return
			}
			activations = append(activations,
				client.Decider().ActivateExperiment(c.Request.Context(), project, exp, req))
		}
		for _, key := range c.QueryArray("featureKey") {
			flag := project.Flag(key)
			if flag == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "featureKey not-found"})
				return
			}
			activations = append(activations,
				client.Decider().ActivateFeature(c.Request.Context(), project, flag, req))
		}
		if kind := c.Query("type"); kind != "" {
			if kind != datatypes.ActivateTypeExperiment && kind != datatypes.ActivateTypeFeature {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("type %q not supported", kind),
				})
				return
			}
			activations = append(activations,
				client.Decider().ActivateAll(c.Request.Context(), project, kind, req)...)
		}

		if enabled, err := strconv.ParseBool(c.Query("enabled")); err == nil && c.Query("enabled") != "" {
			filtered := activations[:0]
			for _, a := range activations {
				if a.Enabled == enabled {
					filtered = append(filtered, a)
				}
			}
			activations = filtered
		}

		if disable, _ := strconv.ParseBool(c.Query("disableTracking")); !disable {
			for i := range activations {
				if activations[i].Error != "" {
					continue
				}
				client.Notifications().Send(notifications.Event{
					Type:    notifications.TypeDecision,
					Message: activations[i],
				})
			}
		}

		if activations == nil {
			activations = []datatypes.Activation{}
		}
		c.JSON(http.StatusOK, activations)
	}
}
