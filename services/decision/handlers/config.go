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

	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
)

// GetConfig serves the precomputed project configuration projection
// for the request's SDK key.
func GetConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)
		c.JSON(http.StatusOK, client.Project().Config())
	}
}

// GetDatafile serves the raw datafile bytes currently backing the
// client's snapshot.
func GetDatafile() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)
		c.Data(http.StatusOK, "application/json", client.Project().Raw())
	}
}
