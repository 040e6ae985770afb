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

	"github.com/AleutianAI/AleutianDecide/services/decision/batch"
	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
	"github.com/AleutianAI/AleutianDecide/services/decision/observability"
)

// Batch replays up to the configured number of API operations in one
// request.
//
// POST /v1/batch. Exceeding the operation limit rejects the whole
// batch with 422 before anything runs; individual operation failures
// are reported per operation in the response body.
func Batch(coordinator *batch.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body datatypes.BatchRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errParsingBody})
			return
		}

		resp, err := coordinator.Process(c.Request.Context(), &body)
		if err != nil {
			var tooMany *batch.ErrTooManyOperations
			if errors.As(err, &tooMany) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			for i := range resp.Response {
				m.RecordBatchOperation(resp.Response[i].Status)
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
