// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianDecide/services/decision/batch"
	"github.com/AleutianAI/AleutianDecide/services/decision/handlers"
	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
	"github.com/AleutianAI/AleutianDecide/services/decision/registry"
)

func SetupRoutes(router *gin.Engine, reg *registry.Registry, coordinator *batch.Coordinator) {

	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		// Batch carries the SDK key per operation, not on the
		// envelope request.
		v1.POST("/batch", handlers.Batch(coordinator))

		// Project-scoped routes resolve X-Optimizely-SDK-Key to a
		// registry client first.
		keyed := v1.Group("", middleware.ClientFromSDKKey(reg))
		{
			keyed.GET("/config", handlers.GetConfig())
			keyed.GET("/datafile", handlers.GetDatafile())
			keyed.POST("/decide", handlers.Decide())
			keyed.POST("/activate", handlers.Activate())
			keyed.POST("/track", handlers.Track())
			keyed.POST("/override", handlers.Override())
			keyed.POST("/save", handlers.SaveProfile())
			keyed.POST("/lookup", handlers.LookupProfile())
			keyed.POST("/send-odp-event", handlers.SendOdpEvent())
			keyed.GET("/notifications/event-stream", handlers.NotificationEventStream())
		}
	}
}
