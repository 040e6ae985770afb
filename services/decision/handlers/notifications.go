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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
	"github.com/AleutianAI/AleutianDecide/services/decision/notifications"
	"github.com/AleutianAI/AleutianDecide/services/decision/observability"
)

// keepAliveInterval is how often an idle notification stream sends an
// SSE comment so load balancers keep the connection open.
const keepAliveInterval = 15 * time.Second

// NotificationEventStream streams decision and track events as SSE.
//
// # Description
//
// GET /v1/notifications/event-stream?filter=decision,track. Each
// event is one `data: <json>` frame; idle periods produce comment
// keepalives. The subscription lives until the client disconnects.
// Delivery is best-effort: the center drops events for a stream that
// cannot drain its buffer.
func NotificationEventStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := middleware.GetClient(c)

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		var filter []string
		if raw := c.Query("filter"); raw != "" {
			for _, t := range strings.Split(raw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					filter = append(filter, t)
				}
			}
		}

		center := client.Notifications()
		id, events := center.Subscribe(filter)
		defer center.Unsubscribe(id)

		if m := observability.DefaultMetrics; m != nil {
			m.SubscriberOpened()
			defer m.SubscriberClosed()
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case ev, open := <-events:
				if !open {
					return
				}
				if err := writeSSE(c.Writer, flusher, ev); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

// writeSSE emits one event frame and flushes it to the client.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev notifications.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
