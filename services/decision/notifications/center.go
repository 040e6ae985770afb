// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notifications fans decision and track events out to SSE
// subscribers. Delivery is best-effort: a subscriber that cannot keep
// up loses events instead of slowing the decision path down.
package notifications

import (
	"sync"

	"github.com/google/uuid"
)

// Event types published by the decision and track paths.
const (
	TypeDecision = "decision"
	TypeTrack    = "track"
)

// subscriberBuffer is the per-subscriber channel depth. Events beyond
// it are dropped for that subscriber.
const subscriberBuffer = 64

// Event is one notification as it appears on the wire.
type Event struct {
	Type    string `json:"type"`
	Message any    `json:"message"`
}

// subscriber pairs a delivery channel with an optional type filter.
type subscriber struct {
	ch     chan Event
	filter map[string]bool
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.filter) == 0 {
		return true
	}
	return s.filter[eventType]
}

// Center is a per-SDK-key notification hub.
type Center struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// NewCenter creates an empty notification center.
func NewCenter() *Center {
	return &Center{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a listener and returns its id and channel. When
// filter is non-empty only events of the listed types are delivered.
// The channel is closed by Unsubscribe.
func (c *Center) Subscribe(filter []string) (string, <-chan Event) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(filter) > 0 {
		sub.filter = make(map[string]bool, len(filter))
		for _, t := range filter {
			sub.filter[t] = true
		}
	}

	id := uuid.New().String()
	c.mu.Lock()
	c.subscribers[id] = sub
	c.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes a listener and closes its channel. Unknown ids
// are a no-op.
func (c *Center) Unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subscribers[id]
	if ok {
		delete(c.subscribers, id)
	}
	c.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Send delivers an event to every matching subscriber without
// blocking. Full subscriber buffers drop the event.
func (c *Center) Send(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subscribers {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Len reports the number of active subscribers.
func (c *Center) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}
