// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
	"github.com/AleutianAI/AleutianDecide/services/decision/notifications"
)

func TestTrack_KnownEvent(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))
	center := s.client(t).Notifications()
	id, events := center.Subscribe(nil)
	t.Cleanup(func() { center.Unsubscribe(id) })

	w := s.do(t, http.MethodPost, "/v1/track?eventKey=purchase", datatypes.TrackRequest{
		UserID:    "harry",
		EventTags: map[string]any{"revenue": 250},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	select {
	case ev := <-events:
		assert.Equal(t, notifications.TypeTrack, ev.Type)
		result, ok := ev.Message.(datatypes.TrackResult)
		require.True(t, ok)
		assert.Equal(t, "purchase", result.EventKey)
		assert.Equal(t, "harry", result.UserID)
		assert.Equal(t, map[string]any{"revenue": float64(250)}, result.EventTags)
	default:
		t.Fatal("expected a track event")
	}
}

func TestTrack_MissingEventKey(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))

	w := s.do(t, http.MethodPost, "/v1/track", datatypes.TrackRequest{UserID: "harry"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": "missing required path parameter: eventKey"}`, w.Body.String())
}

func TestTrack_UnknownEvent(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))

	w := s.do(t, http.MethodPost, "/v1/track?eventKey=nope", datatypes.TrackRequest{UserID: "harry"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error": "event with key \"nope\" not found"}`, w.Body.String())
}

func TestTrack_MissingUserID(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))

	w := s.do(t, http.MethodPost, "/v1/track?eventKey=purchase", datatypes.TrackRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": "userId cannot be empty"}`, w.Body.String())
}
