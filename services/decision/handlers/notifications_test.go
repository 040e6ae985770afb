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
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
	"github.com/AleutianAI/AleutianDecide/services/decision/notifications"
)

// openStream connects to the event stream over a real HTTP server and
// returns a scanner over the response body. The stream handler blocks
// for the connection's lifetime, so a ResponseRecorder cannot drive it.
func openStream(t *testing.T, s *server, query string) (*http.Response, *bufio.Scanner) {
	t.Helper()

	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/v1/notifications/event-stream"+query, nil)
	require.NoError(t, err)
	req.Header.Set(middleware.SDKKeyHeader, testSDKKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp, bufio.NewScanner(resp.Body)
}

// nextData reads lines until the next data: frame.
func nextData(t *testing.T, scanner *bufio.Scanner) string {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended before a data frame: %v", scanner.Err())
	return ""
}

func waitForSubscriber(t *testing.T, center *notifications.Center) {
	t.Helper()
	require.Eventually(t, func() bool { return center.Len() == 1 },
		3*time.Second, 10*time.Millisecond)
}

func TestNotificationEventStream_DeliversEvents(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))
	center := s.client(t).Notifications()

	resp, scanner := openStream(t, s, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	waitForSubscriber(t, center)
	center.Send(notifications.Event{Type: notifications.TypeDecision,
		Message: map[string]any{"flagKey": "test_flag"}})

	frame := nextData(t, scanner)
	assert.JSONEq(t,
		`{"type": "decision", "message": {"flagKey": "test_flag"}}`, frame)
}

func TestNotificationEventStream_Filter(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))
	center := s.client(t).Notifications()

	_, scanner := openStream(t, s, "?filter=track")
	waitForSubscriber(t, center)

	// The decision event is filtered out; only the track event lands.
	center.Send(notifications.Event{Type: notifications.TypeDecision,
		Message: map[string]any{"flagKey": "test_flag"}})
	center.Send(notifications.Event{Type: notifications.TypeTrack,
		Message: map[string]any{"eventKey": "purchase"}})

	frame := nextData(t, scanner)
	assert.JSONEq(t, `{"type": "track", "message": {"eventKey": "purchase"}}`, frame)
}

func TestNotificationEventStream_UnsubscribesOnDisconnect(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))
	center := s.client(t).Notifications()

	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/v1/notifications/event-stream", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.SDKKeyHeader, testSDKKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	waitForSubscriber(t, center)

	cancel()
	_ = resp.Body.Close()

	require.Eventually(t, func() bool { return center.Len() == 0 },
		3*time.Second, 10*time.Millisecond)
}
