// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
)

// echoHandler replays request details back as JSON so tests can assert
// what the coordinator synthesized.
func echoHandler(inFlight, peak *atomic.Int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inFlight != nil {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			defer inFlight.Add(-1)
		}

		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": "boom"}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Request-Id", "req-"+r.Header.Get("X-Test-Op"))
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"path":   r.URL.Path,
			"query":  r.URL.Query().Get("extra"),
			"sdkKey": r.Header.Get("X-Optimizely-SDK-Key"),
			"body":   string(body),
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func TestProcess_ReplaysOperations(t *testing.T) {
	c := NewCoordinator(Config{Handler: echoHandler(nil, nil)})

	req := &datatypes.BatchRequest{Operations: []datatypes.BatchOperation{
		{
			Method:      http.MethodPost,
			URL:         "/v1/decide",
			OperationID: "op-1",
			Body:        json.RawMessage(`{"userId": "u"}`),
			Params:      map[string]string{"extra": "yes"},
			Headers: map[string]string{
				"X-Optimizely-SDK-Key": "sdk-1",
				"X-Test-Op":            "1",
			},
		},
		{
			Method:      http.MethodGet,
			URL:         "/v1/config",
			OperationID: "op-2",
			Headers:     map[string]string{"X-Test-Op": "2"},
		},
	}}

	resp, err := c.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.ErrorCount)
	require.Len(t, resp.Response, 2)
	assert.False(t, resp.StartedAt.IsZero())
	assert.False(t, resp.EndedAt.Before(resp.StartedAt))

	byID := map[string]datatypes.BatchOperationResponse{}
	for _, r := range resp.Response {
		byID[r.OperationID] = r
	}

	op1 := byID["op-1"]
	assert.Equal(t, http.StatusOK, op1.Status)
	assert.Equal(t, http.MethodPost, op1.Method)
	assert.Equal(t, "/v1/decide", op1.URL)
	assert.Equal(t, "req-1", op1.RequestID)
	body, ok := op1.Body.(map[string]any)
	require.True(t, ok, "JSON bodies decode to structured values")
	assert.Equal(t, "/v1/decide", body["path"])
	assert.Equal(t, "yes", body["query"])
	assert.Equal(t, "sdk-1", body["sdkKey"])
	assert.Equal(t, `{"userId": "u"}`, body["body"])

	assert.Equal(t, "req-2", byID["op-2"].RequestID)
}

func TestProcess_TooManyOperations(t *testing.T) {
	c := NewCoordinator(Config{Handler: echoHandler(nil, nil), MaxOperations: 2})

	req := &datatypes.BatchRequest{Operations: make([]datatypes.BatchOperation, 3)}
	_, err := c.Process(context.Background(), req)
	require.Error(t, err)

	var tooMany *ErrTooManyOperations
	require.True(t, errors.As(err, &tooMany))
	assert.Equal(t, 3, tooMany.Received)
	assert.Equal(t, 2, tooMany.Max)
	assert.Equal(t, "too many operations received (3) exceeded max (2)", err.Error())
}

func TestProcess_CountsOperationFailures(t *testing.T) {
	c := NewCoordinator(Config{Handler: echoHandler(nil, nil)})

	req := &datatypes.BatchRequest{Operations: []datatypes.BatchOperation{
		{Method: http.MethodGet, URL: "/v1/config", OperationID: "ok"},
		{Method: http.MethodPost, URL: "/boom", OperationID: "bad"},
	}}
	resp, err := c.Process(context.Background(), req)
	require.NoError(t, err, "operation failures never fail the batch")
	assert.Equal(t, 1, resp.ErrorCount)

	for _, r := range resp.Response {
		if r.OperationID == "bad" {
			assert.Equal(t, http.StatusBadRequest, r.Status)
			assert.Equal(t, map[string]any{"error": "boom"}, r.Body)
		}
	}
}

func TestProcess_InvalidOperation(t *testing.T) {
	c := NewCoordinator(Config{Handler: echoHandler(nil, nil)})

	req := &datatypes.BatchRequest{Operations: []datatypes.BatchOperation{
		{Method: "BAD METHOD", URL: "/v1/config", OperationID: "op-1"},
	}}
	resp, err := c.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.ErrorCount)
	require.Len(t, resp.Response, 1)
	assert.Equal(t, http.StatusBadRequest, resp.Response[0].Status)
	body, ok := resp.Response[0].Body.(map[string]string)
	require.True(t, ok)
	assert.Contains(t, body["error"], "invalid operation method")
}

func TestProcess_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64
	c := NewCoordinator(Config{Handler: echoHandler(&inFlight, &peak), MaxConcurrency: 2, MaxOperations: 20})

	ops := make([]datatypes.BatchOperation, 12)
	for i := range ops {
		ops[i] = datatypes.BatchOperation{
			Method:      http.MethodGet,
			URL:         "/v1/config",
			OperationID: fmt.Sprintf("op-%d", i),
		}
	}
	resp, err := c.Process(context.Background(), &datatypes.BatchRequest{Operations: ops})
	require.NoError(t, err)
	assert.Len(t, resp.Response, 12)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestNewCoordinator_Defaults(t *testing.T) {
	c := NewCoordinator(Config{Handler: echoHandler(nil, nil)})
	assert.Equal(t, DefaultMaxOperations, c.maxOperations)
	assert.Equal(t, DefaultMaxConcurrency, c.maxConcurrency)
}

func TestDecodeBody(t *testing.T) {
	assert.Nil(t, decodeBody(nil))
	assert.Equal(t, map[string]any{"a": float64(1)}, decodeBody([]byte(`{"a": 1}`)))
	assert.Equal(t, "plain text", decodeBody([]byte("plain text")))
}
