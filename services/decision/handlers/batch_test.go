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
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
	"github.com/AleutianAI/AleutianDecide/services/decision/middleware"
)

func TestBatch_ReplaysOperations(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))

	sdkHeaders := map[string]string{middleware.SDKKeyHeader: testSDKKey}
	body := datatypes.BatchRequest{Operations: []datatypes.BatchOperation{
		{Method: http.MethodGet, URL: "/health", OperationID: "1"},
		{Method: http.MethodGet, URL: "/v1/config", OperationID: "2", Headers: sdkHeaders},
		{
			Method: http.MethodPost, URL: "/v1/decide", OperationID: "3",
			Params:  map[string]string{"keys": "test_flag"},
			Headers: sdkHeaders,
			Body:    json.RawMessage(`{"userId": "draco", "userAttributes": {"house": "Slytherin"}}`),
		},
	}}

	// The envelope itself needs no SDK key; each operation carries
	// its own headers.
	w := s.doRaw(t, http.MethodPost, "/v1/batch", marshal(t, body))
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.ErrorCount)
	require.Len(t, resp.Response, 3)

	byID := map[string]datatypes.BatchOperationResponse{}
	for _, op := range resp.Response {
		byID[op.OperationID] = op
	}
	assert.Equal(t, http.StatusOK, byID["1"].Status)
	assert.Equal(t, http.StatusOK, byID["2"].Status)
	assert.Equal(t, http.StatusOK, byID["3"].Status)

	decision, ok := byID["3"].Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "var_a", decision["variationKey"])
}

func TestBatch_CountsOperationFailures(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))

	body := datatypes.BatchRequest{Operations: []datatypes.BatchOperation{
		{Method: http.MethodGet, URL: "/health", OperationID: "ok"},
		// No SDK key header: the keyed route rejects it.
		{Method: http.MethodGet, URL: "/v1/config", OperationID: "bad"},
	}}

	w := s.doRaw(t, http.MethodPost, "/v1/batch", marshal(t, body))
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.ErrorCount)
}

func TestBatch_TooManyOperations(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))

	ops := make([]datatypes.BatchOperation, 11)
	for i := range ops {
		ops[i] = datatypes.BatchOperation{Method: http.MethodGet, URL: "/health"}
	}

	w := s.doRaw(t, http.MethodPost, "/v1/batch", marshal(t, datatypes.BatchRequest{Operations: ops}))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t,
		`{"error": "too many operations received (11) exceeded max (10)"}`,
		w.Body.String())
}

func TestBatch_MalformedBody(t *testing.T) {
	s := newServer(t, fixtureDatafile(""))

	w := s.doRaw(t, http.MethodPost, "/v1/batch", `{"operations": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": "error parsing request body"}`, w.Body.String())
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
