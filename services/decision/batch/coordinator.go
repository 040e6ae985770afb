// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch replays a list of API operations through the service
// router in one round trip. Each operation becomes a synthesized
// in-process HTTP request, so it passes the same middleware and
// handlers as a direct call.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
)

// Defaults applied when the coordinator config leaves them zero.
const (
	DefaultMaxOperations  = 10
	DefaultMaxConcurrency = 5
)

// ErrTooManyOperations wraps the operation-count limit. The handler
// maps it to 422 without running anything.
type ErrTooManyOperations struct {
	Received int
	Max      int
}

func (e *ErrTooManyOperations) Error() string {
	return fmt.Sprintf("too many operations received (%d) exceeded max (%d)", e.Received, e.Max)
}

// Coordinator fans batch operations out over the router.
type Coordinator struct {
	handler        http.Handler
	maxOperations  int
	maxConcurrency int
}

// Config wires a Coordinator.
type Config struct {
	// Handler is the router the operations re-enter. Required.
	Handler http.Handler

	// MaxOperations caps one batch. Default 10.
	MaxOperations int

	// MaxConcurrency bounds parallel operations. Default 5.
	MaxConcurrency int
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.MaxOperations <= 0 {
		cfg.MaxOperations = DefaultMaxOperations
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Coordinator{
		handler:        cfg.Handler,
		maxOperations:  cfg.MaxOperations,
		maxConcurrency: cfg.MaxConcurrency,
	}
}

// Process runs every operation and assembles the batch response.
// Operation failures are recorded per operation; only the count limit
// fails the batch as a whole.
func (c *Coordinator) Process(ctx context.Context, req *datatypes.BatchRequest) (*datatypes.BatchResponse, error) {
	if len(req.Operations) > c.maxOperations {
		return nil, &ErrTooManyOperations{Received: len(req.Operations), Max: c.maxOperations}
	}

	resp := &datatypes.BatchResponse{
		StartedAt: time.Now().UTC(),
		Response:  make([]datatypes.BatchOperationResponse, 0, len(req.Operations)),
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(c.maxConcurrency)
	for i := range req.Operations {
		op := req.Operations[i]
		p.Go(func() {
			opResp := c.execute(ctx, &op)
			mu.Lock()
			if opResp.Status >= http.StatusBadRequest {
				resp.ErrorCount++
			}
			resp.Response = append(resp.Response, opResp)
			mu.Unlock()
		})
	}
	p.Wait()

	resp.EndedAt = time.Now().UTC()
	return resp, nil
}

// execute replays one operation through the router and captures the
// result.
func (c *Coordinator) execute(ctx context.Context, op *datatypes.BatchOperation) datatypes.BatchOperationResponse {
	out := datatypes.BatchOperationResponse{
		OperationID: op.OperationID,
		Method:      op.Method,
		URL:         op.URL,
		StartedAt:   time.Now().UTC(),
	}

	req, err := c.buildRequest(ctx, op)
	if err != nil {
		out.Status = http.StatusBadRequest
		out.Body = map[string]string{"error": err.Error()}
		out.EndedAt = time.Now().UTC()
		return out
	}

	rec := newRecorder()
	c.handler.ServeHTTP(rec, req)

	out.Status = rec.status
	out.RequestID = rec.Header().Get("X-Request-Id")
	if out.RequestID == "" {
		out.RequestID = op.Headers["X-Request-Id"]
	}
	out.Body = decodeBody(rec.body.Bytes())
	out.EndedAt = time.Now().UTC()
	return out
}

// buildRequest synthesizes the sub-request: operation URL plus query
// params, JSON body, per-operation headers.
func (c *Coordinator) buildRequest(ctx context.Context, op *datatypes.BatchOperation) (*http.Request, error) {
	target, err := url.Parse(op.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid operation url %q", op.URL)
	}
	if len(op.Params) > 0 {
		q := target.Query()
		for k, v := range op.Params {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	var body *bytes.Reader
	if len(op.Body) > 0 {
		body = bytes.NewReader(op.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("invalid operation method %q", op.Method)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range op.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// decodeBody turns a captured response body back into structured
// JSON. Non-JSON bodies are passed through as strings.
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
