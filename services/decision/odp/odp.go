// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package odp integrates with the Optimizely Data Platform: outbound
// audience-qualification events and inbound qualified-segment
// fetches. Integration credentials come from the datafile; a project
// without an "odp" integration yields ErrNotIntegrated on every call.
package odp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
)

// Sentinel errors surfaced to handlers.
var (
	// ErrNotIntegrated: the datafile carries no usable ODP integration.
	ErrNotIntegrated = errors.New("ODP is not integrated")

	// ErrInvalidData: event data contains non-scalar values.
	ErrInvalidData = errors.New("ODP data is not valid")

	// ErrFetchSegments: the segment fetch failed upstream.
	ErrFetchSegments = errors.New("failed to fetch qualified segments")
)

// DefaultEventType is filled in when an event omits its type.
const DefaultEventType = "fullstack"

// Client talks to one project's ODP endpoints.
type Client struct {
	httpClient *http.Client
	host       string
	publicKey  string

	segments *segmentCache
}

// Config configures a Client.
type Config struct {
	// Host is the ODP API host from the datafile integration.
	Host string

	// PublicKey authenticates requests (x-api-key header).
	PublicKey string

	// Timeout bounds each outbound call. Default 10s.
	Timeout time.Duration

	// SegmentsCacheSize caps the per-user segment cache. Default 100.
	SegmentsCacheSize int

	// SegmentsCacheTTL expires cached segment fetches. Default 10m.
	SegmentsCacheTTL time.Duration
}

// NewClient creates a Client. Host and PublicKey must be non-empty;
// use HasIntegration on the project before constructing one.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" || cfg.PublicKey == "" {
		return nil, ErrNotIntegrated
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SegmentsCacheSize <= 0 {
		cfg.SegmentsCacheSize = 100
	}
	if cfg.SegmentsCacheTTL <= 0 {
		cfg.SegmentsCacheTTL = 10 * time.Minute
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		host:       cfg.Host,
		publicKey:  cfg.PublicKey,
		segments:   newSegmentCache(cfg.SegmentsCacheSize, cfg.SegmentsCacheTTL),
	}, nil
}

// ValidateEvent checks the event invariants shared by the handler and
// SendEvent: identifiers present, action present, data scalar-only.
func ValidateEvent(ev *datatypes.OdpEvent) error {
	if len(ev.Identifiers) == 0 {
		return errors.New(`missing or empty "identifiers" in request payload`)
	}
	if ev.Action == "" {
		return errors.New(`missing "action" in request payload`)
	}
	for _, v := range ev.Data {
		switch v.(type) {
		case nil, string, bool, float64, int, int64:
		default:
			return ErrInvalidData
		}
	}
	return nil
}

// SendEvent posts one event to the ODP events API.
func (c *Client) SendEvent(ctx context.Context, ev datatypes.OdpEvent) error {
	if err := ValidateEvent(&ev); err != nil {
		return err
	}
	if ev.Type == "" {
		ev.Type = DefaultEventType
	}

	body, err := json.Marshal([]datatypes.OdpEvent{ev})
	if err != nil {
		return fmt.Errorf("encode odp event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v3/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build odp event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.publicKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send odp event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("send odp event: unexpected status %s", resp.Status)
	}
	return nil
}

// segmentsQuery is the GraphQL query for audience qualification.
const segmentsQuery = `query($userId: String, $audiences: [String]) {
  customer(fs_user_id: $userId) {
    audiences(subset: $audiences) {
      edges { node { name state } }
    }
  }
}`

type segmentsResponse struct {
	Data struct {
		Customer struct {
			Audiences struct {
				Edges []struct {
					Node struct {
						Name  string `json:"name"`
						State string `json:"state"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"audiences"`
		} `json:"customer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchQualifiedSegments returns the segments the user qualifies for,
// honoring cache options from the request.
//
// Parameters:
//   - ctx: Deadline/cancellation for the fetch
//   - userID: fs_user_id to qualify
//   - options: SegmentsResetCache / SegmentsIgnoreCache
//
// Returns:
//   - []string: Qualified segment names (possibly empty, never nil)
//   - error: ErrFetchSegments wrapping the upstream failure
func (c *Client) FetchQualifiedSegments(ctx context.Context, userID string, options []string) ([]string, error) {
	ignoreCache := false
	for _, o := range options {
		switch o {
		case datatypes.SegmentsResetCache:
			c.segments.reset()
		case datatypes.SegmentsIgnoreCache:
			ignoreCache = true
		}
	}

	if !ignoreCache {
		if segs, ok := c.segments.lookup(userID); ok {
			return segs, nil
		}
	}

	segs, err := c.fetchSegments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchSegments, err)
	}
	if !ignoreCache {
		c.segments.store(userID, segs)
	}
	return segs, nil
}

func (c *Client) fetchSegments(ctx context.Context, userID string) ([]string, error) {
	payload, err := json.Marshal(map[string]any{
		"query": segmentsQuery,
		"variables": map[string]any{
			"userId":    userID,
			"audiences": []string{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode segments query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v3/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build segments request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.publicKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segments request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segments request: unexpected status %s", resp.Status)
	}

	var out segmentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode segments response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("segments query: %s", out.Errors[0].Message)
	}

	segs := []string{}
	for _, e := range out.Data.Customer.Audiences.Edges {
		if e.Node.State == "qualified" {
			segs = append(segs, e.Node.Name)
		}
	}
	return segs, nil
}

// =============================================================================
// Segment Cache
// =============================================================================

type segmentEntry struct {
	segments  []string
	expiresAt time.Time
}

// segmentCache is a small TTL map keyed by user ID. Size is enforced
// by dropping the whole map when it overflows; qualification fetches
// are cheap relative to tracking true LRU order here.
type segmentCache struct {
	mu      sync.Mutex
	entries map[string]segmentEntry
	maxSize int
	ttl     time.Duration
}

func newSegmentCache(maxSize int, ttl time.Duration) *segmentCache {
	return &segmentCache{
		entries: make(map[string]segmentEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *segmentCache) lookup(userID string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, userID)
		return nil, false
	}
	return e.segments, true
}

func (c *segmentCache) store(userID string, segments []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.entries = make(map[string]segmentEntry)
	}
	c.entries[userID] = segmentEntry{
		segments:  segments,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *segmentCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]segmentEntry)
}
