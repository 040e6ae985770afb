// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cmab decides contextual-multi-armed-bandit experiments via
// an external prediction service, fronted by a single-flight LRU/TTL
// cache.
//
// The cache guarantees two things the decision path depends on: a
// user's bandit arm is stable while their relevant attributes are
// unchanged (same cached prediction), and any change to a relevant
// attribute invalidates the stale entry and triggers exactly one
// upstream fetch regardless of concurrent request count.
package cmab

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry is one cached prediction, keyed by (user, experiment).
type cacheEntry struct {
	key         string // userID + experiment ID
	attrHash    uint64 // fingerprint of the relevant attributes
	variationID string
	cmabUUID    string
	expiresAt   time.Time
	lruElem     *list.Element
}

// DecisionCache is an LRU + TTL cache of bandit predictions.
type DecisionCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List
	maxSize int
	ttl     time.Duration
}

// NewDecisionCache creates a cache holding at most maxSize entries,
// each valid for ttl. maxSize <= 0 falls back to 1000 entries and
// ttl <= 0 to 30 minutes.
func NewDecisionCache(maxSize int, ttl time.Duration) *DecisionCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &DecisionCache{
		entries: make(map[string]*cacheEntry),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Lookup returns the cached prediction for (user, experiment) when it
// is fresh and was computed over the same attribute fingerprint. A
// stale or mismatched entry is evicted on the spot.
func (c *DecisionCache) Lookup(key string, attrHash uint64) (variationID, cmabUUID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		return "", "", false
	}
	if time.Now().After(e.expiresAt) || e.attrHash != attrHash {
		c.removeLocked(e)
		return "", "", false
	}
	c.lru.MoveToFront(e.lruElem)
	return e.variationID, e.cmabUUID, true
}

// Store inserts or replaces the prediction for key, evicting the
// least recently used entry when the cache is full.
func (c *DecisionCache) Store(key string, attrHash uint64, variationID, cmabUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, found := c.entries[key]; found {
		e.attrHash = attrHash
		e.variationID = variationID
		e.cmabUUID = cmabUUID
		e.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(e.lruElem)
		return
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
	}

	e := &cacheEntry{
		key:         key,
		attrHash:    attrHash,
		variationID: variationID,
		cmabUUID:    cmabUUID,
		expiresAt:   time.Now().Add(c.ttl),
	}
	e.lruElem = c.lru.PushFront(e)
	c.entries[key] = e
}

// Invalidate drops the entry for key, if any.
func (c *DecisionCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, found := c.entries[key]; found {
		c.removeLocked(e)
	}
}

// Reset drops every entry.
func (c *DecisionCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.lru.Init()
}

// Len returns the current entry count.
func (c *DecisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DecisionCache) removeLocked(e *cacheEntry) {
	c.lru.Remove(e.lruElem)
	delete(c.entries, e.key)
}
