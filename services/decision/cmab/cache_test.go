// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package cmab

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionCache_StoreLookup(t *testing.T) {
	c := NewDecisionCache(10, time.Minute)

	_, _, ok := c.Lookup("u:exp", 1)
	assert.False(t, ok)

	c.Store("u:exp", 1, "v1", "uuid-1")
	vid, cuid, ok := c.Lookup("u:exp", 1)
	require.True(t, ok)
	assert.Equal(t, "v1", vid)
	assert.Equal(t, "uuid-1", cuid)
	assert.Equal(t, 1, c.Len())
}

func TestDecisionCache_AttrHashMismatchEvicts(t *testing.T) {
	c := NewDecisionCache(10, time.Minute)
	c.Store("u:exp", 1, "v1", "uuid-1")

	// Changed attribute fingerprint: stale entry dropped on the spot.
	_, _, ok := c.Lookup("u:exp", 2)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestDecisionCache_TTLExpiry(t *testing.T) {
	c := NewDecisionCache(10, 10*time.Millisecond)
	c.Store("u:exp", 1, "v1", "uuid-1")

	time.Sleep(20 * time.Millisecond)
	_, _, ok := c.Lookup("u:exp", 1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestDecisionCache_LRUEviction(t *testing.T) {
	c := NewDecisionCache(3, time.Minute)
	for i := 0; i < 3; i++ {
		c.Store(fmt.Sprintf("u%d:exp", i), 1, "v1", "uuid")
	}

	// Touch u0 so u1 becomes the eviction candidate.
	_, _, ok := c.Lookup("u0:exp", 1)
	require.True(t, ok)

	c.Store("u3:exp", 1, "v1", "uuid")
	assert.Equal(t, 3, c.Len())

	_, _, ok = c.Lookup("u1:exp", 1)
	assert.False(t, ok)
	_, _, ok = c.Lookup("u0:exp", 1)
	assert.True(t, ok)
	_, _, ok = c.Lookup("u3:exp", 1)
	assert.True(t, ok)
}

func TestDecisionCache_StoreReplacesInPlace(t *testing.T) {
	c := NewDecisionCache(10, time.Minute)
	c.Store("u:exp", 1, "v1", "uuid-1")
	c.Store("u:exp", 2, "v2", "uuid-2")

	vid, cuid, ok := c.Lookup("u:exp", 2)
	require.True(t, ok)
	assert.Equal(t, "v2", vid)
	assert.Equal(t, "uuid-2", cuid)
	assert.Equal(t, 1, c.Len())
}

func TestDecisionCache_InvalidateAndReset(t *testing.T) {
	c := NewDecisionCache(10, time.Minute)
	c.Store("u1:exp", 1, "v1", "uuid")
	c.Store("u2:exp", 1, "v1", "uuid")

	c.Invalidate("u1:exp")
	_, _, ok := c.Lookup("u1:exp", 1)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestNewDecisionCache_Defaults(t *testing.T) {
	c := NewDecisionCache(0, 0)
	assert.Equal(t, 1000, c.maxSize)
	assert.Equal(t, 30*time.Minute, c.ttl)
}
