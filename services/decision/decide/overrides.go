// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package decide

import "sync"

// overrideKey identifies one (experiment, user) override.
type overrideKey struct {
	experimentKey string
	userID        string
}

// Overrides is a process-wide map pinning (experiment, user) pairs to
// variation keys. It pre-empts datafile forced variations, saved
// profiles and bucketing inside experiment evaluation.
//
// Thread Safety: safe for concurrent use.
type Overrides struct {
	mu      sync.RWMutex
	entries map[overrideKey]string
}

// NewOverrides creates an empty override map.
func NewOverrides() *Overrides {
	return &Overrides{entries: make(map[overrideKey]string)}
}

// Get returns the override for the pair, if set.
func (o *Overrides) Get(experimentKey, userID string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.entries[overrideKey{experimentKey, userID}]
	return v, ok
}

// Set pins the pair to variationKey and returns the previous value.
func (o *Overrides) Set(experimentKey, userID, variationKey string) (prev string, existed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := overrideKey{experimentKey, userID}
	prev, existed = o.entries[k]
	o.entries[k] = variationKey
	return prev, existed
}

// Remove clears the pair's override and returns the removed value.
func (o *Overrides) Remove(experimentKey, userID string) (prev string, existed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := overrideKey{experimentKey, userID}
	prev, existed = o.entries[k]
	if existed {
		delete(o.entries, k)
	}
	return prev, existed
}

// Len returns the number of active overrides.
func (o *Overrides) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries)
}
