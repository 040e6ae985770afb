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

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverrides_SetGetRemove(t *testing.T) {
	o := NewOverrides()

	_, ok := o.Get("exp", "u")
	assert.False(t, ok)

	prev, existed := o.Set("exp", "u", "var_a")
	assert.False(t, existed)
	assert.Equal(t, "", prev)

	v, ok := o.Get("exp", "u")
	assert.True(t, ok)
	assert.Equal(t, "var_a", v)

	prev, existed = o.Set("exp", "u", "var_b")
	assert.True(t, existed)
	assert.Equal(t, "var_a", prev)
	assert.Equal(t, 1, o.Len())

	prev, existed = o.Remove("exp", "u")
	assert.True(t, existed)
	assert.Equal(t, "var_b", prev)
	assert.Equal(t, 0, o.Len())

	_, existed = o.Remove("exp", "u")
	assert.False(t, existed)
}

func TestOverrides_PairsAreIndependent(t *testing.T) {
	o := NewOverrides()
	o.Set("exp", "u1", "var_a")
	o.Set("exp", "u2", "var_b")
	o.Set("other", "u1", "var_c")

	v, _ := o.Get("exp", "u1")
	assert.Equal(t, "var_a", v)
	v, _ = o.Get("exp", "u2")
	assert.Equal(t, "var_b", v)
	v, _ = o.Get("other", "u1")
	assert.Equal(t, "var_c", v)
	assert.Equal(t, 3, o.Len())
}

func TestOverrides_ConcurrentAccess(t *testing.T) {
	o := NewOverrides()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				o.Set("exp", "u", "var_a")
				o.Get("exp", "u")
				o.Remove("exp", "u")
			}
		}()
	}
	wg.Wait()
}
