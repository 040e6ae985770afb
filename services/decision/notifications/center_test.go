// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCenter_SubscribeAndSend(t *testing.T) {
	c := NewCenter()
	id, ch := c.Subscribe(nil)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, c.Len())

	c.Send(Event{Type: TypeDecision, Message: "a"})
	c.Send(Event{Type: TypeTrack, Message: "b"})

	ev := <-ch
	assert.Equal(t, TypeDecision, ev.Type)
	assert.Equal(t, "a", ev.Message)
	ev = <-ch
	assert.Equal(t, TypeTrack, ev.Type)
}

func TestCenter_Filter(t *testing.T) {
	c := NewCenter()
	_, ch := c.Subscribe([]string{TypeTrack})

	c.Send(Event{Type: TypeDecision, Message: "skip"})
	c.Send(Event{Type: TypeTrack, Message: "keep"})

	ev := <-ch
	assert.Equal(t, TypeTrack, ev.Type)
	select {
	case ev = <-ch:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestCenter_Unsubscribe(t *testing.T) {
	c := NewCenter()
	id, ch := c.Subscribe(nil)

	c.Unsubscribe(id)
	assert.Equal(t, 0, c.Len())

	_, open := <-ch
	assert.False(t, open, "channel must be closed on unsubscribe")

	// Unknown ids are a no-op.
	c.Unsubscribe("ghost")
}

func TestCenter_SendNeverBlocks(t *testing.T) {
	c := NewCenter()
	_, ch := c.Subscribe(nil)

	// Overfill the buffer; Send must keep returning.
	for i := 0; i < subscriberBuffer+10; i++ {
		c.Send(Event{Type: TypeDecision, Message: i})
	}

	// Exactly the buffered events are deliverable.
	n := 0
	for {
		select {
		case <-ch:
			n++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, n)
}

func TestCenter_MultipleSubscribers(t *testing.T) {
	c := NewCenter()
	_, ch1 := c.Subscribe(nil)
	_, ch2 := c.Subscribe([]string{TypeDecision})
	require.Equal(t, 2, c.Len())

	c.Send(Event{Type: TypeDecision, Message: "x"})
	assert.Equal(t, "x", (<-ch1).Message)
	assert.Equal(t, "x", (<-ch2).Message)
}
