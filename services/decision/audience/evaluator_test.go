// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package audience

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDecide/services/decision/datafile"
)

func leaf(match, name string, value any) *datafile.Condition {
	return &datafile.Condition{
		Match: match,
		Name:  name,
		Type:  datafile.TypeCustomAttribute,
		Value: value,
	}
}

func TestEvaluate_NilTreeMatchesEveryone(t *testing.T) {
	assert.Equal(t, True, Evaluate(nil, &User{ID: "u"}))
}

func TestEvaluate_Matchers(t *testing.T) {
	tests := []struct {
		name  string
		tree  *datafile.Condition
		attrs map[string]any
		want  Result
	}{
		{"exact string match", leaf("exact", "house", "Slytherin"), map[string]any{"house": "Slytherin"}, True},
		{"exact string mismatch", leaf("exact", "house", "Slytherin"), map[string]any{"house": "Gryffindor"}, False},
		{"exact missing attribute", leaf("exact", "house", "Slytherin"), nil, Unknown},
		{"exact type mismatch", leaf("exact", "house", "Slytherin"), map[string]any{"house": 7}, Unknown},
		{"exact empty match treated as exact", leaf("", "house", "Slytherin"), map[string]any{"house": "Slytherin"}, True},
		{"exact bool", leaf("exact", "opted", true), map[string]any{"opted": true}, True},
		{"exact number across types", leaf("exact", "level", float64(5)), map[string]any{"level": 5}, True},
		{"exists present", leaf("exists", "house", nil), map[string]any{"house": ""}, True},
		{"exists nil value", leaf("exists", "house", nil), map[string]any{"house": nil}, False},
		{"exists absent", leaf("exists", "house", nil), nil, False},
		{"substring hit", leaf("substring", "house", "lyth"), map[string]any{"house": "Slytherin"}, True},
		{"substring miss", leaf("substring", "house", "ffin"), map[string]any{"house": "Slytherin"}, False},
		{"substring non-string attr", leaf("substring", "house", "lyth"), map[string]any{"house": 3}, Unknown},
		{"gt", leaf("gt", "score", float64(10)), map[string]any{"score": 11}, True},
		{"ge boundary", leaf("ge", "score", float64(10)), map[string]any{"score": 10}, True},
		{"lt", leaf("lt", "score", float64(10)), map[string]any{"score": 10}, False},
		{"le boundary", leaf("le", "score", float64(10)), map[string]any{"score": 10}, True},
		{"numeric missing attr", leaf("gt", "score", float64(10)), nil, Unknown},
		{"numeric bool attr", leaf("gt", "score", float64(10)), map[string]any{"score": true}, Unknown},
		{"unknown matcher", leaf("regex", "house", "S.*"), map[string]any{"house": "Slytherin"}, Unknown},
		{"unknown leaf type", &datafile.Condition{Match: "exact", Name: "x", Type: "exotic", Value: "v"},
			map[string]any{"x": "v"}, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.tree, &User{ID: "u", Attributes: tt.attrs})
			assert.Equal(t, tt.want, got, "want %s got %s", tt.want, got)
		})
	}
}

func TestEvaluate_Qualified(t *testing.T) {
	tree := &datafile.Condition{
		Match: datafile.MatchQualified,
		Name:  "odp.audiences",
		Type:  datafile.TypeThirdPartyDim,
		Value: "has_email_opted_in",
	}

	// Not fetched yet: cannot decide.
	assert.Equal(t, Unknown, Evaluate(tree, &User{ID: "u"}))

	fetched := &User{ID: "u", SegmentsFetched: true, Segments: []string{"has_email_opted_in"}}
	assert.Equal(t, True, Evaluate(tree, fetched))

	empty := &User{ID: "u", SegmentsFetched: true}
	assert.Equal(t, False, Evaluate(tree, empty))
}

func TestEvaluate_Combinators(t *testing.T) {
	yes := leaf("exact", "a", "1")
	no := leaf("exact", "b", "1")
	unk := leaf("exact", "missing", "1")
	user := &User{ID: "u", Attributes: map[string]any{"a": "1", "b": "2"}}

	and := func(ops ...*datafile.Condition) *datafile.Condition {
		return &datafile.Condition{Op: datafile.OpAnd, Operands: ops}
	}
	or := func(ops ...*datafile.Condition) *datafile.Condition {
		return &datafile.Condition{Op: datafile.OpOr, Operands: ops}
	}
	not := func(op *datafile.Condition) *datafile.Condition {
		return &datafile.Condition{Op: datafile.OpNot, Operands: []*datafile.Condition{op}}
	}

	tests := []struct {
		name string
		tree *datafile.Condition
		want Result
	}{
		{"and all true", and(yes, yes), True},
		{"and short false", and(yes, no), False},
		{"and unknown propagates", and(yes, unk), Unknown},
		{"and false beats unknown", and(no, unk), False},
		{"or any true", or(no, yes), True},
		{"or all false", or(no, no), False},
		{"or unknown propagates", or(no, unk), Unknown},
		{"or true beats unknown", or(unk, yes), True},
		{"not true", not(yes), False},
		{"not false", not(no), True},
		{"not unknown", not(unk), Unknown},
		{"not empty", &datafile.Condition{Op: datafile.OpNot}, Unknown},
		{"unknown operator", &datafile.Condition{Op: "xor", Operands: []*datafile.Condition{yes}}, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.tree, user))
		})
	}
}

func TestCheckAudiences(t *testing.T) {
	raw := []byte(`{
		"version": "4",
		"audiences": [
			{"id": "aud-1", "name": "Slytherins",
			 "conditions": "[\"and\", [\"or\", [\"or\", {\"match\": \"exact\", \"name\": \"house\", \"type\": \"custom_attribute\", \"value\": \"Slytherin\"}]]]"},
			{"id": "aud-2", "name": "HighScores",
			 "conditions": "[\"and\", [\"or\", [\"or\", {\"match\": \"gt\", \"name\": \"score\", \"type\": \"custom_attribute\", \"value\": 10}]]]"}
		]
	}`)
	project, err := datafile.Parse(raw)
	require.NoError(t, err)

	ref := func(id string) *datafile.Condition {
		return &datafile.Condition{Op: datafile.OpOr, Operands: []*datafile.Condition{{AudienceID: id}}}
	}

	t.Run("nil tree passes", func(t *testing.T) {
		ok, reasons := CheckAudiences(project, nil, &User{ID: "u"})
		assert.True(t, ok)
		assert.Empty(t, reasons)
	})

	t.Run("matching audience", func(t *testing.T) {
		ok, reasons := CheckAudiences(project, ref("aud-1"),
			&User{ID: "u", Attributes: map[string]any{"house": "Slytherin"}})
		assert.True(t, ok)
		assert.Empty(t, reasons)
	})

	t.Run("non-matching audience", func(t *testing.T) {
		ok, reasons := CheckAudiences(project, ref("aud-1"),
			&User{ID: "u", Attributes: map[string]any{"house": "Gryffindor"}})
		assert.False(t, ok)
		assert.Empty(t, reasons)
	})

	t.Run("unknown nested tree is false with reason", func(t *testing.T) {
		ok, reasons := CheckAudiences(project, ref("aud-1"), &User{ID: "u"})
		assert.False(t, ok)
		require.Len(t, reasons, 1)
		assert.Equal(t,
			fmt.Sprintf("an error occurred while evaluating nested tree for audience ID %q", "aud-1"),
			reasons[0])
	})

	t.Run("dangling audience reference", func(t *testing.T) {
		ok, reasons := CheckAudiences(project, ref("ghost"), &User{ID: "u"})
		assert.False(t, ok)
		require.Len(t, reasons, 1)
		assert.Contains(t, reasons[0], `audience ID "ghost"`)
	})

	t.Run("or across audiences", func(t *testing.T) {
		tree := &datafile.Condition{Op: datafile.OpOr, Operands: []*datafile.Condition{
			{AudienceID: "aud-1"},
			{AudienceID: "aud-2"},
		}}
		ok, _ := CheckAudiences(project, tree,
			&User{ID: "u", Attributes: map[string]any{"house": "Hufflepuff", "score": 99}})
		assert.True(t, ok)
	})

	t.Run("not over audience", func(t *testing.T) {
		tree := &datafile.Condition{Op: datafile.OpNot, Operands: []*datafile.Condition{
			{AudienceID: "aud-1"},
		}}
		ok, _ := CheckAudiences(project, tree,
			&User{ID: "u", Attributes: map[string]any{"house": "Gryffindor"}})
		assert.True(t, ok)
	})
}

func TestToFloat(t *testing.T) {
	for _, v := range []any{float64(1), float32(1), int(1), int32(1), int64(1)} {
		got, ok := toFloat(v)
		require.True(t, ok, "%T", v)
		assert.Equal(t, float64(1), got)
	}
	for _, v := range []any{"1", true, nil} {
		_, ok := toFloat(v)
		assert.False(t, ok, "%T", v)
	}
}
