// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package datafile

import (
	"encoding/json"
	"fmt"
)

// Condition tree operators. A node with an empty Op is a leaf.
const (
	OpAnd = "and"
	OpOr  = "or"
	OpNot = "not"
)

// Match operators accepted on attribute leaves.
const (
	MatchExact     = "exact"
	MatchSubstring = "substring"
	MatchExists    = "exists"
	MatchGt        = "gt"
	MatchGe        = "ge"
	MatchLt        = "lt"
	MatchLe        = "le"
	MatchQualified = "qualified"
)

// Leaf condition types.
const (
	TypeCustomAttribute = "custom_attribute"
	TypeThirdPartyDim   = "third_party_dimension"
)

// Condition is one node of a compiled condition tree.
//
// Two kinds of trees share this type. Audience trees have attribute
// leaves (Match/Name/Type/Value set). Audience-reference trees, used
// by experiment and holdout audienceConditions, have AudienceID
// leaves. Combinator nodes carry Op and Operands in both.
type Condition struct {
	Op       string
	Operands []*Condition

	// Attribute leaf fields.
	Match string
	Name  string
	Type  string
	Value any

	// Audience-reference leaf.
	AudienceID string
}

// IsLeaf reports whether the node is a leaf of either kind.
func (c *Condition) IsLeaf() bool {
	return c.Op == ""
}

// compileConditions builds a Condition tree from the decoded JSON
// value of an audience or audienceConditions field.
//
// The grammar: an array whose first element is "and"/"or"/"not" is a
// combinator over the remaining elements; an array without a leading
// operator is an implicit "or"; an object is an attribute leaf; a
// bare string is an audience-ID leaf. A nil value or empty array
// yields a nil tree, meaning "matches everyone".
func compileConditions(raw any) (*Condition, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []any:
		if len(v) == 0 {
			return nil, nil
		}
		op := OpOr
		rest := v
		if s, ok := v[0].(string); ok && (s == OpAnd || s == OpOr || s == OpNot) {
			op = s
			rest = v[1:]
		}
		node := &Condition{Op: op}
		for _, item := range rest {
			child, err := compileConditions(item)
			if err != nil {
				return nil, err
			}
			if child != nil {
				node.Operands = append(node.Operands, child)
			}
		}
		if len(node.Operands) == 0 {
			return nil, nil
		}
		return node, nil
	case map[string]any:
		leaf := &Condition{Value: v["value"]}
		if s, ok := v["match"].(string); ok {
			leaf.Match = s
		}
		if s, ok := v["name"].(string); ok {
			leaf.Name = s
		}
		if s, ok := v["type"].(string); ok {
			leaf.Type = s
		}
		return leaf, nil
	case string:
		return &Condition{AudienceID: v}, nil
	default:
		return nil, fmt.Errorf("unsupported condition node of type %T", raw)
	}
}

// compileRawConditions decodes an audience's conditions field, which
// is either a JSON-encoded string (plain audiences) or an inline JSON
// value (typedAudiences), then compiles it.
func compileRawConditions(raw json.RawMessage) (*Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	// Plain audiences double-encode the tree as a string.
	if s, ok := v.(string); ok {
		v = nil
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("decode string-encoded conditions: %w", err)
		}
	}
	return compileConditions(v)
}

// AudienceIDs returns the distinct audience IDs referenced by an
// audience-reference tree, in first-seen order.
func (c *Condition) AudienceIDs() []string {
	if c == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	var walk func(n *Condition)
	walk = func(n *Condition) {
		if n.IsLeaf() {
			if n.AudienceID != "" && !seen[n.AudienceID] {
				seen[n.AudienceID] = true
				out = append(out, n.AudienceID)
			}
			return
		}
		for _, op := range n.Operands {
			walk(op)
		}
	}
	walk(c)
	return out
}
