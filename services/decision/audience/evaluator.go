// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audience evaluates compiled condition trees against user
// contexts using three-valued logic.
//
// Evaluation never errors and never panics. A condition that cannot
// be decided (missing attribute, type mismatch, unknown matcher,
// segments not fetched) evaluates to Unknown, which combinators
// propagate instead of guessing. At an audience boundary, Unknown
// counts as a non-match and surfaces a diagnostic reason.
package audience

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianDecide/services/decision/datafile"
)

// Result is the outcome of evaluating a condition node.
type Result int

const (
	// False: the condition decidedly does not match.
	False Result = iota
	// True: the condition decidedly matches.
	True
	// Unknown: the condition cannot be decided for this user.
	Unknown
)

// String returns "true", "false" or "unknown".
func (r Result) String() string {
	switch r {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// User is the evaluation context: attributes from the request plus
// any ODP segments fetched for this user. SegmentsFetched
// distinguishes "no segments" from "segments never fetched"; the
// qualified matcher is Unknown in the latter case.
type User struct {
	ID              string
	Attributes      map[string]any
	Segments        []string
	SegmentsFetched bool
}

// QualifiedFor reports whether the user was fetched into the segment.
func (u *User) QualifiedFor(segment string) bool {
	for _, s := range u.Segments {
		if s == segment {
			return true
		}
	}
	return false
}

// Evaluate walks an attribute condition tree. A nil tree matches
// everyone.
func Evaluate(tree *datafile.Condition, user *User) Result {
	if tree == nil {
		return True
	}
	if tree.IsLeaf() {
		return evaluateLeaf(tree, user)
	}
	switch tree.Op {
	case datafile.OpAnd:
		return evaluateAnd(tree.Operands, user)
	case datafile.OpOr:
		return evaluateOr(tree.Operands, user)
	case datafile.OpNot:
		if len(tree.Operands) == 0 {
			return Unknown
		}
		switch Evaluate(tree.Operands[0], user) {
		case True:
			return False
		case False:
			return True
		default:
			return Unknown
		}
	default:
		return Unknown
	}
}

// evaluateAnd is false if any operand is false, unknown if any
// operand is unknown, true otherwise.
func evaluateAnd(operands []*datafile.Condition, user *User) Result {
	sawUnknown := false
	for _, op := range operands {
		switch Evaluate(op, user) {
		case False:
			return False
		case Unknown:
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return True
}

// evaluateOr is true if any operand is true, unknown if any operand
// is unknown, false otherwise.
func evaluateOr(operands []*datafile.Condition, user *User) Result {
	sawUnknown := false
	for _, op := range operands {
		switch Evaluate(op, user) {
		case True:
			return True
		case Unknown:
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return False
}

// CheckAudiences gates an entity (experiment, rollout rule, holdout)
// on its audience-reference tree.
//
// Each referenced audience is resolved through the project and its
// attribute tree evaluated for the user. An audience whose own tree
// comes out Unknown is reported via reasons and treated as False at
// this boundary.
//
// Parameters:
//   - project: Datafile snapshot resolving audience IDs
//   - tree: Audience-reference tree (nil matches everyone)
//   - user: Evaluation context
//
// Returns:
//   - bool: Whether the user passes the audience gate
//   - []string: Diagnostic reasons for unknown nested trees
func CheckAudiences(project *datafile.Project, tree *datafile.Condition, user *User) (bool, []string) {
	if tree == nil {
		return true, nil
	}
	var reasons []string
	r := evalRefs(project, tree, user, &reasons)
	return r == True, reasons
}

// evalRefs evaluates an audience-reference tree; leaves dereference
// audience IDs into their attribute trees.
func evalRefs(project *datafile.Project, node *datafile.Condition, user *User, reasons *[]string) Result {
	if node.IsLeaf() {
		aud := project.Audience(node.AudienceID)
		if aud == nil {
			*reasons = append(*reasons, fmt.Sprintf(
				"an error occurred while evaluating nested tree for audience ID %q", node.AudienceID))
			return False
		}
		r := Evaluate(aud.Tree, user)
		if r == Unknown {
			*reasons = append(*reasons, fmt.Sprintf(
				"an error occurred while evaluating nested tree for audience ID %q", node.AudienceID))
			return False
		}
		return r
	}
	switch node.Op {
	case datafile.OpAnd:
		out := True
		for _, op := range node.Operands {
			if evalRefs(project, op, user, reasons) == False {
				out = False
			}
		}
		return out
	case datafile.OpNot:
		if len(node.Operands) == 0 {
			return False
		}
		if evalRefs(project, node.Operands[0], user, reasons) == True {
			return False
		}
		return True
	default: // or
		out := False
		for _, op := range node.Operands {
			if evalRefs(project, op, user, reasons) == True {
				out = True
			}
		}
		return out
	}
}

// evaluateLeaf dispatches an attribute leaf to its matcher.
func evaluateLeaf(leaf *datafile.Condition, user *User) Result {
	switch leaf.Type {
	case datafile.TypeCustomAttribute, "":
	case datafile.TypeThirdPartyDim:
		return matchQualified(leaf, user)
	default:
		return Unknown
	}

	switch leaf.Match {
	case datafile.MatchExists:
		return matchExists(leaf, user)
	case datafile.MatchExact, "":
		return matchExact(leaf, user)
	case datafile.MatchSubstring:
		return matchSubstring(leaf, user)
	case datafile.MatchGt, datafile.MatchGe, datafile.MatchLt, datafile.MatchLe:
		return matchNumeric(leaf, user)
	case datafile.MatchQualified:
		return matchQualified(leaf, user)
	default:
		return Unknown
	}
}

func matchExists(leaf *datafile.Condition, user *User) Result {
	v, ok := user.Attributes[leaf.Name]
	if !ok || v == nil {
		return False
	}
	return True
}

func matchExact(leaf *datafile.Condition, user *User) Result {
	attr, ok := user.Attributes[leaf.Name]
	if !ok {
		return Unknown
	}
	switch want := leaf.Value.(type) {
	case string:
		got, ok := attr.(string)
		if !ok {
			return Unknown
		}
		return boolResult(got == want)
	case bool:
		got, ok := attr.(bool)
		if !ok {
			return Unknown
		}
		return boolResult(got == want)
	default:
		want64, ok := toFloat(leaf.Value)
		if !ok {
			return Unknown
		}
		got64, ok := toFloat(attr)
		if !ok {
			return Unknown
		}
		return boolResult(got64 == want64)
	}
}

func matchSubstring(leaf *datafile.Condition, user *User) Result {
	want, ok := leaf.Value.(string)
	if !ok {
		return Unknown
	}
	got, ok := user.Attributes[leaf.Name].(string)
	if !ok {
		return Unknown
	}
	return boolResult(strings.Contains(got, want))
}

func matchNumeric(leaf *datafile.Condition, user *User) Result {
	want, ok := toFloat(leaf.Value)
	if !ok {
		return Unknown
	}
	attr, present := user.Attributes[leaf.Name]
	if !present {
		return Unknown
	}
	got, ok := toFloat(attr)
	if !ok {
		return Unknown
	}
	switch leaf.Match {
	case datafile.MatchGt:
		return boolResult(got > want)
	case datafile.MatchGe:
		return boolResult(got >= want)
	case datafile.MatchLt:
		return boolResult(got < want)
	default:
		return boolResult(got <= want)
	}
}

// matchQualified checks ODP segment membership. Unknown until
// segments have actually been fetched for the user.
func matchQualified(leaf *datafile.Condition, user *User) Result {
	segment, ok := leaf.Value.(string)
	if !ok {
		return Unknown
	}
	if !user.SegmentsFetched {
		return Unknown
	}
	return boolResult(user.QualifiedFor(segment))
}

func boolResult(b bool) Result {
	if b {
		return True
	}
	return False
}

// toFloat coerces JSON and caller-supplied numeric types. Booleans
// and strings are not numbers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
