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
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
)

// buildConfig precomputes the GET /v1/config projection. Called once
// at parse time so the handler serves a ready-made value.
func (p *Project) buildConfig() *datatypes.ProjectConfig {
	cfg := &datatypes.ProjectConfig{
		EnvironmentKey: p.df.EnvironmentKey,
		SDKKey:         p.df.SDKKey,
		Revision:       p.df.Revision,
		ExperimentsMap: make(map[string]datatypes.ConfigRule),
		FeaturesMap:    make(map[string]datatypes.ConfigFeature),
		Attributes:     []datatypes.ConfigAttribute{},
		Audiences:      []datatypes.ConfigAudience{},
		Events:         []datatypes.ConfigEvent{},
	}

	for _, a := range p.df.Attributes {
		cfg.Attributes = append(cfg.Attributes, datatypes.ConfigAttribute{ID: a.ID, Key: a.Key})
	}
	for _, a := range p.df.Audiences {
		if a.ID == "$opt_dummy_audience" {
			continue
		}
		ca := p.audiencesByID[a.ID]
		cfg.Audiences = append(cfg.Audiences, datatypes.ConfigAudience{
			ID:         a.ID,
			Name:       a.Name,
			Conditions: ca.RawConditions,
		})
	}
	for _, e := range p.df.Events {
		ids := e.ExperimentIDs
		if ids == nil {
			ids = []string{}
		}
		cfg.Events = append(cfg.Events, datatypes.ConfigEvent{
			ID:            e.ID,
			Key:           e.Key,
			ExperimentIDs: ids,
		})
	}

	for i := range p.df.FeatureFlags {
		f := &p.df.FeatureFlags[i]
		feature := datatypes.ConfigFeature{
			ID:              f.ID,
			Key:             f.Key,
			ExperimentRules: []datatypes.ConfigRule{},
			DeliveryRules:   []datatypes.ConfigRule{},
			VariablesMap:    p.flagVariablesMap(f),
			ExperimentsMap:  make(map[string]datatypes.ConfigRule),
		}

		for _, expID := range f.ExperimentIDs {
			e := p.experimentsByID[expID]
			if e == nil {
				continue
			}
			rule := p.configRule(e, f)
			feature.ExperimentRules = append(feature.ExperimentRules, rule)
			feature.ExperimentsMap[e.Key] = rule
			cfg.ExperimentsMap[e.Key] = rule
		}

		if r := p.rolloutsByID[f.RolloutID]; r != nil {
			for j := range r.Experiments {
				feature.DeliveryRules = append(feature.DeliveryRules, p.configRule(&r.Experiments[j], f))
			}
		}

		cfg.FeaturesMap[f.Key] = feature
	}

	return cfg
}

// configRule projects one experiment or delivery rule against its
// owning flag's variable declarations.
func (p *Project) configRule(e *Experiment, f *FeatureFlag) datatypes.ConfigRule {
	rule := datatypes.ConfigRule{
		ID:            e.ID,
		Key:           e.Key,
		Audiences:     p.renderAudiences(p.audienceTrees[e.ID]),
		VariationsMap: make(map[string]datatypes.ConfigVariation),
	}
	for i := range e.Variations {
		v := &e.Variations[i]
		rule.VariationsMap[v.Key] = datatypes.ConfigVariation{
			ID:             v.ID,
			Key:            v.Key,
			FeatureEnabled: v.FeatureEnabled,
			VariablesMap:   p.variationVariablesMap(f, v),
		}
	}
	return rule
}

// flagVariablesMap projects a flag's variable declarations with their
// default values.
func (p *Project) flagVariablesMap(f *FeatureFlag) map[string]datatypes.ConfigVariable {
	out := make(map[string]datatypes.ConfigVariable, len(f.Variables))
	for _, fv := range f.Variables {
		out[fv.Key] = datatypes.ConfigVariable{
			ID:    fv.ID,
			Key:   fv.Key,
			Type:  fv.Type,
			Value: fv.DefaultValue,
		}
	}
	return out
}

// variationVariablesMap projects a variation's variable values against
// the flag declarations. A variation only overrides defaults when it
// is feature-enabled.
func (p *Project) variationVariablesMap(f *FeatureFlag, v *Variation) map[string]datatypes.ConfigVariable {
	out := make(map[string]datatypes.ConfigVariable, len(f.Variables))
	overrides := make(map[string]string, len(v.Variables))
	if v.FeatureEnabled {
		for _, vv := range v.Variables {
			overrides[vv.ID] = vv.Value
		}
	}
	for _, fv := range f.Variables {
		value := fv.DefaultValue
		if ov, ok := overrides[fv.ID]; ok {
			value = ov
		}
		out[fv.Key] = datatypes.ConfigVariable{
			ID:    fv.ID,
			Key:   fv.Key,
			Type:  fv.Type,
			Value: value,
		}
	}
	return out
}

// renderAudiences formats an audience-reference tree as a display
// string: audience names quoted and joined by their operators, with a
// lone audience rendered bare. Nil trees render as "".
func (p *Project) renderAudiences(tree *Condition) string {
	if tree == nil {
		return ""
	}
	if leaf := singleLeaf(tree); leaf != nil {
		return p.audienceName(leaf.AudienceID)
	}
	return p.renderNode(tree, true)
}

// singleLeaf collapses single-operand combinator chains and returns
// the lone leaf, or nil when the tree genuinely branches.
func singleLeaf(tree *Condition) *Condition {
	for tree != nil {
		if tree.IsLeaf() {
			return tree
		}
		if tree.Op == OpNot || len(tree.Operands) != 1 {
			return nil
		}
		tree = tree.Operands[0]
	}
	return nil
}

func (p *Project) renderNode(n *Condition, root bool) string {
	if n.IsLeaf() {
		return strconv.Quote(p.audienceName(n.AudienceID))
	}
	if n.Op == OpNot {
		if len(n.Operands) == 0 {
			return ""
		}
		return "NOT " + p.renderNode(n.Operands[0], false)
	}
	if len(n.Operands) == 1 {
		return p.renderNode(n.Operands[0], root)
	}
	parts := make([]string, 0, len(n.Operands))
	for _, op := range n.Operands {
		parts = append(parts, p.renderNode(op, false))
	}
	joined := strings.Join(parts, " "+strings.ToUpper(n.Op)+" ")
	if root {
		return joined
	}
	return "(" + joined + ")"
}

// audienceName resolves an audience ID to its display name, falling
// back to the raw ID for references the datafile doesn't define.
func (p *Project) audienceName(id string) string {
	if a := p.audiencesByID[id]; a != nil {
		return a.Name
	}
	return id
}
