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
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianDecide/services/decision/audience"
	"github.com/AleutianAI/AleutianDecide/services/decision/bucket"
	"github.com/AleutianAI/AleutianDecide/services/decision/datafile"
	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
)

// ActivateExperiment runs the legacy experiment activation path:
// override, whitelist, audience gate, bucketing. Bandit experiments
// are not activatable through this path.
func (s *Service) ActivateExperiment(ctx context.Context, project *datafile.Project, exp *datafile.Experiment, req *Request) datatypes.Activation {
	a := datatypes.Activation{
		ExperimentKey: exp.Key,
		Type:          datatypes.ActivateTypeExperiment,
	}
	if !exp.IsRunning() {
		a.Error = fmt.Sprintf("experiment %q is not running", exp.Key)
		return a
	}
	if exp.Cmab != nil {
		a.Error = fmt.Sprintf("experiment %q requires the decide API", exp.Key)
		return a
	}

	var v *datafile.Variation
	if ov, ok := s.overrides.Get(exp.Key, req.UserID); ok {
		v = exp.VariationByKey(ov)
	}
	if v == nil {
		if key, ok := exp.ForcedVariations[req.UserID]; ok {
			v = exp.VariationByKey(key)
		}
	}
	if v == nil {
		pass, _ := audience.CheckAudiences(project, project.AudienceTree(exp.ID), req.user())
		if !pass {
			a.Error = fmt.Sprintf("user %q does not meet conditions for experiment %q", req.UserID, exp.Key)
			return a
		}
		if vid := bucket.Bucket(req.bucketingID(), exp.ID, exp.TrafficAllocation); vid != "" {
			v = exp.VariationByID(vid)
		}
	}
	if v == nil {
		a.Error = fmt.Sprintf("user %q is not in any variation of experiment %q", req.UserID, exp.Key)
		return a
	}

	a.VariationKey = v.Key
	a.Enabled = v.FeatureEnabled
	return a
}

// ActivateFeature decides a flag and projects the result into the
// activation shape: enabled plus typed variables, no variation key.
func (s *Service) ActivateFeature(ctx context.Context, project *datafile.Project, flag *datafile.FeatureFlag, req *Request) datatypes.Activation {
	a := datatypes.Activation{
		FeatureKey: flag.Key,
		Type:       datatypes.ActivateTypeFeature,
	}
	d := s.Decide(ctx, project, flag.Key, req)
	a.Enabled = d.Enabled
	if d.Enabled && len(d.Variables) > 0 {
		a.Variables = d.Variables
	}
	return a
}

// ActivateAll expands a type=experiment|feature activation across the
// project. Bandit experiments are skipped for the experiment kind.
func (s *Service) ActivateAll(ctx context.Context, project *datafile.Project, kind string, req *Request) []datatypes.Activation {
	var out []datatypes.Activation
	switch kind {
	case datatypes.ActivateTypeExperiment:
		for _, key := range project.ExperimentKeys() {
			exp := project.Experiment(key)
			if exp == nil || exp.Cmab != nil {
				continue
			}
			out = append(out, s.ActivateExperiment(ctx, project, exp, req))
		}
	case datatypes.ActivateTypeFeature:
		for _, key := range project.FlagKeys() {
			flag := project.Flag(key)
			if flag == nil {
				continue
			}
			out = append(out, s.ActivateFeature(ctx, project, flag, req))
		}
	}
	return out
}
