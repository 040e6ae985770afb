// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decide resolves flag decisions through an ordered strategy
// chain: request-scoped forced decisions, then per-rule overrides and
// saved user profiles, then holdouts, experiments and finally rollout
// rules. Every step works against an immutable datafile snapshot, so
// a decision never observes a half-applied datafile refresh.
package decide

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianDecide/pkg/logging"
	"github.com/AleutianAI/AleutianDecide/services/decision/audience"
	"github.com/AleutianAI/AleutianDecide/services/decision/bucket"
	"github.com/AleutianAI/AleutianDecide/services/decision/cmab"
	"github.com/AleutianAI/AleutianDecide/services/decision/datafile"
	"github.com/AleutianAI/AleutianDecide/services/decision/datatypes"
	"github.com/AleutianAI/AleutianDecide/services/decision/ups"
)

// bucketingIDAttribute lets a request bucket on an identity other
// than the user ID.
const bucketingIDAttribute = "$opt_bucketing_id"

// Options are the per-request decide toggles, decoded once from the
// request's decideOptions strings.
type Options struct {
	DisableDecisionEvent bool
	EnabledFlagsOnly     bool
	IgnoreUserProfile    bool
	IncludeReasons       bool
	ExcludeVariables     bool
}

// OptionsFromStrings decodes decideOptions values; unknown options
// are ignored.
func OptionsFromStrings(opts []string) Options {
	var o Options
	for _, s := range opts {
		switch s {
		case datatypes.OptionDisableDecisionEvent:
			o.DisableDecisionEvent = true
		case datatypes.OptionEnabledFlagsOnly:
			o.EnabledFlagsOnly = true
		case datatypes.OptionIgnoreUserProfileService:
			o.IgnoreUserProfile = true
		case datatypes.OptionIncludeReasons:
			o.IncludeReasons = true
		case datatypes.OptionExcludeVariables:
			o.ExcludeVariables = true
		}
	}
	return o
}

// Request is one user's decision context, shared across all flags in
// a DecideAll call.
type Request struct {
	UserID          string
	Attributes      map[string]any
	Segments        []string
	SegmentsFetched bool
	Forced          []datatypes.ForcedDecision
	Options         Options
}

// user builds the audience evaluation context.
func (r *Request) user() *audience.User {
	return &audience.User{
		ID:              r.UserID,
		Attributes:      r.Attributes,
		Segments:        r.Segments,
		SegmentsFetched: r.SegmentsFetched,
	}
}

// bucketingID returns the identity to bucket on: the reserved
// attribute when present, the user ID otherwise.
func (r *Request) bucketingID() string {
	if v, ok := r.Attributes[bucketingIDAttribute].(string); ok && v != "" {
		return v
	}
	return r.UserID
}

// Service owns the cross-request decision state for one SDK key.
// The datafile snapshot is passed per call; everything else here is
// long-lived.
type Service struct {
	profiles  ups.Store
	bandit    *cmab.Service
	overrides *Overrides
	logger    *logging.Logger
}

// NewService wires a decision service. profiles and bandit may be nil
// when the deployment runs without a profile store or without CMAB.
func NewService(profiles ups.Store, bandit *cmab.Service, overrides *Overrides, logger *logging.Logger) *Service {
	if overrides == nil {
		overrides = NewOverrides()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		profiles:  profiles,
		bandit:    bandit,
		overrides: overrides,
		logger:    logger,
	}
}

// Overrides exposes the override map for the override endpoint.
func (s *Service) Overrides() *Overrides { return s.overrides }

// Bandit exposes the CMAB service for cache-control options.
func (s *Service) Bandit() *cmab.Service { return s.bandit }

// Decide resolves one flag for one user.
func (s *Service) Decide(ctx context.Context, project *datafile.Project, flagKey string, req *Request) datatypes.Decision {
	d := datatypes.Decision{
		FlagKey: flagKey,
		UserContext: datatypes.UserContext{
			UserID:     req.UserID,
			Attributes: attributesOrEmpty(req.Attributes),
		},
	}

	var reasons []string

	flag := project.Flag(flagKey)
	if flag == nil {
		reasons = append(reasons, fmt.Sprintf("No flag was found for key %q.", flagKey))
		d.Reasons = finishReasons(reasons, req.Options)
		return d
	}

	eval := &evaluation{
		service: s,
		project: project,
		flag:    flag,
		req:     req,
		user:    req.user(),
	}
	eval.run(ctx, &d, &reasons)

	d.Reasons = finishReasons(reasons, req.Options)
	return d
}

// DecideKeys resolves the given flag keys, or every flag in the
// project when keys is empty.
func (s *Service) DecideKeys(ctx context.Context, project *datafile.Project, keys []string, req *Request) []datatypes.Decision {
	if len(keys) == 0 {
		keys = project.FlagKeys()
	}
	out := make([]datatypes.Decision, 0, len(keys))
	for _, key := range keys {
		d := s.Decide(ctx, project, key, req)
		if req.Options.EnabledFlagsOnly && !d.Enabled {
			continue
		}
		out = append(out, d)
	}
	return out
}

// evaluation carries the per-flag state through the strategy chain.
type evaluation struct {
	service *Service
	project *datafile.Project
	flag    *datafile.FeatureFlag
	req     *Request
	user    *audience.User

	profile       datatypes.Profile
	profileLoaded bool
}

// run walks the chain and fills in the decision. Reasons accumulate
// across failed rules so INCLUDE_REASONS shows the whole path.
func (e *evaluation) run(ctx context.Context, d *datatypes.Decision, reasons *[]string) {
	// Request-scoped forced decision for the flag itself.
	if e.applyForced(d, reasons, "") {
		return
	}

	if e.decideHoldouts(d, reasons) {
		return
	}
	if e.decideExperiments(ctx, d, reasons) {
		return
	}
	e.decideRollout(d, reasons)
}

// applyForced applies a request-scoped forced decision for the flag
// and optional rule key. An unknown variation key is ignored.
func (e *evaluation) applyForced(d *datatypes.Decision, reasons *[]string, ruleKey string) bool {
	for _, fd := range e.req.Forced {
		if fd.FlagKey != e.flag.Key || fd.RuleKey != ruleKey {
			continue
		}
		v := e.findVariation(fd.VariationKey, ruleKey)
		if v == nil {
			continue
		}
		if ruleKey == "" {
			*reasons = append(*reasons, fmt.Sprintf(
				"Variation (%s) is mapped to flag (%s) and user (%s) in the forced decision map.",
				fd.VariationKey, e.flag.Key, e.req.UserID))
		} else {
			*reasons = append(*reasons, fmt.Sprintf(
				"Variation (%s) is mapped to flag (%s), rule (%s) and user (%s) in the forced decision map.",
				fd.VariationKey, e.flag.Key, ruleKey, e.req.UserID))
		}
		e.win(d, v, ruleKey)
		return true
	}
	return false
}

// findVariation resolves a variation key within the flag's rules. An
// empty ruleKey searches the flag's experiments and rollout rules.
func (e *evaluation) findVariation(variationKey, ruleKey string) *datafile.Variation {
	if ruleKey != "" {
		exp := e.project.Experiment(ruleKey)
		if exp == nil {
			return nil
		}
		return exp.VariationByKey(variationKey)
	}
	for _, expID := range e.flag.ExperimentIDs {
		if exp := e.project.ExperimentByID(expID); exp != nil {
			if v := exp.VariationByKey(variationKey); v != nil {
				return v
			}
		}
	}
	if r := e.project.Rollout(e.flag.RolloutID); r != nil {
		for i := range r.Experiments {
			if v := r.Experiments[i].VariationByKey(variationKey); v != nil {
				return v
			}
		}
	}
	return nil
}

// decideHoldouts buckets the user against every running holdout
// covering the flag. A hit suppresses experiments and rollout.
func (e *evaluation) decideHoldouts(d *datatypes.Decision, reasons *[]string) bool {
	for _, h := range e.project.Holdouts(e.flag.ID) {
		pass, _ := audience.CheckAudiences(e.project, e.project.AudienceTree(h.ID), e.user)
		if !pass {
			continue
		}
		vid := bucket.Bucket(e.req.bucketingID(), h.ID, h.TrafficAllocation)
		if vid == "" {
			continue
		}
		v := h.VariationByID(vid)
		if v == nil {
			continue
		}
		*reasons = append(*reasons, fmt.Sprintf(
			"User %q meets conditions for holdout %q.", e.req.UserID, h.Key))
		e.winHoldout(d, v, h.Key)
		return true
	}
	return false
}

// decideExperiments walks the flag's experiment rules in order.
func (e *evaluation) decideExperiments(ctx context.Context, d *datatypes.Decision, reasons *[]string) bool {
	for _, expID := range e.flag.ExperimentIDs {
		exp := e.project.ExperimentByID(expID)
		if exp == nil || !exp.IsRunning() {
			continue
		}

		// Rule-scoped forced decision.
		if e.applyForced(d, reasons, exp.Key) {
			return true
		}

		// Process-wide override for (experiment, user).
		if ov, ok := e.service.overrides.Get(exp.Key, e.req.UserID); ok {
			if v := exp.VariationByKey(ov); v != nil {
				*reasons = append(*reasons, fmt.Sprintf(
					"Variation %q is mapped to experiment %q and user %q in the override map.",
					ov, exp.Key, e.req.UserID))
				e.win(d, v, exp.Key)
				return true
			}
		}

		// Sticky bucketing from the user profile store. A saved
		// decision short-circuits audience evaluation entirely.
		if saved := e.savedVariation(ctx, exp); saved != nil {
			*reasons = append(*reasons, fmt.Sprintf(
				"User %q was previously bucketed into variation %q of experiment %q.",
				e.req.UserID, saved.Key, exp.Key))
			e.win(d, saved, exp.Key)
			return true
		}

		pass, audienceReasons := audience.CheckAudiences(e.project, e.project.AudienceTree(exp.ID), e.user)
		*reasons = append(*reasons, audienceReasons...)
		*reasons = append(*reasons, fmt.Sprintf(
			"Audiences for experiment %s collectively evaluated to %t.", exp.Key, pass))
		if !pass {
			*reasons = append(*reasons, fmt.Sprintf(
				"User %q does not meet conditions to be in experiment %q.", e.req.UserID, exp.Key))
			continue
		}

		if exp.Cmab != nil {
			if e.decideBandit(ctx, d, reasons, exp) {
				return true
			}
			continue
		}

		// Datafile-level forced variations (whitelist).
		if key, ok := exp.ForcedVariations[e.req.UserID]; ok {
			if v := exp.VariationByKey(key); v != nil {
				e.win(d, v, exp.Key)
				return true
			}
		}

		vid := bucket.Bucket(e.req.bucketingID(), exp.ID, exp.TrafficAllocation)
		if vid == "" {
			continue
		}
		v := exp.VariationByID(vid)
		if v == nil {
			continue
		}
		e.saveProfile(ctx, exp.ID, v.ID)
		e.win(d, v, exp.Key)
		return true
	}
	return false
}

// decideBandit resolves a CMAB experiment through the prediction
// service. A prediction failure surfaces as a reason and the chain
// moves on; falling outside the bandit's traffic gate is silent.
func (e *evaluation) decideBandit(ctx context.Context, d *datatypes.Decision, reasons *[]string, exp *datafile.Experiment) bool {
	if e.service.bandit == nil {
		*reasons = append(*reasons, fmt.Sprintf(
			"Failed to fetch CMAB data for experiment %s.", exp.Key))
		return false
	}
	vid, err := e.service.bandit.GetDecision(ctx, e.project, exp, e.req.UserID, e.req.Attributes)
	if err != nil {
		if errors.Is(err, cmab.ErrNotInAllocation) {
			return false
		}
		e.service.logger.Error("cmab decision failed",
			"experiment", exp.Key, "error", err.Error())
		*reasons = append(*reasons, fmt.Sprintf(
			"Failed to fetch CMAB data for experiment %s.", exp.Key))
		return false
	}
	v := exp.VariationByID(vid)
	if v == nil {
		*reasons = append(*reasons, fmt.Sprintf(
			"Failed to fetch CMAB data for experiment %s.", exp.Key))
		return false
	}
	e.win(d, v, exp.Key)
	return true
}

// decideRollout walks the rollout's delivery rules in order. The last
// rule is the "Everyone Else" catch-all, even in a single-rule rollout.
func (e *evaluation) decideRollout(d *datatypes.Decision, reasons *[]string) {
	r := e.project.Rollout(e.flag.RolloutID)
	if r == nil {
		return
	}
	n := len(r.Experiments)
	for i := range r.Experiments {
		rule := &r.Experiments[i]
		if !rule.IsRunning() {
			continue
		}

		// Rule-scoped forced decision.
		if e.applyForced(d, reasons, rule.Key) {
			return
		}

		pass, _ := audience.CheckAudiences(e.project, e.project.AudienceTree(rule.ID), e.user)
		if !pass {
			continue
		}
		vid := bucket.Bucket(e.req.bucketingID(), rule.ID, rule.TrafficAllocation)
		if vid == "" {
			continue
		}
		v := rule.VariationByID(vid)
		if v == nil {
			continue
		}
		*reasons = append(*reasons, fmt.Sprintf(
			"Audiences for experiment %s collectively evaluated to true.", rule.Key))
		if i == n-1 {
			*reasons = append(*reasons, fmt.Sprintf(
				"User %q meets conditions for targeting rule \"Everyone Else\".", e.req.UserID))
			d.IsEveryoneElseVariation = true
		}
		e.win(d, v, rule.Key)
		return
	}
}

// savedVariation looks up the user's sticky bucketing for exp, if a
// profile store is configured and the request didn't opt out.
func (e *evaluation) savedVariation(ctx context.Context, exp *datafile.Experiment) *datafile.Variation {
	if e.service.profiles == nil || e.req.Options.IgnoreUserProfile {
		return nil
	}
	if !e.profileLoaded {
		p, err := e.service.profiles.Lookup(ctx, e.req.UserID)
		if err != nil {
			e.service.logger.Warn("profile lookup failed",
				"user_id", e.req.UserID, "error", err.Error())
			p = datatypes.Profile{ExperimentBucketMap: map[string]datatypes.ExperimentDecision{}}
		}
		e.profile = p
		e.profileLoaded = true
	}
	saved, ok := e.profile.ExperimentBucketMap[exp.ID]
	if !ok {
		return nil
	}
	return exp.VariationByID(saved.VariationID)
}

// saveProfile writes a fresh bucketing decision back to the store.
func (e *evaluation) saveProfile(ctx context.Context, experimentID, variationID string) {
	if e.service.profiles == nil || e.req.Options.IgnoreUserProfile {
		return
	}
	err := e.service.profiles.Save(ctx, datatypes.Profile{
		UserID: e.req.UserID,
		ExperimentBucketMap: map[string]datatypes.ExperimentDecision{
			experimentID: {VariationID: variationID},
		},
	})
	if err != nil {
		e.service.logger.Warn("profile save failed",
			"user_id", e.req.UserID, "error", err.Error())
	}
}

// win fills the decision from an experiment-path variation.
func (e *evaluation) win(d *datatypes.Decision, v *datafile.Variation, ruleKey string) {
	d.VariationKey = v.Key
	d.Enabled = v.FeatureEnabled
	d.RuleKey = ruleKey
	if !e.req.Options.ExcludeVariables {
		d.Variables = e.variables(v)
	}
}

// winHoldout fills the decision from a holdout variation. Holdout
// variations never enable the feature and carry no variables.
func (e *evaluation) winHoldout(d *datatypes.Decision, v *datafile.Variation, ruleKey string) {
	d.VariationKey = v.Key
	d.Enabled = v.FeatureEnabled
	d.RuleKey = ruleKey
}

// variables builds the typed variable map for a winning variation.
// Defaults apply unless the variation is feature-enabled and carries
// an override. Nil when the flag declares no variables or the
// variation is disabled.
func (e *evaluation) variables(v *datafile.Variation) map[string]any {
	if len(e.flag.Variables) == 0 || !v.FeatureEnabled {
		return nil
	}
	overrides := make(map[string]string, len(v.Variables))
	for _, vv := range v.Variables {
		overrides[vv.ID] = vv.Value
	}
	out := make(map[string]any, len(e.flag.Variables))
	for _, fv := range e.flag.Variables {
		raw := fv.DefaultValue
		if ov, ok := overrides[fv.ID]; ok {
			raw = ov
		}
		typed, err := datafile.TypedValue(fv.Type, raw)
		if err != nil {
			e.service.logger.Warn("variable conversion failed",
				"flag", e.flag.Key, "variable", fv.Key, "error", err.Error())
			continue
		}
		out[fv.Key] = typed
	}
	return out
}

// finishReasons applies the INCLUDE_REASONS option: the wire field is
// always present, empty unless requested.
func finishReasons(reasons []string, opts Options) []string {
	if !opts.IncludeReasons || reasons == nil {
		return []string{}
	}
	return reasons
}

func attributesOrEmpty(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return attrs
}
