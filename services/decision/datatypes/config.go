// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package datatypes

// ConfigVariable is a feature variable in the GET /v1/config
// projection. Value is always the string form; Type records how to
// interpret it (boolean, double, integer, string).
type ConfigVariable struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ConfigVariation is a variation in the config projection.
type ConfigVariation struct {
	ID             string                    `json:"id"`
	Key            string                    `json:"key"`
	FeatureEnabled bool                      `json:"featureEnabled"`
	VariablesMap   map[string]ConfigVariable `json:"variablesMap"`
}

// ConfigRule is an experiment or delivery rule in the config
// projection. Audiences is a human-readable rendering of the rule's
// audience conditions, empty when the rule targets everyone.
type ConfigRule struct {
	ID            string                     `json:"id"`
	Key           string                     `json:"key"`
	Audiences     string                     `json:"audiences"`
	VariationsMap map[string]ConfigVariation `json:"variationsMap"`
}

// ConfigFeature is a feature flag in the config projection.
type ConfigFeature struct {
	ID              string                    `json:"id"`
	Key             string                    `json:"key"`
	ExperimentRules []ConfigRule              `json:"experimentRules"`
	DeliveryRules   []ConfigRule              `json:"deliveryRules"`
	VariablesMap    map[string]ConfigVariable `json:"variablesMap"`
	ExperimentsMap  map[string]ConfigRule     `json:"experimentsMap"`
}

// ConfigAttribute is a project attribute in the config projection.
type ConfigAttribute struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// ConfigAudience is a project audience in the config projection.
// Conditions is the raw JSON-encoded condition string as it appears in
// the datafile.
type ConfigAudience struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Conditions string `json:"conditions"`
}

// ConfigEvent is a conversion event in the config projection.
type ConfigEvent struct {
	ID            string   `json:"id"`
	Key           string   `json:"key"`
	ExperimentIDs []string `json:"experimentIds"`
}

// ProjectConfig is the full GET /v1/config response: a read-optimized
// projection of the datafile, precomputed once per datafile revision.
type ProjectConfig struct {
	EnvironmentKey string                    `json:"environmentKey"`
	SDKKey         string                    `json:"sdkKey"`
	Revision       string                    `json:"revision"`
	ExperimentsMap map[string]ConfigRule    `json:"experimentsMap"`
	FeaturesMap    map[string]ConfigFeature `json:"featuresMap"`
	Attributes     []ConfigAttribute        `json:"attributes"`
	Audiences      []ConfigAudience         `json:"audiences"`
	Events         []ConfigEvent            `json:"events"`
}
