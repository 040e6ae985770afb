// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package cmab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultEndpointTemplate is the prediction endpoint; %s is the
// experiment (rule) ID.
const DefaultEndpointTemplate = "https://prediction.cmab.optimizely.com/predict/%s"

// predictionAttribute is one conditioning attribute in the request.
type predictionAttribute struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// predictionInstance is one visitor to predict for.
type predictionInstance struct {
	VisitorID    string                `json:"visitorId"`
	ExperimentID string                `json:"experimentId"`
	Attributes   []predictionAttribute `json:"attributes"`
	CmabUUID     string                `json:"cmabUUID"`
}

type predictionRequest struct {
	Instances []predictionInstance `json:"instances"`
}

type predictionResponse struct {
	Predictions []struct {
		VariationID string `json:"variation_id"`
	} `json:"predictions"`
}

// PredictClient calls the external bandit prediction service. A
// token-bucket limiter caps the outbound request rate so a burst of
// cold-cache decisions cannot hammer the predictor.
type PredictClient struct {
	httpClient       *http.Client
	limiter          *rate.Limiter
	endpointTemplate string
}

// PredictClientConfig configures a PredictClient.
type PredictClientConfig struct {
	// EndpointTemplate overrides DefaultEndpointTemplate.
	EndpointTemplate string

	// Timeout bounds each prediction call. Default 10s.
	Timeout time.Duration

	// RequestsPerSecond caps the outbound rate. Default 10.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Default 10.
	Burst int
}

// NewPredictClient creates a rate-limited prediction client.
func NewPredictClient(cfg PredictClientConfig) *PredictClient {
	if cfg.EndpointTemplate == "" {
		cfg.EndpointTemplate = DefaultEndpointTemplate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &PredictClient{
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		limiter:          rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		endpointTemplate: cfg.EndpointTemplate,
	}
}

// Predict requests a variation for one visitor in one experiment.
//
// Parameters:
//   - ctx: Deadline/cancellation for the call (limiter wait included)
//   - userID: Visitor ID
//   - experimentID: Bandit experiment (rule) ID
//   - attrs: Conditioning attributes, already filtered to the
//     experiment's attributeIds
//   - cmabUUID: Correlation ID tying the prediction to its impression
//
// Returns:
//   - string: Predicted variation ID
//   - error: Limiter, transport, status or decode failure
func (c *PredictClient) Predict(ctx context.Context, userID, experimentID string, attrs []predictionAttribute, cmabUUID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("prediction rate limit: %w", err)
	}

	body, err := json.Marshal(predictionRequest{
		Instances: []predictionInstance{{
			VisitorID:    userID,
			ExperimentID: experimentID,
			Attributes:   attrs,
			CmabUUID:     cmabUUID,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encode prediction request: %w", err)
	}

	url := fmt.Sprintf(c.endpointTemplate, experimentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("prediction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("prediction request: unexpected status %s", resp.Status)
	}

	var out predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode prediction response: %w", err)
	}
	if len(out.Predictions) == 0 || out.Predictions[0].VariationID == "" {
		return "", fmt.Errorf("prediction response carried no variation")
	}
	return out.Predictions[0].VariationID, nil
}
