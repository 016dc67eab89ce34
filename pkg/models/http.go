// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// =============================================================================
// Structs
// =============================================================================

// HTTPClient calls a self-hosted inference server that labels text over
// a small JSON protocol. It covers both tasks: NER servers answer with
// entity spans, classification servers with a label distribution.
//
// # Protocol
//
// POST {base}/predict with {"model": ..., "text": ...}. The server
// replies with {"entities": [...]} for NER or {"labels": [...]} for
// classification, using the same field names as datatypes.NERPrediction
// and datatypes.SequenceLabel.
type HTTPClient struct {
	// Limiter optionally bounds the request rate to the backend. Set
	// from TERN_MODEL_QPS at construction; callers may replace it.
	Limiter *rate.Limiter

	httpClient *http.Client
	baseURL    string
	model      string
	task       datatypes.Task
}

type predictRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

type predictResponse struct {
	Entities []datatypes.NERPrediction `json:"entities"`
	Labels   []datatypes.SequenceLabel `json:"labels"`
	Error    string                    `json:"error,omitempty"`
}

var _ Client = (*HTTPClient)(nil)

// =============================================================================
// Constructor Functions
// =============================================================================

// NewHTTPClient creates a client for a JSON inference server.
//
// # Inputs
//
//   - baseURL: Server root, e.g. "http://localhost:8500"
//   - model: Model name sent with each request; may be empty if the
//     server hosts a single model
//   - task: Task the server is expected to answer for
//
// # Outputs
//
//   - *HTTPClient: Ready for Predict
//   - error: Non-nil on empty baseURL or invalid task
func NewHTTPClient(baseURL, model string, task datatypes.Task) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("model server base URL not set")
	}
	if !task.Valid() {
		return nil, fmt.Errorf("unknown task %q", task)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing model server client", "base_url", baseURL, "model", model, "task", task)
	return &HTTPClient{
		Limiter:    qpsLimiter(),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    baseURL,
		model:      model,
		task:       task,
	}, nil
}

// =============================================================================
// HTTPClient Methods
// =============================================================================

// Predict implements Client.
func (c *HTTPClient) Predict(ctx context.Context, text string) (datatypes.Output, error) {
	ctx, span := tracer.Start(ctx, "HTTPClient.Predict")
	defer span.End()
	span.SetAttributes(attribute.String("model.name", c.model))

	if err := waitLimiter(ctx, c.Limiter); err != nil {
		return nil, err
	}

	body, err := json.Marshal(predictRequest{Model: c.model, Text: text})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewBuffer(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Model server call failed", "error", err)
		return nil, fmt.Errorf("model server call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read model server response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("Model server returned an error",
			"status_code", resp.StatusCode, "response", string(respBody))
		return nil, fmt.Errorf("model server failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed predictResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to parse model server response", "error", err, "response", string(respBody))
		return nil, fmt.Errorf("failed to parse model server response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("model server error: %s", parsed.Error)
	}

	return c.toOutput(parsed)
}

// toOutput converts the wire response into the task's Output type.
// A NER reply with zero entities is a valid prediction; a
// classification reply needs at least one label to compare against.
func (c *HTTPClient) toOutput(parsed predictResponse) (datatypes.Output, error) {
	switch c.task {
	case datatypes.TaskNER:
		return datatypes.NEROutput(parsed.Entities), nil
	case datatypes.TaskTextClassification:
		if len(parsed.Labels) == 0 {
			return nil, ErrEmptyResponse
		}
		return datatypes.SequenceClassificationOutput(parsed.Labels), nil
	default:
		return nil, fmt.Errorf("unknown task %q", c.task)
	}
}
