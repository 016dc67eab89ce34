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
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// OllamaClient classifies text through a local Ollama instance. Like
// the OpenAI backend it prompts for a single label; generation is
// pinned to temperature zero and a short output budget so replies stay
// parseable.
type OllamaClient struct {
	// Limiter optionally bounds the request rate. Set from
	// TERN_MODEL_QPS at construction; callers may replace it.
	Limiter *rate.Limiter

	httpClient *http.Client
	baseURL    string
	model      string
	labels     []string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient creates a classification client backed by Ollama.
//
// # Description
//
// OLLAMA_BASE_URL must point at the Ollama server; OLLAMA_MODEL selects
// the model and defaults to gpt-oss with a warning.
//
// # Inputs
//
//   - labels: Label set the model chooses from; may be empty to accept
//     free-form replies
//
// # Outputs
//
//   - *OllamaClient: Ready for Predict
//   - error: Non-nil when OLLAMA_BASE_URL is unset
func NewOllamaClient(labels []string) (*OllamaClient, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	model := os.Getenv("OLLAMA_MODEL")
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	if model == "" {
		model = "gpt-oss"
		slog.Warn("OLLAMA_MODEL not set, defaulting to gpt-oss")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		Limiter:    qpsLimiter(),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
		labels:     append([]string(nil), labels...),
	}, nil
}

// Predict implements Client for text classification.
func (o *OllamaClient) Predict(ctx context.Context, text string) (datatypes.Output, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Predict")
	defer span.End()
	span.SetAttributes(attribute.String("model.name", o.model))

	if err := waitLimiter(ctx, o.Limiter); err != nil {
		return nil, err
	}

	payload := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: classifyPrompt(text, o.labels),
		System: classifySystemPrompt,
		Stream: false,
		Options: map[string]any{
			// Deterministic decoding; a label needs only a few tokens.
			"temperature": 0.0,
			"num_predict": 16,
		},
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to marshal request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama API call failed", "error", err)
		return nil, fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read response body from Ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(respBody, &errResp); err == nil &&
				strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
				slog.Warn("Ollama model not found", "model", o.model)
				return nil, fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'", o.model, o.model)
			}
		}
		slog.Error("Ollama returned an error", "status_code", resp.StatusCode, "response", string(respBody))
		return nil, fmt.Errorf("Ollama failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var ollamaResp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to parse JSON response from Ollama", "error", err, "response", string(respBody))
		return nil, fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	label, err := parseLabel(ollamaResp.Response, o.labels)
	if err != nil {
		return nil, err
	}
	return datatypes.SequenceClassificationOutput{{Label: label, Score: 1.0}}, nil
}
