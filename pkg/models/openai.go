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
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/secrets"
)

const openaiSecretPath = "/run/secrets/openai_api_key"

// OpenAIClient classifies text through an OpenAI-compatible chat
// endpoint. The model is prompted to answer with exactly one label;
// the reply is resolved against the configured label set. NER is not
// supported over this backend.
type OpenAIClient struct {
	// Limiter optionally bounds the request rate. Set from
	// TERN_MODEL_QPS at construction; callers may replace it.
	Limiter *rate.Limiter

	client *openai.Client
	model  string
	labels []string
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a classification client backed by OpenAI.
//
// # Description
//
// The API key is read from OPENAI_API_KEY or the mounted secret at
// /run/secrets/openai_api_key and held in a secrets enclave until the
// underlying client is constructed. OPENAI_MODEL selects the model
// (default gpt-4o-mini); OPENAI_BASE_URL points at any compatible
// endpoint.
//
// # Inputs
//
//   - labels: Label set the model chooses from; may be empty to accept
//     free-form replies
//
// # Outputs
//
//   - *OpenAIClient: Ready for Predict
//   - error: Non-nil when no API key is available
func NewOpenAIClient(labels []string) (*OpenAIClient, error) {
	key, err := secrets.FromEnv("OPENAI_API_KEY", openaiSecretPath)
	if err != nil {
		slog.Error("OpenAI API key not available", "error", err)
		return nil, err
	}
	defer key.Destroy()

	apiKey, err := key.Reveal()
	if err != nil {
		return nil, err
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = strings.TrimSuffix(base, "/")
	}

	slog.Info("Initializing OpenAI client", "model", model, "labels", len(labels))
	return &OpenAIClient{
		Limiter: qpsLimiter(),
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		labels:  append([]string(nil), labels...),
	}, nil
}

// Predict implements Client for text classification.
func (o *OpenAIClient) Predict(ctx context.Context, text string) (datatypes.Output, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Predict")
	defer span.End()
	span.SetAttributes(attribute.String("model.name", o.model))

	if err := waitLimiter(ctx, o.Limiter); err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: classifyPrompt(text, o.labels)},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, ErrEmptyResponse
	}

	label, err := parseLabel(resp.Choices[0].Message.Content, o.labels)
	if err != nil {
		return nil, err
	}
	return datatypes.SequenceClassificationOutput{{Label: label, Score: 1.0}}, nil
}

// =============================================================================
// Prompt Helpers
// =============================================================================

const classifySystemPrompt = "You are a text classification model. " +
	"Reply with a single label and nothing else."

// classifyPrompt builds the user message for one classification call.
func classifyPrompt(text string, labels []string) string {
	var b strings.Builder
	if len(labels) > 0 {
		b.WriteString("Classify the text into exactly one of these labels: ")
		b.WriteString(strings.Join(labels, ", "))
		b.WriteString(".\n")
	} else {
		b.WriteString("Classify the text with a single label.\n")
	}
	b.WriteString("Reply with the label only.\n\nText: ")
	b.WriteString(text)
	return b.String()
}
