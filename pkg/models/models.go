// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package models connects the harness to the model under test. A model
// is anything that can label text: a self-hosted inference server
// speaking JSON (HTTPClient), an OpenAI-compatible endpoint
// (OpenAIClient), or a local Ollama instance (OllamaClient). The
// harness only ever sees the Client interface; it never inspects model
// internals.
package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

var tracer = otel.Tracer("tern.models")

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyResponse indicates the backend answered without a usable
	// prediction.
	ErrEmptyResponse = errors.New("model returned no prediction")

	// ErrUnexpectedLabel indicates a hosted model replied with text that
	// matches none of the configured labels.
	ErrUnexpectedLabel = errors.New("reply did not match a configured label")
)

// =============================================================================
// Interfaces
// =============================================================================

// Client is the model under test.
//
// # Description
//
// Predict labels a single text. NER models return NEROutput with byte
// offsets into the given text; classification models return
// SequenceClassificationOutput. Implementations must honor context
// cancellation and are called concurrently by the evaluator.
type Client interface {
	// Predict labels one text.
	//
	// # Inputs
	//
	//   - ctx: Cancellation and per-call deadline
	//   - text: Input text to label
	//
	// # Outputs
	//
	//   - datatypes.Output: NEROutput or SequenceClassificationOutput
	//   - error: Non-nil on transport failure or an unusable reply
	Predict(ctx context.Context, text string) (datatypes.Output, error)
}

// PredictFunc adapts a plain function to the Client interface.
type PredictFunc func(ctx context.Context, text string) (datatypes.Output, error)

// Predict implements Client.
func (f PredictFunc) Predict(ctx context.Context, text string) (datatypes.Output, error) {
	return f(ctx, text)
}

// =============================================================================
// Shared Helpers
// =============================================================================

// qpsLimiter builds a rate limiter from the TERN_MODEL_QPS environment
// variable. Returns nil (unlimited) when unset or unparsable.
func qpsLimiter() *rate.Limiter {
	raw := os.Getenv("TERN_MODEL_QPS")
	if raw == "" {
		return nil
	}
	qps, err := strconv.ParseFloat(raw, 64)
	if err != nil || qps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(qps), 1)
}

// waitLimiter blocks until the limiter admits a request. A nil limiter
// admits immediately.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// parseLabel extracts a classification label from a model reply.
//
// # Description
//
// Takes the first line of the reply, strips surrounding quotes and a
// trailing period, and resolves it against the configured label set:
// first by case-insensitive equality, then by containment. With no
// configured labels the cleaned reply is returned as-is.
func parseLabel(reply string, labels []string) (string, error) {
	line := reply
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	line = strings.Trim(line, `"'`)
	line = strings.TrimSuffix(line, ".")
	line = strings.TrimSpace(line)

	if line == "" {
		return "", ErrEmptyResponse
	}
	if len(labels) == 0 {
		return line, nil
	}

	for _, l := range labels {
		if strings.EqualFold(line, l) {
			return l, nil
		}
	}
	lower := strings.ToLower(line)
	for _, l := range labels {
		if strings.Contains(lower, strings.ToLower(l)) {
			return l, nil
		}
	}

	return "", fmt.Errorf("%w: reply %q", ErrUnexpectedLabel, line)
}
