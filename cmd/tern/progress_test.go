// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"testing"

	"github.com/AleutianAI/tern/pkg/telemetry"
	"github.com/AleutianAI/tern/pkg/ux"
)

// TestEvalProgress_DetachedDiscards tests that events before attach are
// accepted and dropped.
func TestEvalProgress_DetachedDiscards(t *testing.T) {
	p := &evalProgress{}
	ctx := context.Background()

	if err := p.RecordCase(ctx, &telemetry.CaseData{TestType: "uppercase", Outcome: telemetry.OutcomeGenerated}); err != nil {
		t.Errorf("RecordCase failed: %v", err)
	}
	if err := p.RecordEvaluation(ctx, &telemetry.EvaluationData{TestType: "uppercase", Result: telemetry.ResultPass}); err != nil {
		t.Errorf("RecordEvaluation failed: %v", err)
	}
	if err := p.RecordRun(ctx, &telemetry.RunData{RunID: "r1"}); err != nil {
		t.Errorf("RecordRun failed: %v", err)
	}
	if err := p.Flush(ctx); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

// TestEvalProgress_NilGuards tests the nil context and nil data errors.
func TestEvalProgress_NilGuards(t *testing.T) {
	p := &evalProgress{}

	//nolint:staticcheck // nil context is the case under test
	if err := p.RecordEvaluation(nil, &telemetry.EvaluationData{}); err != telemetry.ErrNilContext {
		t.Errorf("Expected ErrNilContext, got %v", err)
	}
	if err := p.RecordEvaluation(context.Background(), nil); err != telemetry.ErrNilData {
		t.Errorf("Expected ErrNilData, got %v", err)
	}
	if err := p.RecordCase(context.Background(), nil); err != telemetry.ErrNilData {
		t.Errorf("Expected ErrNilData, got %v", err)
	}
	if err := p.RecordError(context.Background(), nil); err != telemetry.ErrNilData {
		t.Errorf("Expected ErrNilData, got %v", err)
	}
}

// TestEvalProgress_AttachedIncrements tests that attached evaluations
// advance the spinner counter without starting the animation.
func TestEvalProgress_AttachedIncrements(t *testing.T) {
	old := ux.GetPersonality()
	ux.SetPersonalityLevel(ux.PersonalityMachine)
	t.Cleanup(func() { ux.SetPersonality(old) })

	p := &evalProgress{}
	spin := ux.NewProgressSpinner("Evaluating", 3)
	p.attach(spin)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := p.RecordEvaluation(ctx, &telemetry.EvaluationData{TestType: "typos", Result: telemetry.ResultPass}); err != nil {
			t.Fatalf("RecordEvaluation failed: %v", err)
		}
	}
}
