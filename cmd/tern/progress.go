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
	"sync"

	"github.com/AleutianAI/tern/pkg/telemetry"
	"github.com/AleutianAI/tern/pkg/ux"
)

// evalProgress bridges evaluator telemetry to the terminal spinner.
// The harness takes its sink at construction, before the suite size is
// known; attach hands over the spinner once the cases are counted.
// Until then every event is discarded.
type evalProgress struct {
	mu   sync.Mutex
	spin *ux.ProgressSpinner
}

func (p *evalProgress) attach(spin *ux.ProgressSpinner) {
	p.mu.Lock()
	p.spin = spin
	p.mu.Unlock()
}

// RecordEvaluation advances the spinner one case.
func (p *evalProgress) RecordEvaluation(ctx context.Context, data *telemetry.EvaluationData) error {
	if ctx == nil {
		return telemetry.ErrNilContext
	}
	if data == nil {
		return telemetry.ErrNilData
	}
	p.mu.Lock()
	spin := p.spin
	p.mu.Unlock()
	if spin != nil {
		spin.Increment()
	}
	return nil
}

// RecordCase fires during generation, before the spinner exists.
func (p *evalProgress) RecordCase(ctx context.Context, data *telemetry.CaseData) error {
	if ctx == nil {
		return telemetry.ErrNilContext
	}
	if data == nil {
		return telemetry.ErrNilData
	}
	return nil
}

func (p *evalProgress) RecordRun(ctx context.Context, data *telemetry.RunData) error {
	if ctx == nil {
		return telemetry.ErrNilContext
	}
	if data == nil {
		return telemetry.ErrNilData
	}
	return nil
}

func (p *evalProgress) RecordError(ctx context.Context, data *telemetry.ErrorData) error {
	if ctx == nil {
		return telemetry.ErrNilContext
	}
	if data == nil {
		return telemetry.ErrNilData
	}
	return nil
}

func (p *evalProgress) Flush(ctx context.Context) error {
	if ctx == nil {
		return telemetry.ErrNilContext
	}
	return nil
}

func (p *evalProgress) Close() error { return nil }

var _ telemetry.Sink = (*evalProgress)(nil)
