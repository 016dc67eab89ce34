// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluate runs a generated suite against a model and scores
// the outcomes into a run report.
//
// Robustness cases compare the model's output on the perturbed text
// against its own output on the original; bias cases compare against
// the carried gold labels; accuracy cases score dataset level metrics
// against their configured floors. A failed model call becomes a
// failed record with a reason, never a run failure.
package evaluate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/models"
	"github.com/AleutianAI/tern/pkg/report"
	"github.com/AleutianAI/tern/pkg/telemetry"
)

var tracer = otel.Tracer("tern.evaluate")

// defaultWorkers bounds concurrent model calls when the caller does
// not choose a pool size.
const defaultWorkers = 4

var (
	// ErrNilClient is returned when the evaluator has no model to call.
	ErrNilClient = errors.New("nil model client")

	// ErrNilConfig is returned when Evaluate is called without a
	// resolved config.
	ErrNilConfig = errors.New("nil resolved config")
)

// Evaluator scores one run's test cases against a model.
type Evaluator struct {
	// RunID and Meta flow into the assembled report.
	RunID string
	Meta  report.Metadata

	// Workers bounds concurrent model calls. Zero means the default.
	Workers int

	// Timeout bounds each model call. Zero leaves timing to the
	// client.
	Timeout time.Duration

	// Samples supplies the gold annotations accuracy tests score
	// against. Perturbation categories do not read it.
	Samples []datatypes.Sample

	// Sink receives per record and per run telemetry. Nil disables
	// recording.
	Sink telemetry.Sink

	// Records receives every evaluation record as it is produced,
	// e.g. an InfluxDB sink. Store errors are logged, never fatal.
	Records RecordSink

	client models.Client
	task   datatypes.Task
}

// New returns an Evaluator calling client for a dataset of the given
// task.
func New(client models.Client, task datatypes.Task) *Evaluator {
	return &Evaluator{client: client, task: task}
}

// Evaluate runs every case and assembles the report.
//
// # Description
//
// Robustness baselines are fetched first, one model call per distinct
// original text, then cases evaluate concurrently under the worker
// bound. Records keep suite order regardless of completion order.
// Accuracy cases are scored last from one pass of predictions over
// the evaluator's samples.
//
// # Inputs
//
//   - ctx: cancels the run between model calls
//   - cases: the generated suite
//   - resolved: the enabled tests with merged options
//
// # Outputs
//
//   - *report.Report: records plus per test summaries
//   - error: ErrNilClient, ErrNilConfig, or a context error; model
//     failures surface inside records instead
func (e *Evaluator) Evaluate(ctx context.Context, cases []datatypes.TestCase, resolved *datatypes.ResolvedConfig) (*report.Report, error) {
	ctx, span := tracer.Start(ctx, "Evaluator.Evaluate")
	defer span.End()

	if e.client == nil {
		span.RecordError(ErrNilClient)
		return nil, ErrNilClient
	}
	if resolved == nil {
		span.RecordError(ErrNilConfig)
		return nil, ErrNilConfig
	}

	span.SetAttributes(
		attribute.String("run.id", e.RunID),
		attribute.String("task", string(e.task)),
		attribute.Int("cases", len(cases)),
	)
	started := time.Now()

	baselines, err := e.collectBaselines(ctx, cases)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	records := make([]datatypes.EvaluationRecord, len(cases))
	var accuracyIdx []int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i, tc := range cases {
		if tc.Category == datatypes.CategoryAccuracy {
			accuracyIdx = append(accuracyIdx, i)
			continue
		}
		g.Go(func() error {
			records[i] = e.evaluateCase(gctx, tc, baselines)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if len(accuracyIdx) > 0 {
		e.evaluateAccuracy(ctx, cases, accuracyIdx, resolved, records)
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if e.Meta.FinishedAt.IsZero() {
		e.Meta.FinishedAt = time.Now()
	}
	rep := report.New(e.RunID, e.task, e.Meta, records, resolved)

	duration := time.Since(started)
	if e.Sink != nil {
		_ = e.Sink.RecordRun(ctx, &telemetry.RunData{
			RunID:     e.RunID,
			Task:      string(e.task),
			Duration:  duration,
			Cases:     len(records),
			PassRates: rep.PassRates(),
		})
	}
	span.SetAttributes(attribute.Bool("passed", rep.Passed()))
	slog.Info("Evaluation complete",
		"run_id", e.RunID,
		"cases", len(records),
		"duration", duration,
		"passed", rep.Passed())
	return rep, nil
}

func (e *Evaluator) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return defaultWorkers
}

// predict runs one model call under the per call timeout, reporting
// how long the model took.
func (e *Evaluator) predict(ctx context.Context, text string) (datatypes.Output, time.Duration, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := e.client.Predict(ctx, text)
	return out, time.Since(start), err
}

// baseline is one robustness reference output, or the error that
// prevented it.
type baseline struct {
	out datatypes.Output
	err error
}

// collectBaselines predicts each distinct original text appearing in
// a robustness case. Baseline failures are carried into the map so
// every dependent case reports the same reason.
func (e *Evaluator) collectBaselines(ctx context.Context, cases []datatypes.TestCase) (map[string]baseline, error) {
	var texts []string
	seen := make(map[string]struct{})
	for _, tc := range cases {
		if tc.Category != datatypes.CategoryRobustness {
			continue
		}
		if _, ok := seen[tc.Original]; ok {
			continue
		}
		seen[tc.Original] = struct{}{}
		texts = append(texts, tc.Original)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]baseline, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i, text := range texts {
		g.Go(func() error {
			out, _, err := e.predict(gctx, text)
			results[i] = baseline{out: out, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]baseline, len(texts))
	for i, text := range texts {
		out[text] = results[i]
	}
	return out, nil
}

// evaluateCase scores one robustness or bias case.
func (e *Evaluator) evaluateCase(ctx context.Context, tc datatypes.TestCase, baselines map[string]baseline) datatypes.EvaluationRecord {
	rec := datatypes.EvaluationRecord{Case: tc}

	var expected datatypes.Output
	if tc.Category == datatypes.CategoryRobustness {
		base := baselines[tc.Original]
		if base.err != nil {
			rec.FailureReason = "baseline call failed: " + base.err.Error()
			e.observe(ctx, rec, 0)
			return rec
		}
		rec.ActualOriginal = base.out
		expected = base.out
	} else {
		expected = tc.Expected
	}

	actual, latency, err := e.predict(ctx, tc.Perturbed)
	if err != nil {
		rec.FailureReason = "model call failed: " + err.Error()
		e.observe(ctx, rec, latency)
		return rec
	}
	rec.ActualPerturbed = actual
	rec.Pass = outputsMatch(expected, actual)
	e.observe(ctx, rec, latency)
	return rec
}

// outputsMatch compares two outputs under the task's equality: span
// sets for NER, top label for classification.
func outputsMatch(expected, actual datatypes.Output) bool {
	switch want := expected.(type) {
	case datatypes.NEROutput:
		got, ok := actual.(datatypes.NEROutput)
		return ok && want.Equal(got)
	case datatypes.SequenceClassificationOutput:
		got, ok := actual.(datatypes.SequenceClassificationOutput)
		return ok && want.Equal(got)
	default:
		return false
	}
}

// recordResult classifies a record for metric labels and storage
// tags.
func recordResult(rec datatypes.EvaluationRecord) string {
	switch {
	case rec.FailureReason != "":
		return telemetry.ResultError
	case rec.Pass:
		return telemetry.ResultPass
	default:
		return telemetry.ResultFail
	}
}

// observe reports one record to the telemetry and record sinks.
func (e *Evaluator) observe(ctx context.Context, rec datatypes.EvaluationRecord, latency time.Duration) {
	result := recordResult(rec)
	if e.Sink != nil {
		_ = e.Sink.RecordEvaluation(ctx, &telemetry.EvaluationData{
			Category:     rec.Case.Category,
			TestType:     rec.Case.TestType,
			Result:       result,
			ModelLatency: latency,
		})
	}
	if e.Records != nil {
		if err := e.Records.StoreRecord(ctx, e.RunID, rec); err != nil {
			slog.Warn("Failed to store evaluation record",
				"case_id", rec.Case.ID, "error", err)
		}
	}
}
