// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generate turns loaded samples and a resolved test config
// into the test case suite for one run.
//
// Robustness and bias cases come from applying each enabled
// perturbation to each sample. Accuracy cases are dataset level: one
// case per gold label for the per label metrics, one case total for
// the averaged ones. Generation never mutates samples and the
// returned suite is safe to iterate any number of times.
package generate

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/perturb"
	"github.com/AleutianAI/tern/pkg/telemetry"
)

var tracer = otel.Tracer("tern.generate")

// ErrNilConfig is returned when Generate is called without a resolved
// config. An empty config is fine and yields an empty suite; a nil one
// means the caller skipped resolution.
var ErrNilConfig = errors.New("nil resolved config")

// accuracyAggregates maps the averaged accuracy test types to the
// single pseudo label their case carries in the test_case column.
var accuracyAggregates = map[string]string{
	"min_micro_f1_score":    "micro",
	"min_macro_f1_score":    "macro",
	"min_weighted_f1_score": "weighted",
}

// Generator builds the test case suite for one run.
type Generator struct {
	// Seed is the run seed. Two generators with the same seed produce
	// byte identical suites from the same samples and config.
	Seed int64

	// Sink receives per case generation telemetry. Nil disables
	// recording.
	Sink telemetry.Sink

	registry *perturb.Registry
	task     datatypes.Task
}

// New returns a Generator drawing test specs from registry for a
// dataset of the given task.
func New(registry *perturb.Registry, task datatypes.Task) *Generator {
	return &Generator{registry: registry, task: task}
}

// Generate builds the full suite: every sample crossed with every
// enabled robustness and bias test, plus the dataset level accuracy
// cases.
//
// # Description
//
// Tests run in config order, samples in input order, so the suite
// order is stable across runs. A perturbation that finds nothing to
// edit (perturb.ErrNoEligibleSpans) skips that (sample, test) pair at
// Debug level; any other perturber error skips the pair with a
// warning. Neither aborts the run.
//
// # Inputs
//
//   - ctx: cancels generation between pairs
//   - samples: loaded dataset rows
//   - resolved: the enabled tests with merged options
//
// # Outputs
//
//   - []datatypes.TestCase: the generated suite, in suite order
//   - error: ErrNilConfig, a context error, or an unknown test type
func (g *Generator) Generate(ctx context.Context, samples []datatypes.Sample, resolved *datatypes.ResolvedConfig) ([]datatypes.TestCase, error) {
	ctx, span := tracer.Start(ctx, "Generator.Generate")
	defer span.End()

	if resolved == nil {
		span.RecordError(ErrNilConfig)
		return nil, ErrNilConfig
	}

	span.SetAttributes(
		attribute.String("task", string(g.task)),
		attribute.Int("samples", len(samples)),
		attribute.Int("tests", resolved.Len()),
	)

	var cases []datatypes.TestCase
	var skipped, failed int

	for _, cfg := range resolved.Tests() {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, err
		}

		spec, err := g.registry.Lookup(cfg.TestType)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		if cfg.Category == datatypes.CategoryAccuracy {
			cases = append(cases, g.accuracyCases(ctx, cfg, samples)...)
			continue
		}

		for _, sample := range samples {
			tc, outcome := g.perturbOne(ctx, spec, cfg, sample)
			switch outcome {
			case telemetry.OutcomeGenerated:
				cases = append(cases, tc)
			case telemetry.OutcomeSkipped:
				skipped++
			case telemetry.OutcomeFailed:
				failed++
			}
		}
	}

	span.SetAttributes(
		attribute.Int("cases", len(cases)),
		attribute.Int("skipped", skipped),
		attribute.Int("failed", failed),
	)
	slog.Info("Generated test suite",
		"task", g.task,
		"samples", len(samples),
		"tests", resolved.Len(),
		"cases", len(cases),
		"skipped", skipped,
		"failed", failed)
	return cases, nil
}

// perturbOne applies one test to one sample and reports the outcome:
// OutcomeGenerated with a populated case, or OutcomeSkipped and
// OutcomeFailed with a zero one.
func (g *Generator) perturbOne(ctx context.Context, spec perturb.TestSpec, cfg datatypes.TestConfig, sample datatypes.Sample) (datatypes.TestCase, string) {
	rng := rand.New(rand.NewSource(g.Seed ^ pairSeed(sample.ID, cfg.TestType)))

	res, err := spec.Perturber.Perturb(rng, sample, cfg.Params)
	if err != nil {
		outcome := telemetry.OutcomeFailed
		if errors.Is(err, perturb.ErrNoEligibleSpans) {
			outcome = telemetry.OutcomeSkipped
			slog.Debug("No eligible spans, skipping",
				"sample_id", sample.ID, "test_type", cfg.TestType)
		} else {
			slog.Warn("Perturbation failed, skipping sample",
				"sample_id", sample.ID, "test_type", cfg.TestType, "error", err)
		}
		g.record(ctx, cfg, outcome)
		return datatypes.TestCase{}, outcome
	}

	tc := datatypes.TestCase{
		ID:              uuid.NewString(),
		SampleID:        sample.ID,
		Category:        cfg.Category,
		TestType:        cfg.TestType,
		Original:        sample.Text,
		Perturbed:       res.Perturbed,
		Expected:        expectedFor(sample, res.SpanMap),
		Transformations: res.SpanMap,
	}
	g.record(ctx, cfg, telemetry.OutcomeGenerated)
	return tc, telemetry.OutcomeGenerated
}

// accuracyCases builds the dataset level cases for one accuracy test.
// Per label metrics get one case per gold label, subject to the per
// label threshold map; averaged metrics get a single case named after
// the average.
func (g *Generator) accuracyCases(ctx context.Context, cfg datatypes.TestConfig, samples []datatypes.Sample) []datatypes.TestCase {
	var out []datatypes.TestCase

	if agg, ok := accuracyAggregates[cfg.TestType]; ok {
		out = append(out, datatypes.TestCase{
			ID:        uuid.NewString(),
			Category:  cfg.Category,
			TestType:  cfg.TestType,
			Original:  datatypes.AccuracyPlaceholder,
			Perturbed: agg,
		})
		g.record(ctx, cfg, telemetry.OutcomeGenerated)
		return out
	}

	labels := goldLabels(samples)
	if len(labels) == 0 {
		slog.Warn("Accuracy test enabled but dataset has no gold labels",
			"test_type", cfg.TestType)
		return nil
	}
	for _, label := range labels {
		if cfg.MinScore != nil && !cfg.MinScore.Covers(label) {
			continue
		}
		out = append(out, datatypes.TestCase{
			ID:        uuid.NewString(),
			Category:  cfg.Category,
			TestType:  cfg.TestType,
			Original:  datatypes.AccuracyPlaceholder,
			Perturbed: label,
		})
		g.record(ctx, cfg, telemetry.OutcomeGenerated)
	}
	return out
}

func (g *Generator) record(ctx context.Context, cfg datatypes.TestConfig, outcome string) {
	if g.Sink == nil {
		return
	}
	_ = g.Sink.RecordCase(ctx, &telemetry.CaseData{
		Category: cfg.Category,
		TestType: cfg.TestType,
		Outcome:  outcome,
	})
}

// expectedFor carries the sample's gold annotation onto the case. NER
// gold spans are remapped through the edits so their offsets match the
// perturbed text; classification labels are position free and carry
// over unchanged.
func expectedFor(sample datatypes.Sample, spanMap []datatypes.Transformation) datatypes.Output {
	if sample.Task == datatypes.TaskTextClassification {
		return sample.Labels
	}
	return sample.Entities.Remap(spanMap)
}

// goldLabels collects the distinct gold labels of the dataset, sorted.
// For NER that is every entity tag on a gold span; untagged tokens
// contribute nothing. For classification it is each sample's top
// label.
func goldLabels(samples []datatypes.Sample) []string {
	seen := make(map[string]struct{})
	for _, s := range samples {
		switch s.Task {
		case datatypes.TaskTextClassification:
			if top, ok := s.Labels.Top(); ok {
				seen[top.Label] = struct{}{}
			}
		default:
			for _, e := range s.Entities {
				seen[e.Entity] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// pairSeed derives a stable per pair seed from the sample id and test
// type, so adding or reordering other samples never changes the edits
// made to this one.
func pairSeed(sampleID, testType string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sampleID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(testType))
	return int64(h.Sum64())
}
