// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package harness wires the whole workflow behind one type: resolve a
// run config, generate the suite, evaluate it against the model, and
// hand back the report.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/tern/pkg/dataset"
	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/evaluate"
	"github.com/AleutianAI/tern/pkg/generate"
	"github.com/AleutianAI/tern/pkg/models"
	"github.com/AleutianAI/tern/pkg/perturb"
	"github.com/AleutianAI/tern/pkg/report"
	"github.com/AleutianAI/tern/pkg/telemetry"
)

// ErrNotConfigured is returned by Generate and Run before a config has
// been applied.
var ErrNotConfigured = errors.New("harness not configured")

// Option adjusts optional harness behavior at construction.
type Option func(*Harness)

// WithSeed fixes the run seed. The default seed is zero; two harnesses
// with the same seed, config, and dataset generate identical suites.
func WithSeed(seed int64) Option {
	return func(h *Harness) { h.seed = seed }
}

// WithWorkers bounds concurrent model calls during evaluation.
func WithWorkers(n int) Option {
	return func(h *Harness) { h.workers = n }
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) { h.timeout = d }
}

// WithTelemetry streams per case and per run measurements to a sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(h *Harness) { h.sink = sink }
}

// WithRecordSink stores every evaluation record as it is produced.
func WithRecordSink(rs evaluate.RecordSink) Option {
	return func(h *Harness) { h.records = rs }
}

// WithRegistry swaps the test type catalog, usually to add custom
// perturbers on top of the built in set.
func WithRegistry(reg *perturb.Registry) Option {
	return func(h *Harness) { h.registry = reg }
}

// WithModelName labels the run's report with a model identifier. The
// client interface carries no name of its own.
func WithModelName(name string) Option {
	return func(h *Harness) { h.model = name }
}

// WithDatasetName labels the run's report with a dataset identifier.
func WithDatasetName(name string) Option {
	return func(h *Harness) { h.dataset = name }
}

// WithRunID fixes the run identifier instead of deriving one from the
// config metadata at start time. Callers that hand out the id before
// the run starts, like a service answering a submission, need the
// report stored under the id they already returned.
func WithRunID(id string) Option {
	return func(h *Harness) { h.runID = id }
}

// Harness drives one model and dataset pair through configure,
// generate, evaluate, and report. It is not safe for concurrent use;
// run one harness per goroutine.
type Harness struct {
	task   datatypes.Task
	client models.Client
	source dataset.Source

	registry *perturb.Registry
	seed     int64
	workers  int
	timeout  time.Duration
	sink     telemetry.Sink
	records  evaluate.RecordSink
	model    string
	dataset  string
	runID    string

	config   *FileConfig
	resolved *datatypes.ResolvedConfig
	samples  []datatypes.Sample
	cases    []datatypes.TestCase
	report   *report.Report
}

// New builds a harness for one task, model client, and dataset source.
// Apply a config with Configure before generating or running.
func New(task datatypes.Task, client models.Client, source dataset.Source, opts ...Option) *Harness {
	h := &Harness{
		task:     task,
		client:   client,
		source:   source,
		registry: perturb.NewDefaultRegistry(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Configure loads a run config file and resolves it against the
// registry. Any previously generated suite is discarded.
func (h *Harness) Configure(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	return h.Apply(cfg)
}

// Apply resolves an already parsed config.
func (h *Harness) Apply(cfg *FileConfig) error {
	resolved, err := Resolve(h.registry, cfg)
	if err != nil {
		return err
	}
	h.config = cfg
	h.resolved = resolved
	h.cases = nil
	h.report = nil
	slog.Info("Configured harness", "tests", resolved.Len(), "task", h.task)
	return nil
}

// Resolved returns the merged test set, nil before Configure.
func (h *Harness) Resolved() *datatypes.ResolvedConfig {
	return h.resolved
}

// Generate builds the test suite for the resolved config. Samples load
// from the dataset source on first use.
func (h *Harness) Generate(ctx context.Context) error {
	if h.resolved == nil {
		return ErrNotConfigured
	}
	if err := h.ensureSamples(); err != nil {
		return err
	}
	h.resolved = h.withTerminology(h.resolved)

	gen := generate.New(h.registry, h.task)
	gen.Seed = h.seed
	gen.Sink = h.sink
	cases, err := gen.Generate(ctx, h.samples, h.resolved)
	if err != nil {
		return err
	}
	h.cases = cases
	return nil
}

// TestCases returns the generated suite, nil before Generate.
func (h *Harness) TestCases() []datatypes.TestCase {
	out := make([]datatypes.TestCase, len(h.cases))
	copy(out, h.cases)
	return out
}

// Run executes the full pipeline and returns the report. The suite is
// generated first unless Generate already ran under this config.
func (h *Harness) Run(ctx context.Context) (*report.Report, error) {
	if h.resolved == nil {
		return nil, ErrNotConfigured
	}
	if h.cases == nil {
		if err := h.Generate(ctx); err != nil {
			return nil, err
		}
	}

	meta := h.metadata()
	ev := evaluate.New(h.client, h.task)
	ev.RunID = h.runID
	if ev.RunID == "" {
		ev.RunID = RunID(meta, meta.StartedAt)
	}
	ev.Meta = meta
	ev.Workers = h.workers
	ev.Timeout = h.timeout
	ev.Samples = h.samples
	ev.Sink = h.sink
	ev.Records = h.records

	rep, err := ev.Evaluate(ctx, h.cases, h.resolved)
	if err != nil {
		return nil, err
	}
	h.report = rep
	return rep, nil
}

// Report returns the last run's report, nil before Run.
func (h *Harness) Report() *report.Report {
	return h.report
}

// Save exports the generated suite for review. The format follows the
// extension: .csv writes the tabular layout, .conll and .txt write
// token annotation through the dataset source.
func (h *Harness) Save(path string) error {
	if h.cases == nil {
		return errors.New("no test cases generated")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return report.SaveCasesCSV(path, h.cases)
	case ".conll", ".txt":
		return h.source.Export(h.cases, path)
	default:
		return fmt.Errorf("%w: %q", dataset.ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// RunID derives the canonical run identifier from run metadata and a
// start time.
func RunID(meta report.Metadata, at time.Time) string {
	return fmt.Sprintf("%s_v%s_%s", meta.ID, meta.Version,
		at.UTC().Format("20060102T150405Z"))
}

func (h *Harness) metadata() report.Metadata {
	meta := report.Metadata{
		ID:        "run",
		Version:   "0.0.0",
		Model:     h.model,
		Dataset:   h.dataset,
		Seed:      h.seed,
		StartedAt: time.Now().UTC(),
	}
	if h.config != nil {
		if h.config.Metadata.ID != "" {
			meta.ID = h.config.Metadata.ID
		}
		if h.config.Metadata.Version != "" {
			meta.Version = h.config.Metadata.Version
		}
		meta.Description = h.config.Metadata.Description
		meta.Author = h.config.Metadata.Author
	}
	return meta
}

func (h *Harness) ensureSamples() error {
	if h.samples != nil {
		return nil
	}
	if got := h.source.Task(); got != h.task {
		return fmt.Errorf("dataset carries %s samples, harness task is %s", got, h.task)
	}
	samples, err := h.source.Load()
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	h.samples = samples
	slog.Info("Loaded dataset", "samples", len(samples), "task", h.task)
	return nil
}

// withTerminology injects dataset derived terminology into
// swap_entities when the config gave none. Without a terminology map
// the perturber has nothing to swap in.
func (h *Harness) withTerminology(resolved *datatypes.ResolvedConfig) *datatypes.ResolvedConfig {
	const swapEntities = "swap_entities"
	cfg, ok := resolved.Get(swapEntities)
	if !ok || cfg.Params[perturb.ParamTerminology] != nil {
		return resolved
	}
	terms := perturb.BuildTerminology(h.samples)
	if len(terms) == 0 {
		return resolved
	}

	tests := resolved.Tests()
	for i := range tests {
		if tests[i].TestType != swapEntities {
			continue
		}
		params := make(map[string]any, len(tests[i].Params)+1)
		for k, v := range tests[i].Params {
			params[k] = v
		}
		params[perturb.ParamTerminology] = terms
		tests[i].Params = params
	}
	return datatypes.NewResolvedConfig(tests)
}
