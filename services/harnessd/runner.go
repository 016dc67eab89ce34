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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/tern/pkg/dataset"
	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/harness"
	"github.com/AleutianAI/tern/pkg/models"
	"github.com/AleutianAI/tern/pkg/report"
	"github.com/AleutianAI/tern/pkg/runstore"
	"github.com/AleutianAI/tern/pkg/telemetry"
	"github.com/AleutianAI/tern/pkg/validation"
)

const (
	MAX_ACTIVE_RUNS = 2 // Concurrent harness runs per process
)

// Run lifecycle states.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// CreateRunRequest submits a harness run. Config is the run config
// YAML as a string. The dataset comes either from a server-side path
// under the data directory or from inline samples plus a task name.
type CreateRunRequest struct {
	Config   string             `json:"config"`
	DataPath string             `json:"data_path,omitempty"`
	Task     string             `json:"task,omitempty"`
	Samples  []datatypes.Sample `json:"samples,omitempty"`
	Seed     int64              `json:"seed,omitempty"`
	Workers  int                `json:"workers,omitempty"`
}

// RunStatus is the wire view of one run.
type RunStatus struct {
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
	Task        string    `json:"task"`
	Dataset     string    `json:"dataset,omitempty"`
	Model       string    `json:"model,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Evaluated   int       `json:"evaluated"`
	TotalCases  int       `json:"total_cases"`
	Passed      bool      `json:"passed"`
	Error       string    `json:"error,omitempty"`
}

func terminal(state string) bool {
	return state == StateCompleted || state == StateFailed
}

// activeRun is the live state of one submitted run plus its watchers.
type activeRun struct {
	mu       sync.Mutex
	status   RunStatus
	watchers map[chan RunStatus]struct{}
}

func (a *activeRun) set(fn func(*RunStatus)) {
	a.mu.Lock()
	fn(&a.status)
	a.mu.Unlock()
}

func (a *activeRun) snapshot() RunStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// notify pushes the current status to every watcher without blocking.
// A watcher whose buffer is full misses intermediate updates; the
// terminal update always follows later.
func (a *activeRun) notify() {
	a.mu.Lock()
	status := a.status
	for ch := range a.watchers {
		select {
		case ch <- status:
		default:
		}
	}
	a.mu.Unlock()
}

// Runner owns the submitted runs. Runs execute in the background, at
// most MAX_ACTIVE_RUNS at a time; the rest wait in the queued state.
type Runner struct {
	store   *runstore.Store
	metrics telemetry.Sink

	mu   sync.Mutex
	runs map[string]*activeRun
	sem  chan struct{}
}

func NewRunner(store *runstore.Store, metrics telemetry.Sink) *Runner {
	return &Runner{
		store:   store,
		metrics: metrics,
		runs:    make(map[string]*activeRun),
		sem:     make(chan struct{}, MAX_ACTIVE_RUNS),
	}
}

// Submit validates the request, assigns a run id, and starts the run
// in the background. The returned status is the queued view; the
// report lands in the store under the same id when the run completes.
func (r *Runner) Submit(req CreateRunRequest) (RunStatus, error) {
	cfg, err := harness.ParseConfig([]byte(req.Config))
	if err != nil {
		return RunStatus{}, err
	}

	source, dataName, err := openSource(req)
	if err != nil {
		return RunStatus{}, err
	}

	client, model, err := buildModelClient(source.Task())
	if err != nil {
		return RunStatus{}, err
	}

	runID := uuid.New().String()
	active := &activeRun{
		status: RunStatus{
			RunID:       runID,
			State:       StateQueued,
			Task:        string(source.Task()),
			Dataset:     dataName,
			Model:       model,
			SubmittedAt: time.Now().UTC(),
		},
		watchers: make(map[chan RunStatus]struct{}),
	}

	r.mu.Lock()
	r.runs[runID] = active
	r.mu.Unlock()

	go r.execute(active, cfg, source, client, req)
	return active.snapshot(), nil
}

// execute drives one run through the harness pipeline.
func (r *Runner) execute(active *activeRun, cfg *harness.FileConfig,
	source dataset.Source, client models.Client, req CreateRunRequest) {

	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	runID := active.status.RunID
	status := active.snapshot()

	// Fan the harness telemetry out to the Prometheus sink and the
	// progress feed the websocket watchers read from.
	sink, err := telemetry.NewCompositeSink(r.metrics, &progressSink{active: active})
	if err != nil {
		r.fail(active, err)
		return
	}

	opts := []harness.Option{
		harness.WithRunID(runID),
		harness.WithTelemetry(sink),
		harness.WithModelName(status.Model),
		harness.WithDatasetName(status.Dataset),
	}
	if req.Seed != 0 {
		opts = append(opts, harness.WithSeed(req.Seed))
	}
	if req.Workers > 0 {
		opts = append(opts, harness.WithWorkers(req.Workers))
	}

	h := harness.New(source.Task(), client, source, opts...)
	if err := h.Apply(cfg); err != nil {
		r.fail(active, err)
		return
	}

	active.set(func(s *RunStatus) { s.State = StateRunning })
	active.notify()
	slog.Info("Run started", "run_id", runID, "task", status.Task, "dataset", status.Dataset)

	// Generate first so watchers see the suite size before the first
	// model call.
	ctx := context.Background()
	if err := h.Generate(ctx); err != nil {
		r.fail(active, err)
		return
	}
	total := len(h.TestCases())
	active.set(func(s *RunStatus) { s.TotalCases = total })
	active.notify()

	rep, err := h.Run(ctx)
	if err != nil {
		r.fail(active, err)
		return
	}

	if err := r.store.Save(ctx, rep); err != nil {
		slog.Error("Failed to save run report", "run_id", runID, "error", err)
	}

	active.set(func(s *RunStatus) {
		s.State = StateCompleted
		s.Evaluated = len(rep.Records)
		s.Passed = rep.Passed()
	})
	active.notify()
	slog.Info("Run completed", "run_id", runID, "cases", len(rep.Records), "passed", rep.Passed())
}

func (r *Runner) fail(active *activeRun, err error) {
	slog.Error("Run failed", "run_id", active.snapshot().RunID, "error", err)
	active.set(func(s *RunStatus) {
		s.State = StateFailed
		s.Error = err.Error()
	})
	active.notify()
}

// Status returns the live status for an in-process run, falling back
// to the store for runs from an earlier process.
func (r *Runner) Status(ctx context.Context, runID string) (RunStatus, error) {
	r.mu.Lock()
	active, ok := r.runs[runID]
	r.mu.Unlock()
	if ok {
		return active.snapshot(), nil
	}
	rep, err := r.store.Load(ctx, runID)
	if err != nil {
		return RunStatus{}, err
	}
	return statusFromReport(rep), nil
}

// Report returns the stored report for a completed run.
func (r *Runner) Report(ctx context.Context, runID string) (*report.Report, error) {
	return r.store.Load(ctx, runID)
}

// List returns this process's runs first, newest submission first,
// then the stored history. A completed run appears once: the live
// entry wins over its stored copy.
func (r *Runner) List(ctx context.Context) ([]RunStatus, error) {
	r.mu.Lock()
	statuses := make([]RunStatus, 0, len(r.runs))
	seen := make(map[string]bool, len(r.runs))
	for id, active := range r.runs {
		statuses = append(statuses, active.snapshot())
		seen[id] = true
	}
	r.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].SubmittedAt.After(statuses[j].SubmittedAt)
	})

	infos, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, in := range infos {
		if seen[in.RunID] {
			continue
		}
		statuses = append(statuses, statusFromInfo(in))
	}
	return statuses, nil
}

// Subscribe registers a watcher for a run's status updates. The
// returned cancel must be called when the watcher is done. ok is
// false when the run is not live in this process.
func (r *Runner) Subscribe(runID string) (<-chan RunStatus, func(), bool) {
	r.mu.Lock()
	active, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	ch := make(chan RunStatus, 8)
	active.mu.Lock()
	active.watchers[ch] = struct{}{}
	active.mu.Unlock()

	cancel := func() {
		active.mu.Lock()
		delete(active.watchers, ch)
		active.mu.Unlock()
	}
	return ch, cancel, true
}

func statusFromReport(rep *report.Report) RunStatus {
	return RunStatus{
		RunID:       rep.RunID,
		State:       StateCompleted,
		Task:        string(rep.Task),
		Dataset:     rep.Metadata.Dataset,
		Model:       rep.Metadata.Model,
		SubmittedAt: rep.Metadata.StartedAt,
		Evaluated:   len(rep.Records),
		TotalCases:  len(rep.Records),
		Passed:      rep.Passed(),
	}
}

func statusFromInfo(in runstore.RunInfo) RunStatus {
	return RunStatus{
		RunID:       in.RunID,
		State:       StateCompleted,
		Task:        in.Task,
		Dataset:     in.Dataset,
		Model:       in.Model,
		SubmittedAt: in.StartedAt,
		Evaluated:   in.Cases,
		TotalCases:  in.Cases,
		Passed:      in.Passed,
	}
}

// progressSink feeds evaluation progress into the run status so
// websocket watchers see cases complete as they happen. Every other
// event is left to the sinks composed alongside it.
type progressSink struct {
	active *activeRun
}

var _ telemetry.Sink = (*progressSink)(nil)

func (p *progressSink) RecordCase(ctx context.Context, data *telemetry.CaseData) error {
	return nil
}

func (p *progressSink) RecordEvaluation(ctx context.Context, data *telemetry.EvaluationData) error {
	p.active.set(func(s *RunStatus) { s.Evaluated++ })
	p.active.notify()
	return nil
}

func (p *progressSink) RecordRun(ctx context.Context, data *telemetry.RunData) error { return nil }

func (p *progressSink) RecordError(ctx context.Context, data *telemetry.ErrorData) error { return nil }

func (p *progressSink) Flush(ctx context.Context) error { return nil }

func (p *progressSink) Close() error { return nil }

// openSource picks the dataset source for a submission: a server-side
// file or the request's inline samples.
func openSource(req CreateRunRequest) (dataset.Source, string, error) {
	switch {
	case req.DataPath != "" && len(req.Samples) > 0:
		return nil, "", errors.New("data_path and samples are mutually exclusive")
	case req.DataPath != "":
		resolved, err := validation.SanitizeDataPath(dataDir(), req.DataPath)
		if err != nil {
			return nil, "", err
		}
		src, err := dataset.Open(resolved)
		if err != nil {
			return nil, "", err
		}
		return src, filepath.Base(req.DataPath), nil
	case len(req.Samples) > 0:
		src, err := newMemSource(req.Task, req.Samples)
		if err != nil {
			return nil, "", err
		}
		return src, "inline", nil
	default:
		return nil, "", errors.New("provide data_path or samples")
	}
}

// dataDir is the root served datasets live under. Requests cannot
// name files outside it.
func dataDir() string {
	if dir := os.Getenv("TERN_DATA_DIR"); dir != "" {
		return dir
	}
	return "."
}

// memSource serves request-supplied samples as a dataset source.
type memSource struct {
	task    datatypes.Task
	samples []datatypes.Sample
}

var _ dataset.Source = (*memSource)(nil)

func newMemSource(taskName string, samples []datatypes.Sample) (*memSource, error) {
	if taskName == "" {
		return nil, errors.New("inline samples need a task")
	}
	task, err := datatypes.ParseTask(taskName)
	if err != nil {
		return nil, err
	}

	out := make([]datatypes.Sample, len(samples))
	for i, s := range samples {
		if s.ID == "" {
			s.ID = strconv.Itoa(i)
		}
		if s.Task == "" {
			s.Task = task
		}
		if s.Task != task {
			return nil, fmt.Errorf("sample %q is %s, request says %s", s.ID, s.Task, task)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out[i] = s
	}
	return &memSource{task: task, samples: out}, nil
}

func (m *memSource) Load() ([]datatypes.Sample, error) { return m.samples, nil }

func (m *memSource) Export(cases []datatypes.TestCase, outputPath string) error {
	return fmt.Errorf("%w: inline samples", dataset.ErrUnsupportedFormat)
}

func (m *memSource) Task() datatypes.Task { return m.task }

// buildModelClient constructs the model client for the configured
// backend. The service talks to one model deployment, selected by
// environment the same way the store and the tracer are.
func buildModelClient(task datatypes.Task) (models.Client, string, error) {
	backendType := os.Getenv("TERN_BACKEND_TYPE")
	switch backendType {
	case "", "http":
		endpoint := os.Getenv("TERN_MODEL_URL")
		if endpoint == "" {
			endpoint = "http://localhost:8080"
		}
		model := os.Getenv("TERN_MODEL_NAME")
		client, err := models.NewHTTPClient(endpoint, model, task)
		if err != nil {
			return nil, "", err
		}
		return client, model, nil
	case "ollama":
		if task != datatypes.TaskTextClassification {
			return nil, "", fmt.Errorf("backend %q supports text classification only, dataset is %s", backendType, task)
		}
		client, err := models.NewOllamaClient(labelSet())
		if err != nil {
			return nil, "", err
		}
		return client, os.Getenv("OLLAMA_MODEL"), nil
	case "openai":
		if task != datatypes.TaskTextClassification {
			return nil, "", fmt.Errorf("backend %q supports text classification only, dataset is %s", backendType, task)
		}
		client, err := models.NewOpenAIClient(labelSet())
		if err != nil {
			return nil, "", err
		}
		return client, os.Getenv("OPENAI_MODEL"), nil
	default:
		return nil, "", fmt.Errorf("unknown TERN_BACKEND_TYPE %q (want http, ollama, or openai)", backendType)
	}
}

// labelSet parses the classification label set from TERN_LABELS.
func labelSet() []string {
	raw := os.Getenv("TERN_LABELS")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
