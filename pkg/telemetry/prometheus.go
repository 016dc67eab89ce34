// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidConfig is returned when the Prometheus configuration is invalid.
	ErrInvalidConfig = errors.New("invalid prometheus configuration")

	// ErrRegistrationFailed is returned when metric registration fails.
	ErrRegistrationFailed = errors.New("metric registration failed")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures the Prometheus sink.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type PrometheusConfig struct {
	// Namespace is the metrics namespace (e.g. "tern"). Required.
	Namespace string

	// Subsystem is the metrics subsystem (e.g. "harness"). Required.
	Subsystem string

	// Registry is the Prometheus registry to use.
	// If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// LatencyBuckets defines histogram buckets for model latency (seconds).
	// If nil, uses default buckets.
	LatencyBuckets []float64

	// DurationBuckets defines histogram buckets for run duration (seconds).
	// If nil, uses default buckets.
	DurationBuckets []float64

	// MaxLabelCardinality is the maximum number of unique label values to
	// track per label. When exceeded, new values are mapped to "_other".
	// Default: 1000
	MaxLabelCardinality int
}

// DefaultPrometheusConfig returns a configuration with sensible defaults.
//
// Example:
//
//	config := telemetry.DefaultPrometheusConfig()
//	config.Registry = myRegistry
//	sink, err := telemetry.NewPrometheusSink(config)
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace: "tern",
		Subsystem: "harness",
		LatencyBuckets: []float64{
			0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
		},
		DurationBuckets: []float64{
			0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800,
		},
		MaxLabelCardinality: 1000,
	}
}

// Validate checks that required fields are set.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}
	if c.Subsystem == "" {
		return errors.New("subsystem is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Prometheus Sink
// -----------------------------------------------------------------------------

// PrometheusSink exports harness telemetry as Prometheus metrics.
//
// Description:
//
//	Counts generated cases and evaluation results per test type, tracks
//	model latency and run duration distributions, and exposes per-type
//	pass rates as gauges. Metrics are registered on creation and
//	unregistered on Close() when using a custom registry.
//
// Thread Safety: Safe for concurrent use.
type PrometheusSink struct {
	config   *PrometheusConfig
	registry prometheus.Registerer

	casesTotal       *prometheus.CounterVec
	evaluationsTotal *prometheus.CounterVec
	modelLatency     *prometheus.HistogramVec
	runDuration      *prometheus.HistogramVec
	runCases         *prometheus.CounterVec
	passRate         *prometheus.GaugeVec
	errorsTotal      *prometheus.CounterVec

	mu     sync.RWMutex
	closed bool

	// Track registered collectors for cleanup
	collectors []prometheus.Collector

	// Label cardinality protection
	labelMu        sync.RWMutex
	seenLabels     map[string]map[string]struct{} // labelName -> set of seen values
	maxCardinality int
}

// NewPrometheusSink creates a new Prometheus telemetry sink.
//
// Outputs:
//   - *PrometheusSink: The created sink. Never nil on success.
//   - error: Non-nil if configuration is invalid or registration fails.
//
// Limitations:
//   - Uses the global default registry if none specified; the global
//     registry does not support unregistration on Close.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	// Copy to avoid mutating input
	cfg := *config
	if cfg.LatencyBuckets == nil {
		cfg.LatencyBuckets = DefaultPrometheusConfig().LatencyBuckets
	}
	if cfg.DurationBuckets == nil {
		cfg.DurationBuckets = DefaultPrometheusConfig().DurationBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	maxCard := cfg.MaxLabelCardinality
	if maxCard <= 0 {
		maxCard = 1000
	}

	sink := &PrometheusSink{
		config:         &cfg,
		registry:       registry,
		seenLabels:     make(map[string]map[string]struct{}),
		maxCardinality: maxCard,
	}

	sink.casesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cases_total",
			Help:      "Test cases by category, test type, and generation outcome",
		},
		[]string{"category", "test_type", "outcome"},
	)

	sink.evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "evaluations_total",
			Help:      "Evaluated test cases by category, test type, and result",
		},
		[]string{"category", "test_type", "result"},
	)

	sink.modelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "model_latency_seconds",
			Help:      "Model call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"test_type"},
	)

	sink.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "run_duration_seconds",
			Help:      "Full run duration in seconds",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"task"},
	)

	sink.runCases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "run_cases_total",
			Help:      "Evaluated cases per run by task",
		},
		[]string{"task"},
	)

	sink.passRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pass_rate",
			Help:      "Most recent pass rate per test type (0.0-1.0)",
		},
		[]string{"test_type"},
	)

	sink.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "errors_total",
			Help:      "Total errors by component, operation, and error type",
		},
		[]string{"component", "operation", "error_type"},
	)

	sink.collectors = []prometheus.Collector{
		sink.casesTotal,
		sink.evaluationsTotal,
		sink.modelLatency,
		sink.runDuration,
		sink.runCases,
		sink.passRate,
		sink.errorsTotal,
	}

	for _, c := range sink.collectors {
		if err := registry.Register(c); err != nil {
			// If already registered, try to continue
			var alreadyErr prometheus.AlreadyRegisteredError
			if !errors.As(err, &alreadyErr) {
				return nil, errors.Join(ErrRegistrationFailed, err)
			}
		}
	}

	return sink, nil
}

// RecordCase counts one generation event.
func (s *PrometheusSink) RecordCase(ctx context.Context, data *CaseData) error {
	if err := s.checkRecord(ctx, data == nil); err != nil {
		return err
	}

	category := s.sanitizeLabel("category", orUnknown(data.Category))
	testType := s.sanitizeLabel("test_type", orUnknown(data.TestType))
	outcome := s.sanitizeLabel("outcome", orUnknown(data.Outcome))

	s.casesTotal.WithLabelValues(category, testType, outcome).Inc()
	return nil
}

// RecordEvaluation counts one evaluation result and observes the model
// call latency when present.
func (s *PrometheusSink) RecordEvaluation(ctx context.Context, data *EvaluationData) error {
	if err := s.checkRecord(ctx, data == nil); err != nil {
		return err
	}

	category := s.sanitizeLabel("category", orUnknown(data.Category))
	testType := s.sanitizeLabel("test_type", orUnknown(data.TestType))
	result := s.sanitizeLabel("result", orUnknown(data.Result))

	s.evaluationsTotal.WithLabelValues(category, testType, result).Inc()
	if data.ModelLatency > 0 {
		s.modelLatency.WithLabelValues(testType).Observe(data.ModelLatency.Seconds())
	}
	return nil
}

// RecordRun observes the run duration and sets per-type pass rates.
func (s *PrometheusSink) RecordRun(ctx context.Context, data *RunData) error {
	if err := s.checkRecord(ctx, data == nil); err != nil {
		return err
	}

	task := s.sanitizeLabel("task", orUnknown(data.Task))
	s.runDuration.WithLabelValues(task).Observe(data.Duration.Seconds())
	s.runCases.WithLabelValues(task).Add(float64(data.Cases))

	for testType, rate := range data.PassRates {
		s.passRate.WithLabelValues(s.sanitizeLabel("test_type", testType)).Set(rate)
	}
	return nil
}

// RecordError increments the error counter.
func (s *PrometheusSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := s.checkRecord(ctx, data == nil); err != nil {
		return err
	}

	component := s.sanitizeLabel("component", orUnknown(data.Component))
	operation := s.sanitizeLabel("operation", orUnknown(data.Operation))
	errorType := s.sanitizeLabel("error_type", orUnknown(data.ErrorType))

	s.errorsTotal.WithLabelValues(component, operation, errorType).Inc()
	return nil
}

// Flush is a no-op: Prometheus metrics are pull-based.
func (s *PrometheusSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// Close unregisters all metrics when the registry supports it. Idempotent.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// DefaultRegisterer does not support Unregister; custom registries do.
	if gatherer, ok := s.registry.(*prometheus.Registry); ok {
		for _, c := range s.collectors {
			gatherer.Unregister(c)
		}
	}
	return nil
}

// checkRecord validates the shared recording preconditions.
func (s *PrometheusSink) checkRecord(ctx context.Context, nilData bool) error {
	if ctx == nil {
		return ErrNilContext
	}
	if nilData {
		return ErrNilData
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// orUnknown substitutes a placeholder for an empty label value.
func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// sanitizeLabel protects against label cardinality explosion.
//
// Description:
//
//	Tracks unique label values per label name and replaces values
//	beyond MaxLabelCardinality with "_other".
//
// Thread Safety: Safe for concurrent use.
func (s *PrometheusSink) sanitizeLabel(labelName, labelValue string) string {
	s.labelMu.RLock()
	seen := s.seenLabels[labelName]
	if seen != nil {
		if _, exists := seen[labelValue]; exists {
			s.labelMu.RUnlock()
			return labelValue
		}
		if len(seen) >= s.maxCardinality {
			s.labelMu.RUnlock()
			return "_other"
		}
	}
	s.labelMu.RUnlock()

	s.labelMu.Lock()
	defer s.labelMu.Unlock()

	// Double-check after acquiring write lock
	if s.seenLabels[labelName] == nil {
		s.seenLabels[labelName] = make(map[string]struct{})
	}
	if _, exists := s.seenLabels[labelName][labelValue]; exists {
		return labelValue
	}
	if len(s.seenLabels[labelName]) >= s.maxCardinality {
		return "_other"
	}

	s.seenLabels[labelName][labelValue] = struct{}{}
	return labelValue
}

// Verify interface compliance at compile time.
var _ Sink = (*PrometheusSink)(nil)
