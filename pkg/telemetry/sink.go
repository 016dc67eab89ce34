// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry collects metrics from harness runs. The Sink
// abstraction decouples the generator and evaluator from the export
// backend: PrometheusSink exposes scrapeable metrics, CompositeSink
// fans out to several backends, NoOpSink discards everything.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData is returned when nil data is provided to a recording method.
	ErrNilData = errors.New("data must not be nil")

	// ErrSinkClosed is returned when attempting to use a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when creating a composite sink with no children.
	ErrNoSinks = errors.New("at least one sink is required")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Sink defines the interface for harness telemetry collection.
//
// Description:
//
//	Sink is the primary abstraction for recording harness telemetry.
//	Implementations handle the specific export format.
//
// Thread Safety: All implementations must be safe for concurrent use.
//
// Example:
//
//	sink, err := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	sink.RecordCase(ctx, &telemetry.CaseData{Category: "robustness", TestType: "uppercase", Outcome: "generated"})
type Sink interface {
	// RecordCase records one test case generation event.
	//
	// Inputs:
	//   - ctx: Context for cancellation. Must not be nil.
	//   - data: Generation event. Must not be nil.
	//
	// Thread Safety: Safe for concurrent use.
	RecordCase(ctx context.Context, data *CaseData) error

	// RecordEvaluation records one evaluated test case.
	//
	// Inputs:
	//   - ctx: Context for cancellation. Must not be nil.
	//   - data: Evaluation result. Must not be nil.
	//
	// Thread Safety: Safe for concurrent use.
	RecordEvaluation(ctx context.Context, data *EvaluationData) error

	// RecordRun records a completed run summary.
	//
	// Inputs:
	//   - ctx: Context for cancellation. Must not be nil.
	//   - data: Run summary. Must not be nil.
	//
	// Thread Safety: Safe for concurrent use.
	RecordRun(ctx context.Context, data *RunData) error

	// RecordError records an error event.
	//
	// Inputs:
	//   - ctx: Context for cancellation. Must not be nil.
	//   - data: Error event. Must not be nil.
	//
	// Thread Safety: Safe for concurrent use.
	RecordError(ctx context.Context, data *ErrorData) error

	// Flush ensures all buffered data is exported. Called automatically
	// on Close(), but can be called explicitly for immediate export.
	//
	// Thread Safety: Safe for concurrent use.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending data. After Close(),
	// all recording methods return ErrSinkClosed.
	//
	// Thread Safety: Safe for concurrent use. Idempotent.
	Close() error
}

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// Case generation outcomes.
const (
	OutcomeGenerated = "generated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Evaluation results.
const (
	ResultPass  = "pass"
	ResultFail  = "fail"
	ResultError = "error"
)

// CaseData describes one test case generation event.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type CaseData struct {
	// Category is the test family (robustness, bias, accuracy).
	Category string

	// TestType is the test identifier (e.g. "uppercase").
	TestType string

	// Outcome is one of OutcomeGenerated, OutcomeSkipped, OutcomeFailed.
	Outcome string
}

// EvaluationData describes one evaluated test case.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type EvaluationData struct {
	// Category is the test family.
	Category string

	// TestType is the test identifier.
	TestType string

	// Result is one of ResultPass, ResultFail, ResultError.
	Result string

	// ModelLatency is the time the model call took (zero when the call
	// never happened).
	ModelLatency time.Duration
}

// RunData describes a completed run.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type RunData struct {
	// RunID is the run identifier. Not used as a metric label.
	RunID string

	// Task is the task under test ("ner" or "text-classification").
	Task string

	// Duration is the wall-clock run duration.
	Duration time.Duration

	// Cases is the number of evaluated test cases.
	Cases int

	// PassRates maps test type to its pass rate (0.0-1.0).
	PassRates map[string]float64
}

// ErrorData describes an error event.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type ErrorData struct {
	// Component is the component that produced the error.
	Component string

	// Operation is the operation that failed.
	Operation string

	// ErrorType categorizes the error (e.g. "timeout", "model", "config").
	ErrorType string

	// Message is the error message (should not contain sample text).
	Message string
}

// -----------------------------------------------------------------------------
// Composite Sink
// -----------------------------------------------------------------------------

// CompositeSink multiplexes telemetry to multiple sinks.
//
// Description:
//
//	CompositeSink sends telemetry to multiple backends simultaneously.
//	Errors from individual sinks are collected and joined; one sink's
//	failure does not prevent others from receiving the data.
//
// Thread Safety: Safe for concurrent use.
type CompositeSink struct {
	sinks  []Sink
	mu     sync.RWMutex
	closed bool
}

// NewCompositeSink creates a sink that forwards to all children.
//
// Outputs:
//   - *CompositeSink: The created sink. Never nil on success.
//   - error: ErrNoSinks if no non-nil sinks were provided.
func NewCompositeSink(sinks ...Sink) (*CompositeSink, error) {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoSinks
	}
	return &CompositeSink{sinks: valid}, nil
}

// forward runs fn against every child sink and joins the errors.
func (c *CompositeSink) forward(fn func(Sink) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrSinkClosed
	}
	sinks := c.sinks
	c.mu.RUnlock()

	var errs []error
	for _, sink := range sinks {
		if err := fn(sink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordCase forwards the event to all child sinks.
func (c *CompositeSink) RecordCase(ctx context.Context, data *CaseData) error {
	if ctx == nil {
		return ErrNilContext
	}
	if data == nil {
		return ErrNilData
	}
	return c.forward(func(s Sink) error { return s.RecordCase(ctx, data) })
}

// RecordEvaluation forwards the result to all child sinks.
func (c *CompositeSink) RecordEvaluation(ctx context.Context, data *EvaluationData) error {
	if ctx == nil {
		return ErrNilContext
	}
	if data == nil {
		return ErrNilData
	}
	return c.forward(func(s Sink) error { return s.RecordEvaluation(ctx, data) })
}

// RecordRun forwards the summary to all child sinks.
func (c *CompositeSink) RecordRun(ctx context.Context, data *RunData) error {
	if ctx == nil {
		return ErrNilContext
	}
	if data == nil {
		return ErrNilData
	}
	return c.forward(func(s Sink) error { return s.RecordRun(ctx, data) })
}

// RecordError forwards the error to all child sinks.
func (c *CompositeSink) RecordError(ctx context.Context, data *ErrorData) error {
	if ctx == nil {
		return ErrNilContext
	}
	if data == nil {
		return ErrNilData
	}
	return c.forward(func(s Sink) error { return s.RecordError(ctx, data) })
}

// Flush flushes all child sinks concurrently.
func (c *CompositeSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrSinkClosed
	}
	sinks := c.sinks
	c.mu.RUnlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(sinks))

	for _, sink := range sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Flush(ctx); err != nil {
				errChan <- err
			}
		}(sink)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes all child sinks. Idempotent.
func (c *CompositeSink) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sinks := c.sinks
	c.mu.Unlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// No-Op Sink
// -----------------------------------------------------------------------------

// NoOpSink is a sink that discards all data. Useful for tests and as a
// default when no telemetry is configured.
//
// Thread Safety: Safe for concurrent use.
type NoOpSink struct{}

// NewNoOpSink creates a sink that accepts but discards all telemetry.
func NewNoOpSink() *NoOpSink {
	return &NoOpSink{}
}

// RecordCase discards the event.
func (n *NoOpSink) RecordCase(ctx context.Context, data *CaseData) error {
	if ctx == nil {
		return ErrNilContext
	}
	if data == nil {
		return ErrNilData
	}
	return nil
}

// RecordEvaluation discards the result.
func (n *NoOpSink) RecordEvaluation(ctx context.Context, data *EvaluationData) error {
	if ctx == nil {
		return ErrNilContext
	}
	if data == nil {
		return ErrNilData
	}
	return nil
}

// RecordRun discards the summary.
func (n *NoOpSink) RecordRun(ctx context.Context, data *RunData) error {
	if ctx == nil {
		return ErrNilContext
	}
	if data == nil {
		return ErrNilData
	}
	return nil
}

// RecordError discards the error.
func (n *NoOpSink) RecordError(ctx context.Context, data *ErrorData) error {
	if ctx == nil {
		return ErrNilContext
	}
	if data == nil {
		return ErrNilData
	}
	return nil
}

// Flush does nothing.
func (n *NoOpSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// Close does nothing.
func (n *NoOpSink) Close() error {
	return nil
}

// Verify interface compliance at compile time.
var (
	_ Sink = (*CompositeSink)(nil)
	_ Sink = (*NoOpSink)(nil)
)
