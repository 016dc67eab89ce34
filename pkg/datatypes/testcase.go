// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Test categories. A test type belongs to exactly one category and the
// category decides how its cases are compared during evaluation.
const (
	// CategoryRobustness perturbs surface form; the model's output on
	// the perturbed text is compared against its own output on the
	// original.
	CategoryRobustness = "robustness"

	// CategoryBias substitutes demographic attributes; the output on
	// the perturbed text is compared against the remapped gold labels.
	CategoryBias = "bias"

	// CategoryAccuracy evaluates the unperturbed model against gold
	// labels under a metric threshold.
	CategoryAccuracy = "accuracy"
)

// AccuracyPlaceholder fills the perturbed-text column for accuracy
// cases, which evaluate the original text as-is.
const AccuracyPlaceholder = "-"

// TestCase is one generated behavioral test: an original text, its
// perturbed form, and the expected result carried forward (and
// remapped) from the sample's gold annotation. Cases are never mutated
// after generation.
type TestCase struct {
	ID              string           `json:"id" yaml:"id"`
	SampleID        string           `json:"sample_id" yaml:"sample_id"`
	Category        string           `json:"category" yaml:"category"`
	TestType        string           `json:"test_type" yaml:"test_type"`
	Original        string           `json:"original" yaml:"original"`
	Perturbed       string           `json:"test_case" yaml:"test_case"`
	Expected        Output           `json:"expected_result,omitempty" yaml:"expected_result,omitempty"`
	Transformations []Transformation `json:"transformations,omitempty" yaml:"transformations,omitempty"`
}

// EvaluationRecord pairs one TestCase with the model behavior observed
// for it. Exactly one record exists per evaluated case.
type EvaluationRecord struct {
	Case TestCase `json:"case" yaml:"case"`

	// ActualOriginal is the model's output on the original text. Only
	// populated for categories that compare against a fresh baseline
	// rather than stored gold labels.
	ActualOriginal Output `json:"actual_original,omitempty" yaml:"actual_original,omitempty"`

	// ActualPerturbed is the model's output on the perturbed text.
	// Nil when the model call failed.
	ActualPerturbed Output `json:"actual_result,omitempty" yaml:"actual_result,omitempty"`

	Pass bool `json:"pass" yaml:"pass"`

	// FailureReason is empty for passing records. Model errors and
	// timeouts land here so a failed call is distinguishable from a
	// wrong prediction.
	FailureReason string `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`

	// MetricValue and MetricThreshold are set for accuracy records,
	// where passing means a computed score cleared a floor rather
	// than two outputs matching.
	MetricValue     *float64 `json:"metric_value,omitempty" yaml:"metric_value,omitempty"`
	MetricThreshold *float64 `json:"metric_threshold,omitempty" yaml:"metric_threshold,omitempty"`
}
