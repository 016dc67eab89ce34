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

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// sampleValidate is the validator instance for input samples.
// Initialized in init() with custom validators.
var sampleValidate *validator.Validate

func init() {
	sampleValidate = validator.New()
	_ = sampleValidate.RegisterValidation("task", validateTask)
}

// validateTask accepts the canonical task names and their aliases.
func validateTask(fl validator.FieldLevel) bool {
	_, err := ParseTask(fl.Field().String())
	return err == nil
}

// Sample is one row of an input dataset: a text plus its gold
// annotation for the dataset's task. Exactly one of Entities or Labels
// is populated, matching Task.
type Sample struct {
	// ID identifies the sample within its dataset. Loaders assign
	// sequential ids (doc index, row number) when the source has none.
	ID string `json:"id" yaml:"id"`

	// Text is the original, unperturbed input.
	Text string `json:"text" yaml:"text" validate:"required"`

	// Task selects which gold annotation field applies.
	Task Task `json:"task" yaml:"task" validate:"required,task"`

	// Entities holds gold entity mentions for NER samples.
	Entities NEROutput `json:"entities,omitempty" yaml:"entities,omitempty"`

	// Labels holds the gold label for classification samples.
	Labels SequenceClassificationOutput `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Expected returns the gold annotation as an Output for the sample's
// task. NER samples with no entities return an empty NEROutput, which
// compares equal to a model predicting nothing.
func (s Sample) Expected() Output {
	switch s.Task {
	case TaskTextClassification:
		return s.Labels
	default:
		return s.Entities
	}
}

// Validate checks structural validity. Loaders call this per row so a
// malformed source fails at load time, not mid run.
func (s Sample) Validate() error {
	if err := sampleValidate.Struct(s); err != nil {
		return fmt.Errorf("invalid sample %q: %w", s.ID, err)
	}
	return nil
}
