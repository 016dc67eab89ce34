// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data structures for the Tern
// behavioral test harness.
//
// This file contains the task taxonomy and the character-span primitives
// that every perturbation builds on. Model output types live in output.go,
// input samples in sample.go, and generated test cases in testcase.go.
package datatypes

import (
	"fmt"
	"sort"
)

// =============================================================================
// Tasks
// =============================================================================

// Task identifies the NLP task a model under test performs.
type Task string

const (
	// TaskNER is token-level named entity recognition.
	TaskNER Task = "ner"

	// TaskTextClassification is whole-sequence label classification.
	TaskTextClassification Task = "text-classification"
)

// ParseTask converts a user-supplied task name into a Task.
// Accepts the canonical names plus the common aliases seen in configs.
func ParseTask(s string) (Task, error) {
	switch s {
	case "ner", "NER", "token-classification":
		return TaskNER, nil
	case "text-classification", "classification", "sequence-classification":
		return TaskTextClassification, nil
	default:
		return "", fmt.Errorf("unknown task %q (want %q or %q)", s, TaskNER, TaskTextClassification)
	}
}

// Valid reports whether t is one of the supported tasks.
func (t Task) Valid() bool {
	return t == TaskNER || t == TaskTextClassification
}

// =============================================================================
// Spans and Transformations
// =============================================================================

// Span is a half-open [Start, End) character offset range in a text,
// together with the surface form found there.
type Span struct {
	Start int    `json:"start" yaml:"start"`
	End   int    `json:"end" yaml:"end"`
	Word  string `json:"word" yaml:"word"`
}

// Len returns the character length of the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// SameOffsets reports whether two spans cover the same offset range,
// ignoring the surface form.
func (s Span) SameOffsets(other Span) bool {
	return s.Start == other.Start && s.End == other.End
}

// Transformation records a single text edit made by a perturbation:
// the span in the original text and the span that replaced it in the
// perturbed text.
type Transformation struct {
	Original Span `json:"original" yaml:"original"`
	New      Span `json:"new" yaml:"new"`
}

// Delta returns the length change this edit introduced.
func (t Transformation) Delta() int {
	return t.New.Len() - t.Original.Len()
}

// RemapSpan translates a span anchored in the original text into the
// coordinate space of the perturbed text described by spanMap.
//
// # Description
//
// A span that exactly matches a transformed region takes that region's
// new offsets and surface form. Any other span keeps its surface form
// and shifts by the accumulated length delta of every edit that ended
// at or before its start. Edits never overlap, so this covers every
// span a well-formed perturbation can produce.
//
// # Inputs
//
//   - s: span in original-text coordinates
//   - spanMap: edits made by the perturbation, in any order
//
// # Outputs
//
//   - Span: the equivalent span in perturbed-text coordinates
func RemapSpan(s Span, spanMap []Transformation) Span {
	if len(spanMap) == 0 {
		return s
	}
	edits := make([]Transformation, len(spanMap))
	copy(edits, spanMap)
	sort.Slice(edits, func(i, j int) bool {
		return edits[i].Original.Start < edits[j].Original.Start
	})

	shift := 0
	for _, t := range edits {
		if t.Original.SameOffsets(s) {
			return t.New
		}
		if t.Original.End <= s.Start {
			shift += t.Delta()
		}
	}
	return Span{Start: s.Start + shift, End: s.End + shift, Word: s.Word}
}
