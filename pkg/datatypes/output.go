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
	"strings"
)

// Output is a model prediction for a single input text. The two
// implementations are NEROutput and SequenceClassificationOutput;
// evaluation code selects comparison semantics through this interface
// without inspecting model internals.
type Output interface {
	// Task returns the task this output belongs to.
	Task() Task

	// Equal reports whether two outputs count as the same prediction
	// under the task's comparison semantics.
	Equal(other Output) bool

	// String renders the output for tabular export and logs.
	String() string
}

// =============================================================================
// Named Entity Recognition
// =============================================================================

// NERPrediction is one labeled entity mention.
type NERPrediction struct {
	Entity string `json:"entity" yaml:"entity"`
	Start  int    `json:"start" yaml:"start"`
	End    int    `json:"end" yaml:"end"`
	Word   string `json:"word" yaml:"word"`
}

// Span returns the prediction's offsets as a Span.
func (p NERPrediction) Span() Span {
	return Span{Start: p.Start, End: p.End, Word: p.Word}
}

// NEROutput is the full set of entity mentions a model predicted for
// one text.
type NEROutput []NERPrediction

// Task implements Output.
func (o NEROutput) Task() Task { return TaskNER }

// Equal implements Output for NER.
//
// # Description
//
// Two NER outputs are equal when they contain the same set of
// (start, end, entity) triples. Order and surface forms are ignored:
// offsets plus label are the identity of a mention, and duplicate
// triples collapse. This is strict span-and-label matching; there is
// no partial credit for overlapping spans.
func (o NEROutput) Equal(other Output) bool {
	no, ok := other.(NEROutput)
	if !ok {
		return false
	}
	type key struct {
		start, end int
		entity     string
	}
	set := func(preds NEROutput) map[key]struct{} {
		m := make(map[key]struct{}, len(preds))
		for _, p := range preds {
			m[key{p.Start, p.End, p.Entity}] = struct{}{}
		}
		return m
	}
	a, b := set(o), set(no)
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Remap translates every prediction through the given span map,
// producing the expected output for a perturbed text.
func (o NEROutput) Remap(spanMap []Transformation) NEROutput {
	if len(o) == 0 {
		return nil
	}
	out := make(NEROutput, 0, len(o))
	for _, p := range o {
		s := RemapSpan(p.Span(), spanMap)
		out = append(out, NERPrediction{Entity: p.Entity, Start: s.Start, End: s.End, Word: s.Word})
	}
	return out
}

// String renders predictions as "word: LABEL" pairs.
func (o NEROutput) String() string {
	if len(o) == 0 {
		return ""
	}
	parts := make([]string, 0, len(o))
	for _, p := range o {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Word, p.Entity))
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// Sequence Classification
// =============================================================================

// SequenceLabel is one candidate class with its score.
type SequenceLabel struct {
	Label string  `json:"label" yaml:"label"`
	Score float64 `json:"score" yaml:"score"`
}

// SequenceClassificationOutput is a model's label distribution for one
// text. Only the top-scoring label participates in equality.
type SequenceClassificationOutput []SequenceLabel

// Task implements Output.
func (o SequenceClassificationOutput) Task() Task { return TaskTextClassification }

// Top returns the highest-scoring label. Ties keep the earlier entry.
func (o SequenceClassificationOutput) Top() (SequenceLabel, bool) {
	if len(o) == 0 {
		return SequenceLabel{}, false
	}
	best := o[0]
	for _, l := range o[1:] {
		if l.Score > best.Score {
			best = l
		}
	}
	return best, true
}

// Equal implements Output for classification: the top labels must
// match. Two empty outputs are equal; an empty output never matches a
// non-empty one.
func (o SequenceClassificationOutput) Equal(other Output) bool {
	co, ok := other.(SequenceClassificationOutput)
	if !ok {
		return false
	}
	a, aok := o.Top()
	b, bok := co.Top()
	if aok != bok {
		return false
	}
	if !aok {
		return true
	}
	return a.Label == b.Label
}

// String renders the top label.
func (o SequenceClassificationOutput) String() string {
	top, ok := o.Top()
	if !ok {
		return ""
	}
	return top.Label
}

var (
	_ Output = (NEROutput)(nil)
	_ Output = (SequenceClassificationOutput)(nil)
)
