// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

func TestWhitespaceTokens(t *testing.T) {
	spans := whitespaceTokens("  hello   world ")
	require.Len(t, spans, 2)
	assert.Equal(t, datatypes.Span{Start: 2, End: 7, Word: "hello"}, spans[0])
	assert.Equal(t, datatypes.Span{Start: 10, End: 15, Word: "world"}, spans[1])

	assert.Empty(t, whitespaceTokens(""))
	assert.Empty(t, whitespaceTokens("   "))

	single := whitespaceTokens("one")
	require.Len(t, single, 1)
	assert.Equal(t, datatypes.Span{Start: 0, End: 3, Word: "one"}, single[0])
}

func TestWhitespaceTokens_KeepsPunctuation(t *testing.T) {
	spans := whitespaceTokens("U.S. opens talks .")
	require.Len(t, spans, 4)
	assert.Equal(t, "U.S.", spans[0].Word)
	assert.Equal(t, ".", spans[3].Word)
}

func TestConfusion_PerLabel(t *testing.T) {
	c := newConfusion(
		[]string{"A", "A", "B", "O"},
		[]string{"A", "B", "B", "B"},
	)

	assert.Equal(t, []string{"A", "B"}, c.labels)

	assert.InDelta(t, 1.0, c.precision("A"), 1e-9)
	assert.InDelta(t, 0.5, c.recall("A"), 1e-9)
	assert.InDelta(t, 2.0/3.0, c.f1("A"), 1e-9)

	assert.InDelta(t, 1.0/3.0, c.precision("B"), 1e-9)
	assert.InDelta(t, 1.0, c.recall("B"), 1e-9)
	assert.InDelta(t, 0.5, c.f1("B"), 1e-9)
}

func TestConfusion_Aggregates(t *testing.T) {
	c := newConfusion(
		[]string{"A", "A", "B", "O"},
		[]string{"A", "B", "B", "B"},
	)

	// Pooled: tp=2, fp=2, fn=1.
	assert.InDelta(t, 4.0/7.0, c.microF1(), 1e-9)
	assert.InDelta(t, 7.0/12.0, c.macroF1(), 1e-9)
	// Supports: A=2, B=1.
	assert.InDelta(t, 11.0/18.0, c.weightedF1(), 1e-9)
}

func TestConfusion_Empty(t *testing.T) {
	c := newConfusion(nil, nil)

	assert.Empty(t, c.labels)
	assert.Zero(t, c.precision("A"))
	assert.Zero(t, c.recall("A"))
	assert.Zero(t, c.f1("A"))
	assert.Zero(t, c.microF1())
	assert.Zero(t, c.macroF1())
	assert.Zero(t, c.weightedF1())
}

func TestConfusion_SpuriousLabelCostsMicro(t *testing.T) {
	// The model predicts a label that never occurs in gold. Per label
	// metrics over gold labels miss it, but micro must count the
	// false positive.
	c := newConfusion([]string{"A"}, []string{"C"})

	assert.Equal(t, []string{"A"}, c.labels)
	assert.Zero(t, c.f1("A"))
	assert.Zero(t, c.microF1())
	assert.Equal(t, []string{"A", "C"}, c.unionLabels())
}

func TestConfusion_BackgroundExcluded(t *testing.T) {
	// All-background agreement contributes nothing to the metrics.
	c := newConfusion([]string{"O", "O", "A"}, []string{"O", "O", "A"})

	assert.Equal(t, []string{"A"}, c.labels)
	assert.InDelta(t, 1.0, c.microF1(), 1e-9)
	assert.InDelta(t, 1.0, c.macroF1(), 1e-9)
	assert.InDelta(t, 1.0, c.weightedF1(), 1e-9)
}

func TestConfusion_MetricDispatch(t *testing.T) {
	c := newConfusion([]string{"A", "B"}, []string{"A", "A"})

	assert.InDelta(t, c.precision("A"), c.metric("min_precision_score", "A"), 1e-9)
	assert.InDelta(t, c.recall("B"), c.metric("min_recall_score", "B"), 1e-9)
	assert.InDelta(t, c.f1("A"), c.metric("min_f1_score", "A"), 1e-9)
	assert.InDelta(t, c.microF1(), c.metric("min_micro_f1_score", "micro"), 1e-9)
	assert.InDelta(t, c.macroF1(), c.metric("min_macro_f1_score", "macro"), 1e-9)
	assert.InDelta(t, c.weightedF1(), c.metric("min_weighted_f1_score", "weighted"), 1e-9)

	// Unknown per label test types score as F1.
	assert.InDelta(t, c.f1("A"), c.metric("min_custom_score", "A"), 1e-9)
}

func TestAlignLabels_NER(t *testing.T) {
	s := datatypes.Sample{
		ID:       "s1",
		Text:     "anna met bob",
		Task:     datatypes.TaskNER,
		Entities: ner(ent("B-PER", 0, 4, "anna"), ent("B-PER", 9, 12, "bob")),
	}
	pred := ner(ent("B-PER", 0, 4, "anna"), ent("B-LOC", 5, 8, "met"))

	yTrue, yPred := alignLabels(s, pred)
	assert.Equal(t, []string{"B-PER", "O", "B-PER"}, yTrue)
	assert.Equal(t, []string{"B-PER", "B-LOC", "O"}, yPred)
}

func TestAlignLabels_NERNoPrediction(t *testing.T) {
	s := datatypes.Sample{
		ID:       "s1",
		Text:     "x y",
		Task:     datatypes.TaskNER,
		Entities: ner(),
	}

	yTrue, yPred := alignLabels(s, datatypes.NEROutput{})
	assert.Equal(t, []string{"O", "O"}, yTrue)
	assert.Equal(t, []string{"O", "O"}, yPred)
}

func TestAlignLabels_Classification(t *testing.T) {
	s := datatypes.Sample{
		ID:     "s1",
		Text:   "great",
		Task:   datatypes.TaskTextClassification,
		Labels: cls("positive"),
	}

	yTrue, yPred := alignLabels(s, cls("negative"))
	assert.Equal(t, []string{"positive"}, yTrue)
	assert.Equal(t, []string{"negative"}, yPred)

	// An empty prediction pairs the gold label with an empty string,
	// which can never match.
	yTrue, yPred = alignLabels(s, datatypes.SequenceClassificationOutput{})
	assert.Equal(t, []string{"positive"}, yTrue)
	assert.Equal(t, []string{""}, yPred)
}

func TestAlignLabels_ClassificationNoGold(t *testing.T) {
	s := datatypes.Sample{
		ID:   "s1",
		Text: "unlabeled",
		Task: datatypes.TaskTextClassification,
	}

	yTrue, yPred := alignLabels(s, cls("positive"))
	assert.Empty(t, yTrue)
	assert.Empty(t, yPred)
}
