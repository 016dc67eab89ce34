// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package perturb

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// =============================================================================
// Entity Swaps
// =============================================================================

func TestSwapEntities(t *testing.T) {
	sample := nerSample("I love Paris.",
		datatypes.NERPrediction{Entity: "B-LOC", Start: 7, End: 12, Word: "Paris"})
	params := map[string]any{
		ParamTerminology: map[string][]string{"LOC": {"Paris", "London", "Berlin"}},
	}

	res, err := swapEntities(testRNG(), sample, params)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Perturbed, "I love "))
	assert.NotEqual(t, "I love Paris.", res.Perturbed)

	require.Len(t, res.SpanMap, 1)
	assert.Equal(t, datatypes.Span{Start: 7, End: 12, Word: "Paris"}, res.SpanMap[0].Original)
	assert.Contains(t, []string{"London", "Berlin"}, res.SpanMap[0].New.Word)

	gold := datatypes.NEROutput(sample.Entities)
	remapped := gold.Remap(res.SpanMap)
	require.Len(t, remapped, 1)
	assert.Equal(t, "B-LOC", remapped[0].Entity)
	assert.Equal(t, res.SpanMap[0].New.Word, remapped[0].Word)
	assert.Equal(t, res.SpanMap[0].New.Word, res.Perturbed[remapped[0].Start:remapped[0].End])
}

func TestSwapEntities_YAMLShapedTerminology(t *testing.T) {
	sample := nerSample("I love Paris.",
		datatypes.NERPrediction{Entity: "B-LOC", Start: 7, End: 12, Word: "Paris"})
	params := map[string]any{
		ParamTerminology: map[string]any{"LOC": []any{"London"}},
	}

	res, err := swapEntities(testRNG(), sample, params)
	require.NoError(t, err)
	assert.Equal(t, "I love London.", res.Perturbed)
}

func TestSwapEntities_Deterministic(t *testing.T) {
	sample := nerSample("I love Paris.",
		datatypes.NERPrediction{Entity: "B-LOC", Start: 7, End: 12, Word: "Paris"})
	params := map[string]any{
		ParamTerminology: map[string][]string{"LOC": {"London", "Berlin", "Madrid", "Rome"}},
	}

	first, err := swapEntities(testRNG(), sample, params)
	require.NoError(t, err)
	second, err := swapEntities(testRNG(), sample, params)
	require.NoError(t, err)
	assert.Equal(t, first.Perturbed, second.Perturbed)
}

func TestSwapEntities_MultiTokenMentionIneligible(t *testing.T) {
	sample := nerSample("New York is big.",
		datatypes.NERPrediction{Entity: "B-LOC", Start: 0, End: 3, Word: "New"},
		datatypes.NERPrediction{Entity: "I-LOC", Start: 4, End: 8, Word: "York"})
	params := map[string]any{
		ParamTerminology: map[string][]string{"LOC": {"Boston"}},
	}

	_, err := swapEntities(testRNG(), sample, params)
	assert.ErrorIs(t, err, ErrNoEligibleSpans)
}

func TestSwapEntities_NoAlternativeMention(t *testing.T) {
	sample := nerSample("I love Paris.",
		datatypes.NERPrediction{Entity: "B-LOC", Start: 7, End: 12, Word: "Paris"})
	params := map[string]any{
		ParamTerminology: map[string][]string{"LOC": {"Paris"}},
	}

	_, err := swapEntities(testRNG(), sample, params)
	assert.ErrorIs(t, err, ErrNoEligibleSpans)
}

func TestSwapEntities_MissingTerminology(t *testing.T) {
	sample := nerSample("I love Paris.",
		datatypes.NERPrediction{Entity: "B-LOC", Start: 7, End: 12, Word: "Paris"})

	_, err := swapEntities(testRNG(), sample, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoEligibleSpans))
}

// =============================================================================
// Terminology
// =============================================================================

func TestBuildTerminology(t *testing.T) {
	samples := []datatypes.Sample{
		nerSample("New York is big.",
			datatypes.NERPrediction{Entity: "B-LOC", Start: 0, End: 3, Word: "New"},
			datatypes.NERPrediction{Entity: "I-LOC", Start: 4, End: 8, Word: "York"}),
		nerSample("I love Paris.",
			datatypes.NERPrediction{Entity: "B-LOC", Start: 7, End: 12, Word: "Paris"}),
		nerSample("Billy visited Paris.",
			datatypes.NERPrediction{Entity: "B-PER", Start: 0, End: 5, Word: "Billy"},
			datatypes.NERPrediction{Entity: "B-LOC", Start: 14, End: 19, Word: "Paris"}),
	}

	terms := BuildTerminology(samples)

	assert.Equal(t, []string{"New York", "Paris"}, terms["LOC"])
	assert.Equal(t, []string{"Billy"}, terms["PER"])
}

func TestBuildTerminology_BareLabels(t *testing.T) {
	samples := []datatypes.Sample{
		nerSample("New York is big.",
			datatypes.NERPrediction{Entity: "LOC", Start: 0, End: 3, Word: "New"},
			datatypes.NERPrediction{Entity: "LOC", Start: 4, End: 8, Word: "York"}),
	}

	terms := BuildTerminology(samples)
	assert.Equal(t, []string{"New York"}, terms["LOC"])
}

func TestIOBChunks_SplitsOnOutside(t *testing.T) {
	sample := nerSample("Paris and Rome today.",
		datatypes.NERPrediction{Entity: "B-LOC", Start: 0, End: 5, Word: "Paris"},
		datatypes.NERPrediction{Entity: "O", Start: 6, End: 9, Word: "and"},
		datatypes.NERPrediction{Entity: "B-LOC", Start: 10, End: 14, Word: "Rome"})

	chunks := iobChunks(sample)
	require.Len(t, chunks, 2)
	assert.Equal(t, entityChunk{Label: "LOC", Start: 0, End: 5, Tokens: 1}, chunks[0])
	assert.Equal(t, entityChunk{Label: "LOC", Start: 10, End: 14, Tokens: 1}, chunks[1])
}
