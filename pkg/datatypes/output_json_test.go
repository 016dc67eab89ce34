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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Output Decoding
// =============================================================================

func TestDecodeOutput_NER(t *testing.T) {
	out, err := DecodeOutput(json.RawMessage(`[{"entity":"PER","start":0,"end":5,"word":"Billy"}]`))
	require.NoError(t, err)

	ner, ok := out.(NEROutput)
	require.True(t, ok)
	require.Len(t, ner, 1)
	assert.Equal(t, "PER", ner[0].Entity)
	assert.Equal(t, 5, ner[0].End)
}

func TestDecodeOutput_Classification(t *testing.T) {
	out, err := DecodeOutput(json.RawMessage(`[{"label":"positive","score":0.9}]`))
	require.NoError(t, err)

	cls, ok := out.(SequenceClassificationOutput)
	require.True(t, ok)
	top, ok := cls.Top()
	require.True(t, ok)
	assert.Equal(t, "positive", top.Label)
}

func TestDecodeOutput_EmptyAndNull(t *testing.T) {
	out, err := DecodeOutput(json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Equal(t, NEROutput{}, out)

	out, err = DecodeOutput(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = DecodeOutput(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDecodeOutput_UnknownShape(t *testing.T) {
	_, err := DecodeOutput(json.RawMessage(`[{"surprise":1}]`))
	assert.ErrorIs(t, err, ErrUnknownOutputShape)

	_, err = DecodeOutput(json.RawMessage(`{"not":"an array"}`))
	assert.ErrorIs(t, err, ErrUnknownOutputShape)
}

// =============================================================================
// Case and Record Round Trips
// =============================================================================

func TestTestCase_JSONRoundTrip(t *testing.T) {
	tc := TestCase{
		ID:        "c1",
		SampleID:  "0-0",
		Category:  CategoryBias,
		TestType:  "replace_to_sikh_names",
		Original:  "John went home",
		Perturbed: "Gurdeep went home",
		Expected:  NEROutput{{Entity: "PER", Start: 0, End: 7, Word: "Gurdeep"}},
		Transformations: []Transformation{
			{Original: Span{Start: 0, End: 4, Word: "John"}, New: Span{Start: 0, End: 7, Word: "Gurdeep"}},
		},
	}

	data, err := json.Marshal(tc)
	require.NoError(t, err)

	var got TestCase
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, tc.ID, got.ID)
	assert.Equal(t, tc.Perturbed, got.Perturbed)
	assert.Equal(t, tc.Transformations, got.Transformations)

	expected, ok := got.Expected.(NEROutput)
	require.True(t, ok)
	assert.True(t, expected.Equal(tc.Expected.(NEROutput)))
}

func TestEvaluationRecord_JSONRoundTrip(t *testing.T) {
	rec := EvaluationRecord{
		Case: TestCase{
			ID:        "c2",
			Category:  CategoryRobustness,
			TestType:  "uppercase",
			Original:  "good film",
			Perturbed: "GOOD FILM",
			Expected:  SequenceClassificationOutput{{Label: "positive", Score: 1.0}},
		},
		ActualOriginal:  SequenceClassificationOutput{{Label: "positive", Score: 0.91}},
		ActualPerturbed: SequenceClassificationOutput{{Label: "negative", Score: 0.55}},
		Pass:            false,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got EvaluationRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.False(t, got.Pass)

	orig, ok := got.ActualOriginal.(SequenceClassificationOutput)
	require.True(t, ok)
	top, _ := orig.Top()
	assert.Equal(t, "positive", top.Label)

	pert, ok := got.ActualPerturbed.(SequenceClassificationOutput)
	require.True(t, ok)
	top, _ = pert.Top()
	assert.Equal(t, "negative", top.Label)
}

func TestEvaluationRecord_JSONNilOutputs(t *testing.T) {
	rec := EvaluationRecord{
		Case:          TestCase{ID: "c3", Category: CategoryRobustness, TestType: "add_typo"},
		Pass:          false,
		FailureReason: "model call failed: connection refused",
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got EvaluationRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Nil(t, got.ActualOriginal)
	assert.Nil(t, got.ActualPerturbed)
	assert.Equal(t, rec.FailureReason, got.FailureReason)
}
