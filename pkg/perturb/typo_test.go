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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTypo_ChangesOnlyLetters(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog."
	res, err := addTypo(testRNG(), nerSample(text), map[string]any{ParamCount: 3})
	require.NoError(t, err)

	require.Len(t, res.Perturbed, len(text))
	assert.NotEqual(t, text, res.Perturbed)
	assert.Empty(t, res.SpanMap)

	for i := 0; i < len(text); i++ {
		if text[i] == res.Perturbed[i] {
			continue
		}
		assert.True(t, isASCIILetter(text[i]), "changed non-letter at %d", i)
		assert.True(t, isASCIILetter(res.Perturbed[i]), "wrote non-letter at %d", i)
	}
}

func TestAddTypo_Deterministic(t *testing.T) {
	sample := nerSample("the quick brown fox jumps over the lazy dog.")

	first, err := addTypo(testRNG(), sample, nil)
	require.NoError(t, err)
	second, err := addTypo(testRNG(), sample, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Perturbed, second.Perturbed)
}

func TestAddTypo_NoLetters(t *testing.T) {
	_, err := addTypo(testRNG(), nerSample("1234 5678 !?"), nil)
	assert.ErrorIs(t, err, ErrNoEligibleSpans)
}

func TestWeightedTypoChar_NeverSelf(t *testing.T) {
	rng := testRNG()
	for c := byte('a'); c <= 'z'; c++ {
		for i := 0; i < 50; i++ {
			got := weightedTypoChar(rng, c)
			assert.NotEqual(t, c, got)
			assert.True(t, got >= 'a' && got <= 'z')
		}
	}
}

func TestWeightedTypoChar_FollowsFrequency(t *testing.T) {
	// 'a' is overwhelmingly mistyped as 's' in the frequency table;
	// over many draws 's' must dominate.
	rng := testRNG()
	counts := make(map[byte]int)
	for i := 0; i < 2000; i++ {
		counts[weightedTypoChar(rng, 'a')]++
	}
	for c, n := range counts {
		if c == 's' {
			continue
		}
		assert.Greater(t, counts['s'], n, "expected 's' to outnumber %q", c)
	}
}
