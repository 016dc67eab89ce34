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
	"fmt"
	"math/rand"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// typoFrequency holds observed keyboard substitution counts: for each
// lowercase letter, how often typists hit each of the 26 letters in
// its place. Index 0 is 'a'. Unobserved substitutions carry weight 1
// so every letter stays reachable.
var typoFrequency = map[byte][26]int{
	'a': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 594, 1, 42401, 1, 1, 1, 10893, 3882, 1, 3062},
	'b': {1, 1, 1, 1, 1, 16112, 21182, 10826, 1, 1, 1, 1, 1, 19375, 1, 1, 1, 1, 1, 1, 1, 6146, 1, 1, 1, 1},
	'c': {1, 1, 1, 19151, 1, 15124, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 37974, 1, 1, 7444, 1, 1, 1, 1},
	'd': {1, 1, 1, 1, 39499, 16091, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 64063, 80813, 1, 1, 7848, 10614, 2018, 1, 1},
	'e': {1, 1, 1, 1, 1, 17080, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 76503, 75665, 1, 1, 1, 13193, 1, 1, 1},
	'f': {1, 1, 1, 1, 1, 1, 13344, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 18722, 1, 20980, 1, 5822, 1, 1, 1, 1},
	'g': {1, 1, 1, 1, 1, 1, 1, 10144, 1, 1, 1, 1, 1, 23414, 1, 1, 1, 22092, 1, 30296, 1, 5093, 1, 1, 5295, 1},
	'h': {1, 1, 1, 1, 1, 1, 1, 1, 1, 2663, 1, 1, 11486, 11859, 1, 1, 1, 1, 1, 23856, 10462, 1, 1, 1, 1, 1},
	'i': {1, 1, 1, 1, 1, 1, 1, 1, 1, 699, 9983, 40985, 1, 1, 82987, 1, 1, 1, 1, 1, 63669, 1, 1, 1, 1, 1},
	'j': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1248, 1, 3464, 2011, 1, 1, 1, 1, 1, 1, 568, 1, 1, 1, 1, 1},
	'k': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 14651, 8496, 1, 8366, 1, 1, 1, 1, 1, 5455, 1, 1, 1, 1, 1},
	'l': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 43713, 30126, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	'm': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 23433, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	'n': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	'o': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 18072, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	'p': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	'q': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 2041, 1, 1, 1, 728, 1, 1, 1},
	'r': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 54571, 1, 1, 1, 1, 1, 1},
	's': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 17079, 3613, 1, 7300},
	't': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 13286, 1},
	'u': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 6783, 1},
	'v': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	'w': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	'x': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 516},
	'y': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	'z': {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
}

// swapChance is the probability a typo transposes two adjacent
// letters instead of substituting one.
const swapChance = 0.1

// addTypo introduces count keyboard typos. Each typo either swaps two
// adjacent letters or replaces a letter with a frequency weighted
// neighbor, preserving case. Text length never changes, so the span
// map stays empty.
func addTypo(rng *rand.Rand, sample datatypes.Sample, params map[string]any) (Result, error) {
	count := intParam(params, ParamCount, 1)
	text := sample.Text

	var eligible []int
	for i := 0; i < len(text); i++ {
		if isASCIILetter(text[i]) {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return Result{}, fmt.Errorf("%w: no letters to mistype", ErrNoEligibleSpans)
	}

	buf := []byte(text)
	for n := 0; n < count; n++ {
		pos := eligible[rng.Intn(len(eligible))]
		if rng.Float64() < swapChance && pos+1 < len(buf) && isASCIILetter(buf[pos+1]) {
			buf[pos], buf[pos+1] = buf[pos+1], buf[pos]
			continue
		}
		replacement := weightedTypoChar(rng, lowerASCII(buf[pos]))
		if isUpperASCII(buf[pos]) {
			replacement = upperASCII(replacement)
		}
		buf[pos] = replacement
	}

	out := string(buf)
	if out == text {
		// Possible when a swap transposed two equal letters.
		return Result{}, fmt.Errorf("%w: typo left text unchanged", ErrNoEligibleSpans)
	}
	return Result{Perturbed: out}, nil
}

// weightedTypoChar draws a replacement for c from its frequency row,
// never drawing c itself.
func weightedTypoChar(rng *rand.Rand, c byte) byte {
	row := typoFrequency[c]
	self := int(c - 'a')
	total := 0
	for i, w := range row {
		if i == self {
			continue
		}
		total += w
	}
	draw := rng.Intn(total)
	for i, w := range row {
		if i == self {
			continue
		}
		if draw < w {
			return byte('a' + i)
		}
		draw -= w
	}
	return c
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isUpperASCII(c byte) bool { return c >= 'A' && c <= 'Z' }

func lowerASCII(c byte) byte {
	if isUpperASCII(c) {
		return c + ('a' - 'A')
	}
	return c
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
