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
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// Tokenize splits text into word spans with byte offsets.
//
// A word is a maximal run of letters, digits, and interior
// apostrophes, so "O'Brien" and "don't" stay single tokens while
// quoted words shed their quotes. Offsets index into the original
// string.
func Tokenize(text string) []datatypes.Span {
	var spans []datatypes.Span
	start := -1
	for i, r := range text {
		if isWordRune(text, i, r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			spans = append(spans, makeSpan(text, start, i))
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, makeSpan(text, start, len(text)))
	}
	return spans
}

func makeSpan(text string, start, end int) datatypes.Span {
	// Trim apostrophes that ended up at the token edges.
	for start < end && text[start] == '\'' {
		start++
	}
	for end > start && text[end-1] == '\'' {
		end--
	}
	return datatypes.Span{Start: start, End: end, Word: text[start:end]}
}

func isWordRune(text string, i int, r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	if r != '\'' {
		return false
	}
	// Apostrophes join a word only when flanked by letters.
	prev, _ := utf8.DecodeLastRuneInString(text[:i])
	next, _ := utf8.DecodeRuneInString(text[i+1:])
	return unicode.IsLetter(prev) && unicode.IsLetter(next)
}
