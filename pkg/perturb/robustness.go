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
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// =============================================================================
// Case Transforms
// =============================================================================

func upperCase(_ *rand.Rand, sample datatypes.Sample, _ map[string]any) (Result, error) {
	return caseMapped(sample.Text, strings.ToUpper)
}

func lowerCase(_ *rand.Rand, sample datatypes.Sample, _ map[string]any) (Result, error) {
	return caseMapped(sample.Text, strings.ToLower)
}

func titleCase(_ *rand.Rand, sample datatypes.Sample, _ map[string]any) (Result, error) {
	return caseMapped(sample.Text, titleWord)
}

// titleWord uppercases the first letter and lowercases the rest.
func titleWord(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if size == 0 {
		return word
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}

// caseMapped applies a case mapping token by token, recording an edit
// only for tokens whose byte length changed. Length stable tokens
// need no entry: downstream span remapping shifts offsets by the
// recorded deltas alone.
func caseMapped(text string, mapper func(string) string) (Result, error) {
	var b strings.Builder
	var edits []datatypes.Transformation
	last := 0
	for _, tok := range Tokenize(text) {
		b.WriteString(text[last:tok.Start])
		mapped := mapper(tok.Word)
		newStart := b.Len()
		b.WriteString(mapped)
		if len(mapped) != len(tok.Word) {
			edits = append(edits, datatypes.Transformation{
				Original: tok,
				New:      datatypes.Span{Start: newStart, End: newStart + len(mapped), Word: mapped},
			})
		}
		last = tok.End
	}
	b.WriteString(text[last:])

	out := b.String()
	if out == text {
		return Result{}, fmt.Errorf("%w: text already in target case", ErrNoEligibleSpans)
	}
	return Result{Perturbed: out, SpanMap: edits}, nil
}

// =============================================================================
// Punctuation
// =============================================================================

func addPunctuation(rng *rand.Rand, sample datatypes.Sample, params map[string]any) (Result, error) {
	whitelist := stringsParam(params, ParamWhitelist)
	if len(whitelist) == 0 {
		whitelist = defaultPunctuation
	}
	text := sample.Text
	if text == "" || endsWithAny(text, whitelist) {
		return Result{}, fmt.Errorf("%w: text already ends with punctuation", ErrNoEligibleSpans)
	}

	mark := whitelist[rng.Intn(len(whitelist))]
	return Result{
		Perturbed: text + mark,
		SpanMap: []datatypes.Transformation{{
			Original: datatypes.Span{Start: len(text), End: len(text), Word: ""},
			New:      datatypes.Span{Start: len(text), End: len(text) + len(mark), Word: mark},
		}},
	}, nil
}

func stripPunctuation(_ *rand.Rand, sample datatypes.Sample, params map[string]any) (Result, error) {
	whitelist := stringsParam(params, ParamWhitelist)
	if len(whitelist) == 0 {
		whitelist = defaultPunctuation
	}
	text := sample.Text
	mark, ok := trailingMark(text, whitelist)
	if !ok {
		return Result{}, fmt.Errorf("%w: no trailing punctuation", ErrNoEligibleSpans)
	}

	cut := len(text) - len(mark)
	// Drop the space left behind when the mark was padded, as in "end !".
	out := strings.TrimRight(text[:cut], " ")
	return Result{
		Perturbed: out,
		SpanMap: []datatypes.Transformation{{
			Original: datatypes.Span{Start: len(out), End: len(text), Word: text[len(out):]},
			New:      datatypes.Span{Start: len(out), End: len(out), Word: ""},
		}},
	}, nil
}

func endsWithAny(text string, marks []string) bool {
	_, ok := trailingMark(text, marks)
	return ok
}

func trailingMark(text string, marks []string) (string, bool) {
	for _, mark := range marks {
		if mark != "" && strings.HasSuffix(text, mark) {
			return mark, true
		}
	}
	return "", false
}

// =============================================================================
// Context
// =============================================================================

func addContext(rng *rand.Rand, sample datatypes.Sample, params map[string]any) (Result, error) {
	starts := stringsParam(params, ParamStartingContext)
	ends := stringsParam(params, ParamEndingContext)
	if len(starts) == 0 && len(ends) == 0 {
		return Result{}, fmt.Errorf("%w: no context snippets configured", ErrNoEligibleSpans)
	}

	var edits []datatypes.Transformation
	out := sample.Text

	if len(starts) > 0 {
		prefix := starts[rng.Intn(len(starts))] + " "
		out = prefix + out
		edits = append(edits, datatypes.Transformation{
			Original: datatypes.Span{Start: 0, End: 0, Word: ""},
			New:      datatypes.Span{Start: 0, End: len(prefix), Word: prefix},
		})
	}
	if len(ends) > 0 {
		suffix := " " + ends[rng.Intn(len(ends))]
		edits = append(edits, datatypes.Transformation{
			Original: datatypes.Span{Start: len(sample.Text), End: len(sample.Text), Word: ""},
			New:      datatypes.Span{Start: len(out), End: len(out) + len(suffix), Word: suffix},
		})
		out += suffix
	}

	return Result{Perturbed: out, SpanMap: edits}, nil
}

// =============================================================================
// Accuracy Placeholder
// =============================================================================

// identity backs the accuracy registry entries. Their test cases are
// built per label from aggregate metrics, so the per sample perturber
// is never invoked during generation; it returns the text unchanged
// for callers that do invoke it.
func identity(_ *rand.Rand, sample datatypes.Sample, _ map[string]any) (Result, error) {
	return Result{Perturbed: sample.Text}, nil
}
