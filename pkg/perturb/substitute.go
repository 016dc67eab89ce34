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
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// NamedEntitySubstituter replaces person mentions with names drawn
// from a cultural name dictionary.
//
// Person mentions come from the sample's gold entities when present;
// otherwise capitalized tokens matching the embedded first name
// lexicon are used. Every occurrence of the same mention gets the
// same replacement within one text, so coreferent mentions stay
// coreferent after substitution.
type NamedEntitySubstituter struct {
	// Dictionary selects an embedded name list.
	Dictionary Dictionary

	// Names overrides the embedded list when non-empty. Used for
	// custom replacement pools.
	Names []string
}

var _ Perturber = (*NamedEntitySubstituter)(nil)

// Perturb implements Perturber.
func (s *NamedEntitySubstituter) Perturb(rng *rand.Rand, sample datatypes.Sample, params map[string]any) (Result, error) {
	perturbed, edits, err := s.Substitute(rng, sample.Text, sample.Entities)
	if err != nil {
		return Result{}, fmt.Errorf("sample %s: %w", sample.ID, err)
	}
	return Result{Perturbed: perturbed, SpanMap: edits}, nil
}

// Substitute rewrites all person mentions in text.
//
// # Description
//
// Eligible spans are located first; with none found the text is left
// alone and ErrNoEligibleSpans is returned. Replacements are drawn
// from the dictionary with rng, binding each distinct mention to one
// name on first occurrence. A mention is never replaced with itself
// unless the dictionary offers no alternative.
//
// # Inputs
//
//   - rng: deterministic random source
//   - text: the original sample text
//   - entities: gold annotation, may be nil
//
// # Outputs
//
//   - string: the rewritten text
//   - []datatypes.Transformation: one edit per replaced span, in text order
//   - error: ErrNoEligibleSpans or ErrUnknownDictionary
func (s *NamedEntitySubstituter) Substitute(rng *rand.Rand, text string, entities datatypes.NEROutput) (string, []datatypes.Transformation, error) {
	pool, err := s.pool()
	if err != nil {
		return "", nil, err
	}

	spans := personSpans(text, entities)
	if len(spans) == 0 {
		return "", nil, fmt.Errorf("%w: no person mention found", ErrNoEligibleSpans)
	}

	bindings := make(map[string]string)
	var edits []datatypes.Transformation
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		replacement, bound := bindings[sp.Word]
		if !bound {
			replacement = pickName(rng, pool, sp.Word)
			bindings[sp.Word] = replacement
		}
		b.WriteString(text[last:sp.Start])
		newStart := b.Len()
		b.WriteString(replacement)
		edits = append(edits, datatypes.Transformation{
			Original: sp,
			New:      datatypes.Span{Start: newStart, End: newStart + len(replacement), Word: replacement},
		})
		last = sp.End
	}
	b.WriteString(text[last:])
	return b.String(), edits, nil
}

func (s *NamedEntitySubstituter) pool() ([]string, error) {
	if len(s.Names) > 0 {
		return s.Names, nil
	}
	return Names(s.Dictionary)
}

// pickName draws a replacement that differs from the original
// mention. With a single-name pool the sole name is used even when it
// matches, keeping the draw deterministic.
func pickName(rng *rand.Rand, pool []string, original string) string {
	candidates := make([]string, 0, len(pool))
	for _, name := range pool {
		if !strings.EqualFold(name, original) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		candidates = pool
	}
	return candidates[rng.Intn(len(candidates))]
}

// personSpans locates person mentions in text.
//
// Gold person entities win when any exist; their offsets are trusted
// but bounds checked against the text. Without gold entities,
// capitalized tokens matching the first name lexicon are used.
// Returned spans are sorted by start with overlaps dropped.
func personSpans(text string, entities datatypes.NEROutput) []datatypes.Span {
	var spans []datatypes.Span
	for _, p := range entities {
		if !isPersonLabel(p.Entity) {
			continue
		}
		if p.Start < 0 || p.End > len(text) || p.Start >= p.End {
			continue
		}
		spans = append(spans, datatypes.Span{Start: p.Start, End: p.End, Word: text[p.Start:p.End]})
	}

	if len(spans) == 0 {
		for _, tok := range Tokenize(text) {
			if isCapitalized(tok.Word) && isCommonFirstName(tok.Word) {
				spans = append(spans, tok)
			}
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	out := spans[:0]
	prevEnd := -1
	for _, sp := range spans {
		if sp.Start < prevEnd {
			continue
		}
		out = append(out, sp)
		prevEnd = sp.End
	}
	return out
}

// isPersonLabel matches person entity labels across tagging schemes:
// PER and PERSON, with or without IOB prefixes.
func isPersonLabel(entity string) bool {
	label := strings.ToUpper(entity)
	label = strings.TrimPrefix(label, "B-")
	label = strings.TrimPrefix(label, "I-")
	return label == "PER" || label == "PERSON"
}

func isCapitalized(word string) bool {
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsUpper(r)
}
