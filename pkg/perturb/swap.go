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

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// entityChunk is one contiguous entity mention, IOB prefixes
// resolved.
type entityChunk struct {
	Label  string
	Start  int
	End    int
	Tokens int
}

// swapEntities replaces entity mentions with other mentions of the
// same label drawn from the terminology map.
//
// Only single token mentions with single word replacements are
// eligible: the edit then covers exactly one gold span, so remapping
// the expected output stays exact. Multi token mentions are left
// alone.
func swapEntities(rng *rand.Rand, sample datatypes.Sample, params map[string]any) (Result, error) {
	terms := terminologyParam(params, ParamTerminology)
	if len(terms) == 0 {
		return Result{}, fmt.Errorf("swap_entities: no terminology provided")
	}

	text := sample.Text
	var eligible []entityChunk
	for _, chunk := range iobChunks(sample) {
		if chunk.Tokens != 1 {
			continue
		}
		if len(swapCandidates(terms[chunk.Label], text[chunk.Start:chunk.End])) > 0 {
			eligible = append(eligible, chunk)
		}
	}
	if len(eligible) == 0 {
		return Result{}, fmt.Errorf("%w: no swappable entities", ErrNoEligibleSpans)
	}

	count := intParam(params, ParamCount, 1)
	if count > len(eligible) {
		count = len(eligible)
	}
	perm := rng.Perm(len(eligible))
	chosen := make([]entityChunk, 0, count)
	for _, idx := range perm[:count] {
		chosen = append(chosen, eligible[idx])
	}
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].Start < chosen[j].Start })

	var b strings.Builder
	var edits []datatypes.Transformation
	last := 0
	for _, chunk := range chosen {
		original := text[chunk.Start:chunk.End]
		candidates := swapCandidates(terms[chunk.Label], original)
		replacement := candidates[rng.Intn(len(candidates))]

		b.WriteString(text[last:chunk.Start])
		newStart := b.Len()
		b.WriteString(replacement)
		edits = append(edits, datatypes.Transformation{
			Original: datatypes.Span{Start: chunk.Start, End: chunk.End, Word: original},
			New:      datatypes.Span{Start: newStart, End: newStart + len(replacement), Word: replacement},
		})
		last = chunk.End
	}
	b.WriteString(text[last:])
	return Result{Perturbed: b.String(), SpanMap: edits}, nil
}

// swapCandidates filters a terminology list down to single word
// entries that differ from the original mention.
func swapCandidates(pool []string, original string) []string {
	var out []string
	for _, w := range pool {
		if w == "" || strings.Contains(w, " ") {
			continue
		}
		if strings.EqualFold(w, original) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// BuildTerminology collects entity mentions per label from a set of
// samples, IOB prefixes stripped. Each distinct mention appears once
// per label, in first seen order. The result feeds the swap_entities
// terminology parameter.
func BuildTerminology(samples []datatypes.Sample) map[string][]string {
	terms := make(map[string][]string)
	seen := make(map[string]map[string]struct{})
	for _, sample := range samples {
		for _, chunk := range iobChunks(sample) {
			mention := sample.Text[chunk.Start:chunk.End]
			if seen[chunk.Label] == nil {
				seen[chunk.Label] = make(map[string]struct{})
			}
			if _, dup := seen[chunk.Label][mention]; dup {
				continue
			}
			seen[chunk.Label][mention] = struct{}{}
			terms[chunk.Label] = append(terms[chunk.Label], mention)
		}
	}
	return terms
}

// iobChunks merges a sample's token level entity predictions into
// contiguous mention chunks. B- starts a chunk, I- extends the open
// chunk of the same label, O closes it. Bare labels extend the
// previous chunk only when adjacent and of the same label.
func iobChunks(sample datatypes.Sample) []entityChunk {
	preds := make(datatypes.NEROutput, len(sample.Entities))
	copy(preds, sample.Entities)
	sort.Slice(preds, func(i, j int) bool { return preds[i].Start < preds[j].Start })

	var chunks []entityChunk
	var open *entityChunk
	flush := func() {
		if open != nil {
			chunks = append(chunks, *open)
			open = nil
		}
	}

	for _, p := range preds {
		if p.Start < 0 || p.Start >= p.End || p.End > len(sample.Text) {
			continue
		}
		label := strings.ToUpper(p.Entity)
		switch {
		case label == "" || label == "O":
			flush()
		case strings.HasPrefix(label, "B-"):
			flush()
			open = &entityChunk{Label: label[2:], Start: p.Start, End: p.End, Tokens: 1}
		case strings.HasPrefix(label, "I-"):
			if open != nil && open.Label == label[2:] && p.Start >= open.End {
				open.End = p.End
				open.Tokens++
			} else {
				flush()
				open = &entityChunk{Label: label[2:], Start: p.Start, End: p.End, Tokens: 1}
			}
		default:
			if open != nil && open.Label == label && p.Start == open.End+1 {
				open.End = p.End
				open.Tokens++
			} else {
				flush()
				open = &entityChunk{Label: label, Start: p.Start, End: p.End, Tokens: 1}
			}
		}
	}
	flush()
	return chunks
}
