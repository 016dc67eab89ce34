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
// American to British Spelling
// =============================================================================

// britishSpellings maps lowercase American spellings to their British
// forms.
var britishSpellings = map[string]string{
	"analog":        "analogue",
	"analyze":       "analyse",
	"analyzed":      "analysed",
	"analyzing":     "analysing",
	"apologize":     "apologise",
	"armor":         "armour",
	"behavior":      "behaviour",
	"behaviors":     "behaviours",
	"canceled":      "cancelled",
	"canceling":     "cancelling",
	"catalog":       "catalogue",
	"center":        "centre",
	"centers":       "centres",
	"color":         "colour",
	"colored":       "coloured",
	"colors":        "colours",
	"cozy":          "cosy",
	"criticize":     "criticise",
	"defense":       "defence",
	"dialog":        "dialogue",
	"donut":         "doughnut",
	"enrollment":    "enrolment",
	"favor":         "favour",
	"favorite":      "favourite",
	"favorites":     "favourites",
	"fiber":         "fibre",
	"flavor":        "flavour",
	"flavors":       "flavours",
	"fulfill":       "fulfil",
	"gray":          "grey",
	"harbor":        "harbour",
	"honor":         "honour",
	"honored":       "honoured",
	"humor":         "humour",
	"installment":   "instalment",
	"jewelry":       "jewellery",
	"judgment":      "judgement",
	"labeled":       "labelled",
	"labeling":      "labelling",
	"labor":         "labour",
	"license":       "licence",
	"liter":         "litre",
	"liters":        "litres",
	"memorize":      "memorise",
	"meter":         "metre",
	"meters":        "metres",
	"modeled":       "modelled",
	"modeling":      "modelling",
	"mold":          "mould",
	"mustache":      "moustache",
	"neighbor":      "neighbour",
	"neighborhood":  "neighbourhood",
	"neighbors":     "neighbours",
	"offense":       "offence",
	"organization":  "organisation",
	"organizations": "organisations",
	"organize":      "organise",
	"organized":     "organised",
	"organizing":    "organising",
	"pajamas":       "pyjamas",
	"plow":          "plough",
	"practiced":     "practised",
	"pretense":      "pretence",
	"realize":       "realise",
	"realized":      "realised",
	"realizes":      "realises",
	"recognize":     "recognise",
	"recognized":    "recognised",
	"rumor":         "rumour",
	"rumors":        "rumours",
	"skeptic":       "sceptic",
	"skeptical":     "sceptical",
	"skillful":      "skilful",
	"specialty":     "speciality",
	"sulfur":        "sulphur",
	"theater":       "theatre",
	"theaters":      "theatres",
	"tire":          "tyre",
	"tires":         "tyres",
	"traveled":      "travelled",
	"traveler":      "traveller",
	"traveling":     "travelling",
	"vapor":         "vapour",
	"vigor":         "vigour",
}

// americanToBritish rewrites every American spelling in the text to
// its British form, recording one edit per rewritten token.
func americanToBritish(_ *rand.Rand, sample datatypes.Sample, _ map[string]any) (Result, error) {
	text := sample.Text
	var b strings.Builder
	var edits []datatypes.Transformation
	last := 0
	for _, tok := range Tokenize(text) {
		british, ok := britishSpellings[strings.ToLower(tok.Word)]
		if !ok {
			continue
		}
		british = matchCase(tok.Word, british)
		if british == tok.Word {
			continue
		}
		b.WriteString(text[last:tok.Start])
		newStart := b.Len()
		b.WriteString(british)
		edits = append(edits, datatypes.Transformation{
			Original: tok,
			New:      datatypes.Span{Start: newStart, End: newStart + len(british), Word: british},
		})
		last = tok.End
	}
	if len(edits) == 0 {
		return Result{}, fmt.Errorf("%w: no American spellings found", ErrNoEligibleSpans)
	}
	b.WriteString(text[last:])
	return Result{Perturbed: b.String(), SpanMap: edits}, nil
}

// matchCase shapes replacement after the casing of original: all
// caps, initial capital, or as-is. Single letter words never count as
// all caps, so "I am" contracts to "I'm" rather than "I'M".
func matchCase(original, replacement string) string {
	if utf8.RuneCountInString(original) > 1 && original == strings.ToUpper(original) &&
		strings.ContainsFunc(original, unicode.IsLetter) {
		return strings.ToUpper(replacement)
	}
	if isCapitalized(original) {
		r, size := utf8.DecodeRuneInString(replacement)
		return string(unicode.ToUpper(r)) + replacement[size:]
	}
	return replacement
}

// =============================================================================
// Contractions
// =============================================================================

// contractions maps lowercase auxiliary phrases to their contracted
// forms. Keys are one or two words.
var contractions = map[string]string{
	"are not":    "aren't",
	"can not":    "can't",
	"cannot":     "can't",
	"could not":  "couldn't",
	"did not":    "didn't",
	"does not":   "doesn't",
	"do not":     "don't",
	"had not":    "hadn't",
	"has not":    "hasn't",
	"have not":   "haven't",
	"he is":      "he's",
	"he will":    "he'll",
	"he would":   "he'd",
	"i am":       "I'm",
	"i have":     "I've",
	"i will":     "I'll",
	"i would":    "I'd",
	"is not":     "isn't",
	"it is":      "it's",
	"it will":    "it'll",
	"must not":   "mustn't",
	"she is":     "she's",
	"she will":   "she'll",
	"she would":  "she'd",
	"should not": "shouldn't",
	"that is":    "that's",
	"there is":   "there's",
	"they are":   "they're",
	"they have":  "they've",
	"they will":  "they'll",
	"was not":    "wasn't",
	"we are":     "we're",
	"we have":    "we've",
	"we will":    "we'll",
	"were not":   "weren't",
	"what is":    "what's",
	"who is":     "who's",
	"will not":   "won't",
	"would not":  "wouldn't",
	"you are":    "you're",
	"you have":   "you've",
	"you will":   "you'll",
	"you would":  "you'd",
}

// addContractions contracts every matching auxiliary phrase, left to
// right without overlaps.
func addContractions(_ *rand.Rand, sample datatypes.Sample, _ map[string]any) (Result, error) {
	text := sample.Text
	toks := Tokenize(text)

	var b strings.Builder
	var edits []datatypes.Transformation
	last := 0
	for i := 0; i < len(toks); i++ {
		span, contracted, ok := contractionAt(text, toks, i)
		if !ok {
			continue
		}
		b.WriteString(text[last:span.Start])
		newStart := b.Len()
		b.WriteString(contracted)
		edits = append(edits, datatypes.Transformation{
			Original: span,
			New:      datatypes.Span{Start: newStart, End: newStart + len(contracted), Word: contracted},
		})
		last = span.End
		if span.End > toks[i].End {
			i++ // two word phrase, skip its second token
		}
	}
	if len(edits) == 0 {
		return Result{}, fmt.Errorf("%w: no contractible phrases found", ErrNoEligibleSpans)
	}
	b.WriteString(text[last:])
	return Result{Perturbed: b.String(), SpanMap: edits}, nil
}

// contractionAt checks for a contractible phrase starting at token i.
// Two word phrases are preferred over one word matches at the same
// position.
func contractionAt(text string, toks []datatypes.Span, i int) (datatypes.Span, string, bool) {
	if i+1 < len(toks) {
		key := strings.ToLower(toks[i].Word) + " " + strings.ToLower(toks[i+1].Word)
		if repl, ok := contractions[key]; ok {
			span := datatypes.Span{
				Start: toks[i].Start,
				End:   toks[i+1].End,
				Word:  text[toks[i].Start:toks[i+1].End],
			}
			return span, matchCase(toks[i].Word, repl), true
		}
	}
	if repl, ok := contractions[strings.ToLower(toks[i].Word)]; ok {
		return toks[i], matchCase(toks[i].Word, repl), true
	}
	return datatypes.Span{}, "", false
}
