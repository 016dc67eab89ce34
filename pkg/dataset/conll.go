// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// docStartPattern matches CoNLL document separators.
var docStartPattern = regexp.MustCompile(`-DOCSTART- \S+ \S+ O`)

const defaultDocStart = "-DOCSTART- -X- -X- O"

// conllToken is one annotated token row: word, POS tag, chunk tag,
// entity label, plus byte offsets in the reconstructed sentence.
type conllToken struct {
	Word   string
	POS    string
	Chunk  string
	Entity string
	Start  int
	End    int
}

// conllSentence is one sentence with its retained annotation.
type conllSentence struct {
	SampleID string
	DocIndex int
	Text     string
	Tokens   []conllToken
}

// CoNLLSource reads CoNLL annotated NER data. Sentences are
// reconstructed by joining tokens with single spaces, giving every
// token a stable byte offset. Token rows are retained across Load so
// Export can realign perturbed text against the original POS and
// chunk columns.
type CoNLLSource struct {
	path string

	// MaxDocs caps how many documents are loaded; zero loads all.
	MaxDocs int

	docNames  []string
	sentences []conllSentence
	byID      map[string]int
}

var _ Source = (*CoNLLSource)(nil)

// NewCoNLLSource returns a source for a CoNLL file.
func NewCoNLLSource(path string) *CoNLLSource {
	return &CoNLLSource{path: path}
}

// Task implements Source.
func (c *CoNLLSource) Task() datatypes.Task { return datatypes.TaskNER }

// Load implements Source.
//
// # Description
//
// The file is split into documents on -DOCSTART- separators, each
// document into sentences on blank lines, each sentence into token
// rows. A row reads "word pos chunk entity"; rows with fewer columns
// keep the word and entity and default the tags. Offsets come from a
// running cursor advancing one byte per separating space. Only non-O
// tokens become gold entities; every row is retained for Export.
//
// # Outputs
//
//   - []datatypes.Sample: one validated sample per sentence, IDs
//     "doc-sentence"
//   - error: file and validation errors
func (c *CoNLLSource) Load() ([]datatypes.Sample, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("reading conll file: %w", err)
	}
	content := strings.TrimSpace(string(raw))

	c.docNames = docStartPattern.FindAllString(content, -1)
	var docs []string
	for _, part := range docStartPattern.Split(content, -1) {
		part = strings.TrimSpace(part)
		if part != "" {
			docs = append(docs, part)
		}
	}
	if c.MaxDocs > 0 && len(docs) > c.MaxDocs {
		docs = docs[:c.MaxDocs]
	}

	c.sentences = nil
	c.byID = make(map[string]int)
	var samples []datatypes.Sample

	for docIdx, doc := range docs {
		for sentIdx, block := range strings.Split(doc, "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}

			sentence := conllSentence{
				SampleID: fmt.Sprintf("%d-%d", docIdx, sentIdx),
				DocIndex: docIdx,
			}
			cursor := 0
			var words []string
			var entities datatypes.NEROutput

			for _, line := range strings.Split(block, "\n") {
				fields := strings.Fields(line)
				if len(fields) == 0 {
					continue
				}
				tok := conllToken{
					Word:   fields[0],
					POS:    "-X-",
					Chunk:  "-X-",
					Entity: "O",
					Start:  cursor,
					End:    cursor + len(fields[0]),
				}
				if len(fields) >= 4 {
					tok.POS = fields[1]
					tok.Chunk = fields[2]
				}
				if len(fields) >= 2 {
					tok.Entity = fields[len(fields)-1]
				}
				sentence.Tokens = append(sentence.Tokens, tok)
				words = append(words, tok.Word)
				if tok.Entity != "O" {
					entities = append(entities, datatypes.NERPrediction{
						Entity: tok.Entity,
						Start:  tok.Start,
						End:    tok.End,
						Word:   tok.Word,
					})
				}
				cursor = tok.End + 1
			}

			sentence.Text = strings.Join(words, " ")
			sample := datatypes.Sample{
				ID:       sentence.SampleID,
				Text:     sentence.Text,
				Task:     datatypes.TaskNER,
				Entities: entities,
			}
			if err := sample.Validate(); err != nil {
				return nil, err
			}

			c.byID[sentence.SampleID] = len(c.sentences)
			c.sentences = append(c.sentences, sentence)
			samples = append(samples, sample)
		}
	}
	return samples, nil
}

// Export implements Source.
//
// Each test case is written as a sentence block of "word pos chunk
// entity" rows. Entity labels come from the case's remapped expected
// result; POS and chunk tags carry over from the source token at the
// same position when token counts line up, else from the first
// unconsumed source token with the same surface form.
func (c *CoNLLSource) Export(cases []datatypes.TestCase, outputPath string) error {
	if c.byID == nil {
		return ErrNotLoaded
	}

	var b strings.Builder
	lastDoc := -1
	for _, tc := range cases {
		idx, ok := c.byID[tc.SampleID]
		if !ok {
			return fmt.Errorf("unknown sample id %q", tc.SampleID)
		}
		sentence := c.sentences[idx]

		if sentence.DocIndex != lastDoc {
			b.WriteString(c.docName(sentence.DocIndex))
			b.WriteString("\n\n")
			lastDoc = sentence.DocIndex
		}

		text := tc.Perturbed
		if text == "" || text == datatypes.AccuracyPlaceholder {
			text = tc.Original
		}
		for _, row := range realignTokens(text, sentence, tc.Expected) {
			fmt.Fprintf(&b, "%s %s %s %s\n", row.Word, row.POS, row.Chunk, row.Entity)
		}
		b.WriteString("\n")
	}

	return os.WriteFile(outputPath, []byte(b.String()), 0o640)
}

func (c *CoNLLSource) docName(idx int) string {
	if idx < len(c.docNames) {
		return c.docNames[idx]
	}
	return defaultDocStart
}

// realignTokens maps the tokens of a perturbed text back onto source
// annotations.
func realignTokens(text string, sentence conllSentence, expected datatypes.Output) []conllToken {
	entityAt := make(map[[2]int]string)
	if ner, ok := expected.(datatypes.NEROutput); ok {
		for _, p := range ner {
			entityAt[[2]int{p.Start, p.End}] = p.Entity
		}
	}

	spans := fieldSpans(text)
	consumed := make([]bool, len(sentence.Tokens))
	sameShape := len(spans) == len(sentence.Tokens)

	out := make([]conllToken, 0, len(spans))
	for i, sp := range spans {
		row := conllToken{Word: sp.Word, POS: "-X-", Chunk: "-X-", Entity: "O"}

		switch {
		case sameShape:
			row.POS = sentence.Tokens[i].POS
			row.Chunk = sentence.Tokens[i].Chunk
		default:
			for j, tok := range sentence.Tokens {
				if !consumed[j] && strings.EqualFold(tok.Word, sp.Word) {
					row.POS = tok.POS
					row.Chunk = tok.Chunk
					consumed[j] = true
					break
				}
			}
		}

		if entity, ok := entityAt[[2]int{sp.Start, sp.End}]; ok {
			row.Entity = entity
		}
		out = append(out, row)
	}
	return out
}

// fieldSpans splits on whitespace keeping byte offsets.
func fieldSpans(text string) []datatypes.Span {
	var spans []datatypes.Span
	start := -1
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' || text[i] == '\t' || text[i] == '\n' {
			if start >= 0 {
				spans = append(spans, datatypes.Span{Start: start, End: i, Word: text[start:i]})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, datatypes.Span{Start: start, End: len(text), Word: text[start:]})
	}
	return spans
}
