// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/models"
	"github.com/AleutianAI/tern/pkg/perturb"
	"github.com/AleutianAI/tern/pkg/report"
)

// memorySource serves fixed samples and records export calls.
type memorySource struct {
	samples  []datatypes.Sample
	task     datatypes.Task
	exported string
	cases    int
}

func (m *memorySource) Load() ([]datatypes.Sample, error) { return m.samples, nil }

func (m *memorySource) Export(cases []datatypes.TestCase, outputPath string) error {
	m.exported = outputPath
	m.cases = len(cases)
	return nil
}

func (m *memorySource) Task() datatypes.Task { return m.task }

func ent(label string, start, end int, word string) datatypes.NERPrediction {
	return datatypes.NERPrediction{Entity: label, Start: start, End: end, Word: word}
}

func ner(preds ...datatypes.NERPrediction) datatypes.NEROutput {
	return datatypes.NEROutput(preds)
}

func scripted(outputs map[string]datatypes.Output) models.PredictFunc {
	return func(_ context.Context, text string) (datatypes.Output, error) {
		if out, ok := outputs[text]; ok {
			return out, nil
		}
		return datatypes.NEROutput{}, nil
	}
}

func nerSource() *memorySource {
	return &memorySource{
		task: datatypes.TaskNER,
		samples: []datatypes.Sample{
			{
				ID:   "s1",
				Text: "jose moved to paris",
				Task: datatypes.TaskNER,
				Entities: ner(
					ent("B-PER", 0, 4, "jose"),
					ent("B-LOC", 14, 19, "paris"),
				),
			},
			{
				ID:   "s2",
				Text: "maria lives in lima",
				Task: datatypes.TaskNER,
				Entities: ner(
					ent("B-PER", 0, 5, "maria"),
					ent("B-LOC", 15, 19, "lima"),
				),
			},
		},
	}
}

const uppercaseConfig = `
metadata:
  id: ner-smoke
  version: 1.0.0
tests:
  defaults:
    min_pass_rate: 0.5
  robustness:
    uppercase:
`

func configure(t *testing.T, h *Harness, src string) {
	t.Helper()
	require.NoError(t, h.Apply(parse(t, src)))
}

func TestHarnessRequiresConfig(t *testing.T) {
	h := New(datatypes.TaskNER, scripted(nil), nerSource())

	require.ErrorIs(t, h.Generate(context.Background()), ErrNotConfigured)
	_, err := h.Run(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestHarnessRunPipeline(t *testing.T) {
	// The model survives uppercasing on s1 and falls apart on s2, so
	// uppercase passes at exactly its 0.5 floor.
	client := scripted(map[string]datatypes.Output{
		"jose moved to paris": ner(ent("B-PER", 0, 4, "jose"), ent("B-LOC", 14, 19, "paris")),
		"JOSE MOVED TO PARIS": ner(ent("B-PER", 0, 4, "JOSE"), ent("B-LOC", 14, 19, "PARIS")),
		"maria lives in lima": ner(ent("B-PER", 0, 5, "maria")),
		"MARIA LIVES IN LIMA": ner(),
	})
	h := New(datatypes.TaskNER, client, nerSource(),
		WithModelName("dslim/bert-base-NER"),
		WithDatasetName("conll-sample"),
	)
	configure(t, h, uppercaseConfig)

	rep, err := h.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.True(t, strings.HasPrefix(rep.RunID, "ner-smoke_v1.0.0_"), rep.RunID)
	assert.Equal(t, "dslim/bert-base-NER", rep.Metadata.Model)
	assert.Equal(t, "conll-sample", rep.Metadata.Dataset)
	require.Len(t, rep.Records, 2)
	require.Len(t, rep.Summaries, 1)
	assert.Equal(t, "uppercase", rep.Summaries[0].TestType)
	assert.True(t, rep.Summaries[0].Pass)
	assert.Equal(t, 1, rep.Summaries[0].Passed)
	assert.True(t, rep.Passed())
	assert.Same(t, rep, h.Report())
}

func TestHarnessRunGeneratesOnDemand(t *testing.T) {
	h := New(datatypes.TaskNER, scripted(nil), nerSource())
	configure(t, h, uppercaseConfig)

	require.Empty(t, h.TestCases())
	_, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.TestCases(), 2)
}

func TestHarnessSeedReproducible(t *testing.T) {
	const cfg = `
tests:
  defaults:
    min_pass_rate: 0
  robustness:
    add_typo:
`
	suite := func(seed int64) []string {
		h := New(datatypes.TaskNER, scripted(nil), nerSource(), WithSeed(seed))
		configure(t, h, cfg)
		require.NoError(t, h.Generate(context.Background()))

		var texts []string
		for _, tc := range h.TestCases() {
			texts = append(texts, tc.Perturbed)
		}
		return texts
	}

	assert.Equal(t, suite(7), suite(7))
}

func TestHarnessSwapEntitiesTerminology(t *testing.T) {
	h := New(datatypes.TaskNER, scripted(nil), nerSource(), WithSeed(3))
	configure(t, h, `
tests:
  defaults:
    min_pass_rate: 0.5
  robustness:
    swap_entities:
`)
	require.NoError(t, h.Generate(context.Background()))

	// Terminology was harvested from the dataset: each sample's
	// mention swaps to the other sample's mention of the same label.
	cases := h.TestCases()
	require.Len(t, cases, 2)
	for _, tc := range cases {
		assert.NotEqual(t, tc.Original, tc.Perturbed)
	}

	swap, ok := h.Resolved().Get("swap_entities")
	require.True(t, ok)
	terms, isMap := swap.Params[perturb.ParamTerminology].(map[string][]string)
	require.True(t, isMap)
	assert.ElementsMatch(t, []string{"jose", "maria"}, terms["PER"])
	assert.ElementsMatch(t, []string{"paris", "lima"}, terms["LOC"])
}

func TestHarnessSwapEntitiesKeepsExplicitTerminology(t *testing.T) {
	h := New(datatypes.TaskNER, scripted(nil), nerSource())
	configure(t, h, `
tests:
  defaults:
    min_pass_rate: 0.5
  robustness:
    swap_entities:
      terminology:
        PER: [gurdeep, fatima]
`)
	require.NoError(t, h.Generate(context.Background()))

	for _, tc := range h.TestCases() {
		replaced := strings.Contains(tc.Perturbed, "gurdeep") ||
			strings.Contains(tc.Perturbed, "fatima")
		assert.True(t, replaced, "got %q", tc.Perturbed)
	}
}

func TestHarnessSave(t *testing.T) {
	src := nerSource()
	h := New(datatypes.TaskNER, scripted(nil), src)
	configure(t, h, uppercaseConfig)

	require.Error(t, h.Save("early.csv"), "nothing generated yet")
	require.NoError(t, h.Generate(context.Background()))

	csvPath := filepath.Join(t.TempDir(), "suite.csv")
	require.NoError(t, h.Save(csvPath))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "category,test_type,"), string(data))

	require.NoError(t, h.Save("suite.conll"))
	assert.Equal(t, "suite.conll", src.exported)
	assert.Equal(t, 2, src.cases)

	err = h.Save("suite.parquet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dataset format")
}

func TestHarnessTaskMismatch(t *testing.T) {
	src := nerSource()
	src.task = datatypes.TaskTextClassification
	h := New(datatypes.TaskNER, scripted(nil), src)
	configure(t, h, uppercaseConfig)

	err := h.Generate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset carries")
}

func TestHarnessReconfigureDiscardsSuite(t *testing.T) {
	h := New(datatypes.TaskNER, scripted(nil), nerSource())
	configure(t, h, uppercaseConfig)
	require.NoError(t, h.Generate(context.Background()))
	require.NotEmpty(t, h.TestCases())

	configure(t, h, `
tests:
  defaults:
    min_pass_rate: 0.5
  robustness:
    lowercase:
`)
	assert.Empty(t, h.TestCases())
	assert.Nil(t, h.Report())
}

func TestRunIDFormat(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	meta := report.Metadata{ID: "demo", Version: "1.0.0"}
	assert.Equal(t, "demo_v1.0.0_20250314T093000Z", RunID(meta, at))
}

func TestHarnessDefaultRunID(t *testing.T) {
	h := New(datatypes.TaskNER, scripted(nil), nerSource())
	configure(t, h, `
tests:
  defaults:
    min_pass_rate: 0
  robustness:
    uppercase:
`)
	rep, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rep.RunID, "run_v0.0.0_"), rep.RunID)
}

func TestHarnessExplicitRunID(t *testing.T) {
	h := New(datatypes.TaskNER, scripted(nil), nerSource(),
		WithRunID("svc-20250314-0001"))
	configure(t, h, uppercaseConfig)

	rep, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "svc-20250314-0001", rep.RunID)
}
