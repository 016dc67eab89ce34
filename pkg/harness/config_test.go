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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tern/pkg/perturb"
)

func parse(t *testing.T, src string) *FileConfig {
	t.Helper()
	cfg, err := ParseConfig([]byte(src))
	require.NoError(t, err)
	return cfg
}

func resolve(t *testing.T, src string) ([]string, map[string]int) {
	t.Helper()
	resolved, err := Resolve(perturb.NewDefaultRegistry(), parse(t, src))
	require.NoError(t, err)

	var order []string
	index := make(map[string]int)
	for i, tc := range resolved.Tests() {
		order = append(order, tc.TestType)
		index[tc.TestType] = i
	}
	return order, index
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

func TestParseConfig(t *testing.T) {
	cfg := parse(t, `
min_version: "0.1.0"
metadata:
  id: ner-smoke
  version: 1.2.0
  description: Smoke suite for the NER model
  author: qa
tests:
  defaults:
    min_pass_rate: 0.75
  robustness:
    uppercase:
    add_typo:
      count: 3
  bias:
    replace_to_sikh_names:
      min_pass_rate: 0.9
`)

	assert.Equal(t, "0.1.0", cfg.MinVersion)
	assert.Equal(t, "ner-smoke", cfg.Metadata.ID)
	assert.Equal(t, "1.2.0", cfg.Metadata.Version)
	assert.Equal(t, "qa", cfg.Metadata.Author)
	assert.Equal(t, 0.75, cfg.Tests.Defaults["min_pass_rate"])

	require.Contains(t, cfg.Tests.Categories, "robustness")
	require.Contains(t, cfg.Tests.Categories, "bias")
	assert.Contains(t, cfg.Tests.Categories["robustness"], "uppercase")
	assert.Equal(t, 3, cfg.Tests.Categories["robustness"]["add_typo"]["count"])
	assert.Equal(t, 0.9, cfg.Tests.Categories["bias"]["replace_to_sikh_names"]["min_pass_rate"])
}

func TestParseConfigMalformed(t *testing.T) {
	_, err := ParseConfig([]byte("tests: ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestParseConfigMinVersion(t *testing.T) {
	accepted := []string{"", Version, "0.0.1", "v0.0.1"}
	for _, v := range accepted {
		src := "min_version: \"" + v + "\"\ntests:\n  robustness:\n    uppercase:\n"
		_, err := ParseConfig([]byte(src))
		assert.NoError(t, err, "min_version %q", v)
	}

	_, err := ParseConfig([]byte("min_version: \"99.0.0\"\ntests: {}\n"))
	require.ErrorIs(t, err, ErrConfigVersion)
	assert.Contains(t, err.Error(), "99.0.0")

	_, err = ParseConfig([]byte("min_version: latest\ntests: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid min_version")
}

func TestParseConfigMetadataPathSafety(t *testing.T) {
	// Metadata id and version become part of the run id, which turns
	// into file names and store keys.
	_, err := ParseConfig([]byte("metadata:\n  id: ../../etc/cron.d/evil\ntests: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata.id")

	_, err = ParseConfig([]byte("metadata:\n  version: \"1.0/..\"\ntests: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata.version")

	_, err = ParseConfig([]byte("metadata:\n  id: ner-smoke\n  version: 1.0.0\ntests: {}\n"))
	assert.NoError(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tests:
  defaults:
    min_pass_rate: 0.5
  robustness:
    lowercase:
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Tests.Categories["robustness"], "lowercase")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

func TestResolveLayersPrecedence(t *testing.T) {
	resolved, err := Resolve(perturb.NewDefaultRegistry(), parse(t, `
tests:
  defaults:
    min_pass_rate: 0.75
  robustness:
    add_typo:
      count: 3
    uppercase:
      min_pass_rate: 0.5
`))
	require.NoError(t, err)
	require.Equal(t, 2, resolved.Len())

	typo, ok := resolved.Get("add_typo")
	require.True(t, ok)
	assert.Equal(t, "robustness", typo.Category)
	assert.Equal(t, 0.75, typo.MinPassRate, "suite default applies")
	assert.Equal(t, 3, typo.Params[perturb.ParamCount], "override beats registry default")

	upper, ok := resolved.Get("uppercase")
	require.True(t, ok)
	assert.Equal(t, 0.5, upper.MinPassRate, "test override beats suite default")
	assert.Nil(t, upper.Params)
}

func TestResolveKeepsCatalogOrder(t *testing.T) {
	order, _ := resolve(t, `
tests:
  defaults:
    min_pass_rate: 0.6
  accuracy:
    min_f1_score:
  bias:
    replace_to_muslim_names:
  robustness:
    swap_entities:
    uppercase:
`)
	assert.Equal(t, []string{
		"uppercase", "swap_entities", "replace_to_muslim_names", "min_f1_score",
	}, order)
}

func TestResolveAccuracyRegistryDefaults(t *testing.T) {
	resolved, err := Resolve(perturb.NewDefaultRegistry(), parse(t, `
tests:
  accuracy:
    min_f1_score:
`))
	require.NoError(t, err)

	f1, ok := resolved.Get("min_f1_score")
	require.True(t, ok)
	assert.Equal(t, 1.0, f1.MinPassRate)
	require.NotNil(t, f1.MinScore)
	assert.Equal(t, 0.7, f1.MinScore.For("B-PER"))
}

func TestResolvePerLabelMinScore(t *testing.T) {
	resolved, err := Resolve(perturb.NewDefaultRegistry(), parse(t, `
tests:
  accuracy:
    min_precision_score:
      min_score:
        B-PER: 0.9
        B-LOC: 0.6
`))
	require.NoError(t, err)

	prec, ok := resolved.Get("min_precision_score")
	require.True(t, ok)
	require.NotNil(t, prec.MinScore)
	assert.Equal(t, 0.9, prec.MinScore.For("B-PER"))
	assert.Equal(t, 0.6, prec.MinScore.For("B-LOC"))
	assert.True(t, prec.MinScore.Covers("B-PER"))
	assert.False(t, prec.MinScore.Covers("B-ORG"), "unlisted labels are not gated")
}

func TestResolveUnknownTestType(t *testing.T) {
	_, err := Resolve(perturb.NewDefaultRegistry(), parse(t, `
tests:
  robustness:
    sarcasm:
`))
	require.ErrorIs(t, err, perturb.ErrUnknownTestType)
	assert.Contains(t, err.Error(), "sarcasm")
}

func TestResolveWrongCategory(t *testing.T) {
	_, err := Resolve(perturb.NewDefaultRegistry(), parse(t, `
tests:
  bias:
    uppercase:
`))
	require.ErrorIs(t, err, perturb.ErrUnknownTestType)
	assert.Contains(t, err.Error(), `"uppercase" is a robustness test, not bias`)
}

func TestResolveMissingPassRate(t *testing.T) {
	_, err := Resolve(perturb.NewDefaultRegistry(), parse(t, `
tests:
  robustness:
    uppercase:
`))
	require.ErrorIs(t, err, ErrMissingRequiredOption)
	assert.Contains(t, err.Error(), "min_pass_rate for uppercase")
}

func TestResolvePassRateOutOfRange(t *testing.T) {
	_, err := Resolve(perturb.NewDefaultRegistry(), parse(t, `
tests:
  defaults:
    min_pass_rate: 1.5
  robustness:
    uppercase:
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [0, 1]")
}

func TestResolveNoTests(t *testing.T) {
	_, err := Resolve(perturb.NewDefaultRegistry(), parse(t, "tests: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enables no tests")

	_, err = Resolve(perturb.NewDefaultRegistry(), nil)
	require.Error(t, err)

	_, err = Resolve(nil, parse(t, "tests: {}\n"))
	require.Error(t, err)
}
