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
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/perturb"
	"github.com/AleutianAI/tern/pkg/validation"
)

// Version is the harness release, checked against a config file's
// min_version gate.
const Version = "0.4.0"

var (
	// ErrMissingRequiredOption is returned when no layer of the config
	// provides a value for an option a test cannot run without.
	ErrMissingRequiredOption = errors.New("missing required option")

	// ErrConfigVersion is returned when a config file declares a
	// min_version newer than this release.
	ErrConfigVersion = errors.New("config requires a newer release")
)

// Metadata identifies a run in reports and the run history.
type Metadata struct {
	ID          string `yaml:"id"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	Author      string `yaml:"author,omitempty"`
}

// TestsSection is the tests block of a run config: suite wide defaults
// plus category keyed test type overrides. Category names arrive
// through the inline map, so adding a category never touches this
// struct.
type TestsSection struct {
	Defaults   map[string]any                       `yaml:"defaults,omitempty"`
	Categories map[string]map[string]map[string]any `yaml:",inline"`
}

// FileConfig is a parsed run config file.
//
// The layout mirrors the YAML:
//
//	min_version: "0.4.0"
//	metadata:
//	  id: ner-smoke
//	  version: 1.0.0
//	tests:
//	  defaults:
//	    min_pass_rate: 0.75
//	  robustness:
//	    uppercase:
//	    add_typos:
//	      min_pass_rate: 0.6
type FileConfig struct {
	MinVersion string       `yaml:"min_version,omitempty"`
	Metadata   Metadata     `yaml:"metadata,omitempty"`
	Tests      TestsSection `yaml:"tests"`
}

// LoadConfig reads and parses a run config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses run config YAML and enforces the min_version
// gate.
func ParseConfig(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.checkVersion(); err != nil {
		return nil, err
	}
	if err := cfg.Metadata.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// check rejects metadata whose id or version could not serve as part
// of a run id. Run ids become file names and store keys.
func (m Metadata) check() error {
	if m.ID != "" {
		if err := validation.ValidateRunID(m.ID); err != nil {
			return fmt.Errorf("metadata.id: %w", err)
		}
	}
	if m.Version != "" {
		if err := validation.ValidateRunID(m.Version); err != nil {
			return fmt.Errorf("metadata.version: %w", err)
		}
	}
	return nil
}

func (c *FileConfig) checkVersion() error {
	if c.MinVersion == "" {
		return nil
	}
	want := canonical(c.MinVersion)
	if !semver.IsValid(want) {
		return fmt.Errorf("invalid min_version %q", c.MinVersion)
	}
	if semver.Compare(canonical(Version), want) < 0 {
		return fmt.Errorf("%w: config needs %s, this is %s",
			ErrConfigVersion, c.MinVersion, Version)
	}
	return nil
}

// canonical puts a version into the v-prefixed form semver expects.
func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Resolve merges the registry defaults, the suite defaults, and the
// per test overrides into the enabled test set.
//
// # Description
//
// Precedence, lowest to highest: registry defaults, tests.defaults,
// tests.<category>.<test_type>. The result keeps registry catalog
// order, so two resolutions of the same config enable tests in the
// same sequence.
//
// # Outputs
//   - *datatypes.ResolvedConfig: one TestConfig per enabled test.
//   - error: wraps perturb.ErrUnknownTestType for an unregistered test
//     type or one listed under the wrong category, and
//     ErrMissingRequiredOption when no layer supplies min_pass_rate.
func Resolve(reg *perturb.Registry, cfg *FileConfig) (*datatypes.ResolvedConfig, error) {
	if reg == nil {
		return nil, errors.New("nil registry")
	}
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	type enabled struct {
		category  string
		overrides map[string]any
	}
	byID := make(map[string]enabled)
	for category, tests := range cfg.Tests.Categories {
		for id, overrides := range tests {
			spec, err := reg.Lookup(id)
			if err != nil {
				return nil, err
			}
			if spec.Category != category {
				return nil, fmt.Errorf("%w: %q is a %s test, not %s",
					perturb.ErrUnknownTestType, id, spec.Category, category)
			}
			byID[id] = enabled{category: category, overrides: overrides}
		}
	}
	if len(byID) == 0 {
		return nil, errors.New("config enables no tests")
	}

	tests := make([]datatypes.TestConfig, 0, len(byID))
	for _, id := range reg.IDs() {
		en, ok := byID[id]
		if !ok {
			continue
		}
		spec, err := reg.Lookup(id)
		if err != nil {
			return nil, err
		}

		merged := make(map[string]any,
			len(spec.Defaults)+len(cfg.Tests.Defaults)+len(en.overrides))
		for k, v := range spec.Defaults {
			merged[k] = v
		}
		for k, v := range cfg.Tests.Defaults {
			merged[k] = v
		}
		for k, v := range en.overrides {
			merged[k] = v
		}

		tc, err := buildTestConfig(id, en.category, merged)
		if err != nil {
			return nil, err
		}
		tests = append(tests, tc)
	}
	return datatypes.NewResolvedConfig(tests), nil
}

// buildTestConfig lifts the reserved options out of the merged map and
// leaves the remainder as perturber params.
func buildTestConfig(id, category string, merged map[string]any) (datatypes.TestConfig, error) {
	rate, ok := floatOption(merged, "min_pass_rate")
	if !ok {
		return datatypes.TestConfig{}, fmt.Errorf("%w: min_pass_rate for %s",
			ErrMissingRequiredOption, id)
	}
	tc := datatypes.TestConfig{TestType: id, Category: category, MinPassRate: rate}

	if raw, present := merged["min_score"]; present {
		ms, err := datatypes.ParseMinScore(raw)
		if err != nil {
			return datatypes.TestConfig{}, fmt.Errorf("%s: %w", id, err)
		}
		tc.MinScore = ms
	}

	params := make(map[string]any)
	for k, v := range merged {
		if k == "min_pass_rate" || k == "min_score" {
			continue
		}
		params[k] = v
	}
	if len(params) > 0 {
		tc.Params = params
	}

	if err := tc.Validate(); err != nil {
		return datatypes.TestConfig{}, err
	}
	return tc, nil
}

// floatOption reads a numeric option, tolerating the int the YAML
// parser produces for whole numbers.
func floatOption(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
