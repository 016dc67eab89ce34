// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "fmt"

// MinScore is the metric floor for accuracy tests: either one value
// for every label or a per label map. A nil PerLabel map means the
// uniform value applies to all labels.
type MinScore struct {
	Value    float64            `json:"value" yaml:"value"`
	PerLabel map[string]float64 `json:"per_label,omitempty" yaml:"per_label,omitempty"`
}

// For returns the threshold applying to label.
func (m *MinScore) For(label string) float64 {
	if m.PerLabel != nil {
		if v, ok := m.PerLabel[label]; ok {
			return v
		}
	}
	return m.Value
}

// Covers reports whether label is subject to the threshold. With a
// per label map only the listed labels are checked; a uniform value
// covers everything.
func (m *MinScore) Covers(label string) bool {
	if m.PerLabel == nil {
		return true
	}
	_, ok := m.PerLabel[label]
	return ok
}

// ParseMinScore builds a MinScore from a raw config value: a number,
// or a map from label to number.
func ParseMinScore(v any) (*MinScore, error) {
	switch val := v.(type) {
	case float64:
		return &MinScore{Value: val}, nil
	case int:
		return &MinScore{Value: float64(val)}, nil
	case map[string]any:
		perLabel := make(map[string]float64, len(val))
		for label, raw := range val {
			switch n := raw.(type) {
			case float64:
				perLabel[label] = n
			case int:
				perLabel[label] = float64(n)
			default:
				return nil, fmt.Errorf("min_score for label %q must be a number, got %T", label, raw)
			}
		}
		return &MinScore{PerLabel: perLabel}, nil
	default:
		return nil, fmt.Errorf("min_score must be a number or a label map, got %T", v)
	}
}

// Validate checks all thresholds are proportions.
func (m *MinScore) Validate() error {
	if m.Value < 0 || m.Value > 1 {
		return fmt.Errorf("min_score %v outside [0, 1]", m.Value)
	}
	for label, v := range m.PerLabel {
		if v < 0 || v > 1 {
			return fmt.Errorf("min_score %v for label %q outside [0, 1]", v, label)
		}
	}
	return nil
}

// TestConfig is the fully resolved configuration of one enabled test:
// registry defaults, suite defaults, and per test overrides already
// merged. Treated as read only after resolution.
type TestConfig struct {
	TestType string `json:"test_type" yaml:"test_type"`
	Category string `json:"category" yaml:"category"`

	// MinPassRate is the fraction of cases that must pass for the
	// test to pass as a whole. Always in [0, 1].
	MinPassRate float64 `json:"min_pass_rate" yaml:"min_pass_rate"`

	// MinScore is set for accuracy tests only.
	MinScore *MinScore `json:"min_score,omitempty" yaml:"min_score,omitempty"`

	// Params carries the remaining options through to the
	// perturbation, e.g. punctuation whitelists or context pools.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Validate checks the resolved values are in range.
func (c TestConfig) Validate() error {
	if c.TestType == "" {
		return fmt.Errorf("test config missing test type")
	}
	if c.MinPassRate < 0 || c.MinPassRate > 1 {
		return fmt.Errorf("%s: min_pass_rate %v outside [0, 1]", c.TestType, c.MinPassRate)
	}
	if c.MinScore != nil {
		if err := c.MinScore.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.TestType, err)
		}
	}
	return nil
}

// ResolvedConfig is the ordered set of enabled tests for one run.
// Order follows the registry catalog, so two runs over the same
// config produce identically ordered suites.
type ResolvedConfig struct {
	tests []TestConfig
	index map[string]int
}

// NewResolvedConfig builds a ResolvedConfig preserving the given
// order. Later duplicates of a test type are rejected by the
// resolver, so the index is unambiguous.
func NewResolvedConfig(tests []TestConfig) *ResolvedConfig {
	rc := &ResolvedConfig{
		tests: make([]TestConfig, len(tests)),
		index: make(map[string]int, len(tests)),
	}
	copy(rc.tests, tests)
	for i, t := range rc.tests {
		rc.index[t.TestType] = i
	}
	return rc
}

// Tests returns the enabled tests in suite order.
func (rc *ResolvedConfig) Tests() []TestConfig {
	out := make([]TestConfig, len(rc.tests))
	copy(out, rc.tests)
	return out
}

// Get returns the config for one test type.
func (rc *ResolvedConfig) Get(testType string) (TestConfig, bool) {
	i, ok := rc.index[testType]
	if !ok {
		return TestConfig{}, false
	}
	return rc.tests[i], true
}

// Len returns the number of enabled tests.
func (rc *ResolvedConfig) Len() int {
	return len(rc.tests)
}
