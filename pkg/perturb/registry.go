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
	"sync"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// TestSpec describes one registered test type.
type TestSpec struct {
	// ID is the test type identifier used in config files, e.g.
	// "uppercase" or "replace_to_jain_names".
	ID string

	// Category groups the test: robustness, bias, or accuracy.
	Category string

	// Description is a one-line summary for catalog listings.
	Description string

	// Defaults are the option values the config resolver starts from.
	// Absent keys mean the option has no registry default and must
	// come from configuration.
	Defaults map[string]any

	// Perturber produces the test case input for each sample. For
	// accuracy entries it is a placeholder; their cases are built per
	// label by the generator instead of per sample.
	Perturber Perturber
}

// Registry holds the test type catalog for one harness.
//
// Each harness owns a fresh registry, so tests registered for one run
// never leak into another. Registration happens during setup; lookups
// during a run only read.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]TestSpec
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]TestSpec)}
}

// Register adds a test spec to the registry.
//
// # Description
//
// The spec must carry a non-empty ID, a known category, and a
// perturber. Registering an ID twice is an error; replacing a built-in
// silently would make two runs with the same config diverge.
//
// # Inputs
//
//   - spec: the test spec to add
//
// # Outputs
//
//   - error: ErrInvalidSpec for malformed specs, or a duplicate error
func (r *Registry) Register(spec TestSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("%w: empty test type id", ErrInvalidSpec)
	}
	switch spec.Category {
	case datatypes.CategoryRobustness, datatypes.CategoryBias, datatypes.CategoryAccuracy:
	default:
		return fmt.Errorf("%w: %s has unknown category %q", ErrInvalidSpec, spec.ID, spec.Category)
	}
	if spec.Perturber == nil {
		return fmt.Errorf("%w: %s has no perturber", ErrInvalidSpec, spec.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.ID]; exists {
		return fmt.Errorf("%w: %s already registered", ErrInvalidSpec, spec.ID)
	}
	r.specs[spec.ID] = spec
	r.order = append(r.order, spec.ID)
	return nil
}

// Lookup returns the spec for a test type id.
//
// The returned spec carries a copy of the defaults map, so callers can
// layer overrides onto it without mutating the registry.
func (r *Registry) Lookup(id string) (TestSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[id]
	if !ok {
		return TestSpec{}, fmt.Errorf("%w: %q", ErrUnknownTestType, id)
	}
	spec.Defaults = copyParams(spec.Defaults)
	return spec, nil
}

// Has reports whether a test type id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[id]
	return ok
}

// IDs returns all registered test type ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// InCategory returns the specs of one category in registration order.
func (r *Registry) InCategory(category string) []TestSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TestSpec
	for _, id := range r.order {
		spec := r.specs[id]
		if spec.Category == category {
			spec.Defaults = copyParams(spec.Defaults)
			out = append(out, spec)
		}
	}
	return out
}

func copyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// =============================================================================
// Built-in Catalog
// =============================================================================

var defaultPunctuation = []string{"!", "?", ",", ".", "-", ":", ";"}

var defaultStartingContext = []string{
	"Breaking news:",
	"As reported earlier,",
	"According to the transcript,",
	"For the record,",
}

var defaultEndingContext = []string{
	"More details to follow.",
	"That is all we know so far.",
	"The story is still developing.",
}

// NewDefaultRegistry returns a registry populated with the built-in
// test catalog.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	builtins := []TestSpec{
		// Robustness: surface form rewrites.
		{
			ID:          "uppercase",
			Category:    datatypes.CategoryRobustness,
			Description: "Convert the text to upper case",
			Perturber:   PerturbFunc(upperCase),
		},
		{
			ID:          "lowercase",
			Category:    datatypes.CategoryRobustness,
			Description: "Convert the text to lower case",
			Perturber:   PerturbFunc(lowerCase),
		},
		{
			ID:          "titlecase",
			Category:    datatypes.CategoryRobustness,
			Description: "Capitalize the first letter of every word",
			Perturber:   PerturbFunc(titleCase),
		},
		{
			ID:          "add_punctuation",
			Category:    datatypes.CategoryRobustness,
			Description: "Append a punctuation mark to unpunctuated text",
			Defaults:    map[string]any{ParamWhitelist: defaultPunctuation},
			Perturber:   PerturbFunc(addPunctuation),
		},
		{
			ID:          "strip_punctuation",
			Category:    datatypes.CategoryRobustness,
			Description: "Remove the trailing punctuation mark",
			Defaults:    map[string]any{ParamWhitelist: defaultPunctuation},
			Perturber:   PerturbFunc(stripPunctuation),
		},
		{
			ID:          "add_typo",
			Category:    datatypes.CategoryRobustness,
			Description: "Introduce keyboard typos",
			Defaults:    map[string]any{ParamCount: 1},
			Perturber:   PerturbFunc(addTypo),
		},
		{
			ID:          "american_to_british",
			Category:    datatypes.CategoryRobustness,
			Description: "Convert American spellings to British",
			Perturber:   PerturbFunc(americanToBritish),
		},
		{
			ID:          "add_context",
			Category:    datatypes.CategoryRobustness,
			Description: "Wrap the text in surrounding context snippets",
			Defaults: map[string]any{
				ParamStartingContext: defaultStartingContext,
				ParamEndingContext:   defaultEndingContext,
			},
			Perturber: PerturbFunc(addContext),
		},
		{
			ID:          "add_contractions",
			Category:    datatypes.CategoryRobustness,
			Description: "Contract auxiliary verb phrases",
			Perturber:   PerturbFunc(addContractions),
		},
		{
			ID:          "swap_entities",
			Category:    datatypes.CategoryRobustness,
			Description: "Replace an entity with another of the same label",
			Defaults:    map[string]any{ParamCount: 1},
			Perturber:   PerturbFunc(swapEntities),
		},

		// Bias: person name substitution from cultural dictionaries.
		{
			ID:          "replace_to_jain_names",
			Category:    datatypes.CategoryBias,
			Description: "Substitute person names with Jain names",
			Perturber:   &NamedEntitySubstituter{Dictionary: DictionaryJain},
		},
		{
			ID:          "replace_to_sikh_names",
			Category:    datatypes.CategoryBias,
			Description: "Substitute person names with Sikh names",
			Perturber:   &NamedEntitySubstituter{Dictionary: DictionarySikh},
		},
		{
			ID:          "replace_to_hindu_names",
			Category:    datatypes.CategoryBias,
			Description: "Substitute person names with Hindu names",
			Perturber:   &NamedEntitySubstituter{Dictionary: DictionaryHindu},
		},
		{
			ID:          "replace_to_muslim_names",
			Category:    datatypes.CategoryBias,
			Description: "Substitute person names with Muslim names",
			Perturber:   &NamedEntitySubstituter{Dictionary: DictionaryMuslim},
		},

		// Accuracy: threshold checks over unperturbed predictions.
		{
			ID:          "min_precision_score",
			Category:    datatypes.CategoryAccuracy,
			Description: "Require a minimum precision per label",
			Defaults:    accuracyDefaults(),
			Perturber:   PerturbFunc(identity),
		},
		{
			ID:          "min_recall_score",
			Category:    datatypes.CategoryAccuracy,
			Description: "Require a minimum recall per label",
			Defaults:    accuracyDefaults(),
			Perturber:   PerturbFunc(identity),
		},
		{
			ID:          "min_f1_score",
			Category:    datatypes.CategoryAccuracy,
			Description: "Require a minimum F1 per label",
			Defaults:    accuracyDefaults(),
			Perturber:   PerturbFunc(identity),
		},
		{
			ID:          "min_micro_f1_score",
			Category:    datatypes.CategoryAccuracy,
			Description: "Require a minimum micro averaged F1",
			Defaults:    accuracyDefaults(),
			Perturber:   PerturbFunc(identity),
		},
		{
			ID:          "min_macro_f1_score",
			Category:    datatypes.CategoryAccuracy,
			Description: "Require a minimum macro averaged F1",
			Defaults:    accuracyDefaults(),
			Perturber:   PerturbFunc(identity),
		},
		{
			ID:          "min_weighted_f1_score",
			Category:    datatypes.CategoryAccuracy,
			Description: "Require a minimum support weighted F1",
			Defaults:    accuracyDefaults(),
			Perturber:   PerturbFunc(identity),
		},
	}

	for _, spec := range builtins {
		// Built-in specs are statically valid; a failure here is a
		// programming error.
		if err := r.Register(spec); err != nil {
			panic(fmt.Sprintf("perturb: registering builtin %s: %v", spec.ID, err))
		}
	}
	return r
}

func accuracyDefaults() map[string]any {
	return map[string]any{
		"min_score":     0.7,
		"min_pass_rate": 1.0,
	}
}
