// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package perturb implements the behavioral test type catalog: the
// registry of test specs and the perturbation functions that rewrite
// sample texts into test case inputs.
//
// Three families are built in. Robustness perturbations rewrite
// surface form (casing, punctuation, typos, spelling variants,
// context, contractions, entity swaps). Bias perturbations substitute
// person names from cultural name dictionaries. Accuracy entries are
// threshold checks over unperturbed predictions; they share the
// registry so configuration resolves uniformly, but their cases are
// built per label rather than per sample.
//
// Every perturbation is deterministic given the *rand.Rand it is
// handed. Callers derive that source from the run seed and a stable
// per-case key, so regenerating a suite reproduces it exactly.
package perturb

import (
	"math/rand"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// Well-known parameter keys shared between the registry defaults,
// resolved test configs, and the perturbation implementations.
const (
	// ParamCount bounds how many edits a perturbation makes.
	ParamCount = "count"

	// ParamWhitelist lists the punctuation characters add_punctuation
	// and strip_punctuation operate on.
	ParamWhitelist = "whitelist"

	// ParamStartingContext and ParamEndingContext hold the snippet
	// pools add_context draws from.
	ParamStartingContext = "starting_context"
	ParamEndingContext   = "ending_context"

	// ParamTerminology carries the label -> surface forms map that
	// swap_entities draws replacements from. The harness builds it
	// from the loaded dataset when the test is enabled.
	ParamTerminology = "terminology"
)

// Result is the outcome of one perturbation: the rewritten text and
// the edits that produced it, in original-text order.
type Result struct {
	Perturbed string
	SpanMap   []datatypes.Transformation
}

// Perturber rewrites one sample's text into a test case input.
//
// # Description
//
// Implementations must be stateless and safe for concurrent use; all
// randomness comes from rng and all tuning from params. A perturbation
// that finds nothing to edit returns ErrNoEligibleSpans so the caller
// can skip the pair instead of emitting a case identical to its
// original.
//
// # Inputs
//
//   - rng: deterministic random source for this (sample, test) pair
//   - sample: the input text plus its gold annotation
//   - params: resolved test options (registry defaults merged with
//     config overrides)
//
// # Outputs
//
//   - Result: perturbed text and span map
//   - error: ErrNoEligibleSpans when nothing can be edited; other
//     errors mean the perturbation itself failed on this sample
type Perturber interface {
	Perturb(rng *rand.Rand, sample datatypes.Sample, params map[string]any) (Result, error)
}

// PerturbFunc adapts a plain function to the Perturber interface.
type PerturbFunc func(rng *rand.Rand, sample datatypes.Sample, params map[string]any) (Result, error)

// Perturb implements Perturber.
func (f PerturbFunc) Perturb(rng *rand.Rand, sample datatypes.Sample, params map[string]any) (Result, error) {
	return f(rng, sample, params)
}

// =============================================================================
// Parameter Coercion
// =============================================================================

// YAML unmarshals numbers as int or float64 and sequences as []any.
// These helpers normalize whatever shape the resolved params carry.

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func stringsParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func terminologyParam(params map[string]any, key string) map[string][]string {
	switch v := params[key].(type) {
	case map[string][]string:
		return v
	case map[string]any:
		out := make(map[string][]string, len(v))
		for label, item := range v {
			switch words := item.(type) {
			case []string:
				out[label] = words
			case []any:
				for _, w := range words {
					if s, ok := w.(string); ok {
						out[label] = append(out[label], s)
					}
				}
			}
		}
		return out
	default:
		return nil
	}
}
