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

import "errors"

var (
	// ErrUnknownTestType is returned when a test type id is not
	// present in the registry. Callers surface the id alongside it so
	// config typos are easy to spot.
	ErrUnknownTestType = errors.New("unknown test type")

	// ErrNoEligibleSpans is returned when a perturbation finds
	// nothing to edit in a sample. The generator treats it as a skip,
	// not a failure: emitting an unchanged copy would produce a test
	// case that passes trivially and pads the pass rate.
	ErrNoEligibleSpans = errors.New("no eligible spans")

	// ErrInvalidSpec is returned when a test spec fails registration
	// validation.
	ErrInvalidSpec = errors.New("invalid test spec")

	// ErrUnknownDictionary is returned when a bias substitution names
	// a culture with no embedded name list.
	ErrUnknownDictionary = errors.New("unknown name dictionary")
)
