// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// file names, object store keys, or database keys. Using these validators
// prevents injection attacks (path traversal, key collisions from control
// characters).
package validation

import (
	"fmt"
	"regexp"
)

// runIDPattern matches run identifiers and the config metadata fields
// they are built from.
// Allows: letters, digits, dots, underscores, hyphens
// Max length: 128 characters (covers id_vversion_timestamp and UUIDs)
var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]{0,127}$`)

// ValidateRunID validates a run identifier before it is used as a file
// name, an object key, or a store key.
//
// Valid identifiers:
//   - 1-128 characters
//   - Letters a-z A-Z and digits 0-9
//   - Dots (.), underscores (_), hyphens (-) after the first character
//
// Path separators never pass, so a validated id stays a single path
// segment wherever it lands.
//
// Example:
//
//	if err := validation.ValidateRunID(runID); err != nil {
//	    return fmt.Errorf("invalid run id: %w", err)
//	}
//	// Safe to use in a file name or store key
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("invalid run id: %q (must be 1-128 alphanumeric chars, dots, underscores, or hyphens)", id)
	}

	return nil
}
