// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SanitizeDataPath confines a request-supplied dataset path to the
// base directory. Returns the joined path if safe, or an error if the
// path is absolute or climbs out of baseDir.
//
// Use this before opening any file a request names:
//
//	resolved, err := validation.SanitizeDataPath(dataDir, req.DataPath)
//	if err != nil {
//	    return err
//	}
//	// resolved is under dataDir
func SanitizeDataPath(baseDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("data path cannot be empty")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("data path must be relative: %q", p)
	}

	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("data path escapes the data directory: %q", p)
	}

	return filepath.Join(baseDir, clean), nil
}
