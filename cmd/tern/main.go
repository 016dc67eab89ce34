// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tern runs behavioral test suites against NLP models: it
// perturbs a labeled dataset into test cases, sends them through a
// model backend, and scores how far the predictions drift.
//
// Usage:
//
//	tern generate --config run.yaml --data samples.conll
//	tern run --config run.yaml --data samples.conll --endpoint http://localhost:8500
//	tern report ner-smoke_v1.0.0_20250314T093000Z
//	tern runs list
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
