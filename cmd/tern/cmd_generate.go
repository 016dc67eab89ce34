// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tern/pkg/dataset"
	"github.com/AleutianAI/tern/pkg/harness"
	"github.com/AleutianAI/tern/pkg/ux"
)

// runGenerateCommand builds the perturbed suite and writes it out
// without calling any model. Useful for reviewing what a config will
// actually test before pointing it at an endpoint.
func runGenerateCommand(cmd *cobra.Command, _ []string) {
	if dataPath == "" {
		fatal("a labeled dataset is required, pass --data <file.conll|file.csv>", nil)
	}

	// 1. Open the dataset; the file extension decides the task.
	source, err := dataset.Open(dataPath)
	if err != nil {
		fatal("open dataset", err)
	}

	// 2. Build a harness with no model client. Generation never
	// predicts, so none is needed.
	h := harness.New(source.Task(), nil, source,
		harness.WithSeed(runSeed),
		harness.WithDatasetName(filepath.Base(dataPath)),
	)
	if err := h.Configure(configPath); err != nil {
		fatal("load config", err)
	}

	// 3. Generate and save the suite.
	if err := h.Generate(context.Background()); err != nil {
		fatal("generate test cases", err)
	}
	if err := h.Save(outPath); err != nil {
		fatal("save suite", err)
	}

	cases := h.TestCases()
	ux.Success(fmt.Sprintf("Generated %d test cases across %d tests", len(cases), h.Resolved().Len()))
	ux.Muted("  suite: " + outPath)
}
