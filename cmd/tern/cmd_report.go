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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tern/pkg/report"
	"github.com/AleutianAI/tern/pkg/ux"
)

// runReportCommand renders a stored run to the terminal, or exports it
// when --out is set. The argument is tried as a report JSON file
// first, then as a run id in the local history.
func runReportCommand(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	rep, err := loadReport(ctx, args[0])
	if err != nil {
		fatal("load report", err)
	}

	if outPath == "" {
		rep.RenderSummary(os.Stdout, ux.ShouldShowColors())
		return
	}

	if err := exportReport(rep, outPath, outFormat); err != nil {
		fatal("export report", err)
	}
	ux.Success("Report written to " + outPath)
}

func loadReport(ctx context.Context, arg string) (*report.Report, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return report.LoadJSON(arg)
	}

	store, err := openRunStore()
	if err != nil {
		return nil, err
	}
	defer closeStore(store)
	return store.Load(ctx, arg)
}
