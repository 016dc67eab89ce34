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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tern/pkg/runstore"
	"github.com/AleutianAI/tern/pkg/ux"
)

func runRunsList(cmd *cobra.Command, _ []string) {
	ctx := context.Background()

	store, err := openRunStore()
	if err != nil {
		fatal("open run store", err)
	}
	defer closeStore(store)

	infos, err := store.List(ctx)
	if err != nil {
		fatal("list runs", err)
	}

	if jsonOutput {
		if err := OutputJSON(infos); err != nil {
			fatal("encode JSON", err)
		}
		return
	}

	if len(infos) == 0 {
		ux.Muted("No runs recorded yet. Run 'tern run' first.")
		return
	}

	idW, taskW, modelW := len("RUN ID"), len("TASK"), len("MODEL")
	for _, in := range infos {
		if len(in.RunID) > idW {
			idW = len(in.RunID)
		}
		if len(in.Task) > taskW {
			taskW = len(in.Task)
		}
		if len(in.Model) > modelW {
			modelW = len(in.Model)
		}
	}

	fmt.Printf("%-*s  %-16s  %-*s  %-*s  %5s  %6s  %s\n",
		idW, "RUN ID", "STARTED", taskW, "TASK", modelW, "MODEL", "CASES", "TESTS", "STATUS")
	for _, in := range infos {
		status := "PASS"
		if !in.Passed {
			status = "FAIL"
		}
		fmt.Printf("%-*s  %-16s  %-*s  %-*s  %5d  %6s  %s\n",
			idW, in.RunID,
			in.StartedAt.Local().Format("2006-01-02 15:04"),
			taskW, in.Task,
			modelW, dash(in.Model),
			in.Cases,
			fmt.Sprintf("%d/%d", in.TestsPassed, in.Tests),
			status)
	}
}

func runRunsShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	store, err := openRunStore()
	if err != nil {
		fatal("open run store", err)
	}
	defer closeStore(store)

	rep, err := store.Load(ctx, args[0])
	if err != nil {
		fatal("load run", err)
	}
	rep.RenderSummary(os.Stdout, ux.ShouldShowColors())
}

func runRunsDelete(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	store, err := openRunStore()
	if err != nil {
		fatal("open run store", err)
	}
	defer closeStore(store)

	if err := store.Delete(ctx, args[0]); err != nil {
		fatal("delete run", err)
	}
	ux.Success("Deleted run " + args[0])
}

func closeStore(store *runstore.Store) {
	if err := store.Close(); err != nil {
		slog.Warn("Failed to close run store", "error", err)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
