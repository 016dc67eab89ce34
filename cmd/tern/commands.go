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
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tern/cmd/tern/config"
	"github.com/AleutianAI/tern/pkg/logging"
	"github.com/AleutianAI/tern/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath       string        // Run config YAML
	dataPath         string        // Labeled dataset (.conll, .txt, .csv)
	backendType      string        // Model backend: http, ollama, openai
	endpointURL      string        // Backend base URL override
	modelName        string        // Model identifier sent to the backend
	labelSet         []string      // Label set for classification backends
	runSeed          int64
	runWorkers       int
	callTimeout      time.Duration
	outPath          string        // Artifact destination
	outFormat        string        // csv, xlsx, or json
	watchMode        bool          // Re-run when config or data changes
	archiveURL       string        // gs://bucket/prefix for report archival
	jsonOutput       bool          // Machine output for runs list/show
	personalityLevel string        // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "tern",
		Short: "Behavioral testing for NLP models",
		Long: `Tern generates perturbed test suites from labeled datasets and
scores how a model's predictions hold up under them: robustness to
surface rewrites, bias under name substitution, and accuracy floors.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
			slog.SetDefault(logging.FromEnv("tern").Slog())
			if err := config.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(1)
			}
		},
	}

	// --- Suite Generation ---
	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate the perturbed test suite without evaluating it",
		Run:   runGenerateCommand, // Defined in cmd_generate.go
	}

	// --- Full Pipeline ---
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Generate, evaluate, and report a full test run",
		Run:   runRunCommand, // Defined in cmd_run.go
	}

	// --- Reports ---
	reportCmd = &cobra.Command{
		Use:   "report [run-id or report.json]",
		Short: "Render or export a stored run report",
		Args:  cobra.ExactArgs(1),
		Run:   runReportCommand, // Defined in cmd_report.go
	}

	// --- Run History ---
	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "Manage the local run history",
	}
	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Run:   runRunsList, // Defined in cmd_runs.go
	}
	runsShowCmd = &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show the summary of one stored run",
		Args:  cobra.ExactArgs(1),
		Run:   runRunsShow, // Defined in cmd_runs.go
	}
	runsDeleteCmd = &cobra.Command{
		Use:   "delete [run-id]",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		Run:   runRunsDelete, // Defined in cmd_runs.go
	}

	// --- Health ---
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check the harness service and model backend",
		Run:   runHealthCommand, // Defined in cmd_health.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVarP(&configPath, "config", "c", "run.yaml", "Run config file")
	generateCmd.Flags().StringVarP(&dataPath, "data", "d", "", "Labeled dataset (.conll, .txt, .csv)")
	generateCmd.Flags().Int64Var(&runSeed, "seed", 0, "Generation seed; equal seeds reproduce the suite")
	generateCmd.Flags().StringVarP(&outPath, "out", "o", "test_cases.csv",
		"Suite destination (.csv tabular, .conll token annotation)")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&configPath, "config", "c", "run.yaml", "Run config file")
	runCmd.Flags().StringVarP(&dataPath, "data", "d", "", "Labeled dataset (.conll, .txt, .csv)")
	runCmd.Flags().StringVar(&backendType, "backend", "", "Model backend: http, ollama, or openai (default from ~/.tern/tern.yaml)")
	runCmd.Flags().StringVar(&endpointURL, "endpoint", "", "Backend base URL override")
	runCmd.Flags().StringVar(&modelName, "model", "", "Model identifier sent to the backend")
	runCmd.Flags().StringSliceVar(&labelSet, "labels", nil, "Label set for classification backends")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Generation seed")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Concurrent model calls (default from config)")
	runCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "Per model call timeout (default from config)")
	runCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the report to this path after the run")
	runCmd.Flags().StringVarP(&outFormat, "format", "f", "", "Report format: csv, xlsx, or json (default by --out extension)")
	runCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Stay running and re-run when the config or data changes")
	runCmd.Flags().StringVar(&archiveURL, "archive", "", "Archive the report to gs://bucket/prefix after the run")

	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVarP(&outPath, "out", "o", "", "Export destination (default: render to stdout)")
	reportCmd.Flags().StringVarP(&outFormat, "format", "f", "", "Export format: csv, xlsx, or json (default by --out extension)")

	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON for scripting")
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON for scripting")
}
