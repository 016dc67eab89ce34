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
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/tern/cmd/tern/config"
	"github.com/AleutianAI/tern/cmd/tern/gcs"
	"github.com/AleutianAI/tern/pkg/dataset"
	"github.com/AleutianAI/tern/pkg/evaluate"
	"github.com/AleutianAI/tern/pkg/harness"
	"github.com/AleutianAI/tern/pkg/report"
	"github.com/AleutianAI/tern/pkg/ux"
)

// watchDebounce is how long the watch loop waits for the editor to
// settle before re-running.
const watchDebounce = 500 * time.Millisecond

func runRunCommand(cmd *cobra.Command, _ []string) {
	if dataPath == "" {
		fatal("a labeled dataset is required, pass --data <file.conll|file.csv>", nil)
	}

	// Graceful shutdown: Ctrl-C cancels in-flight model calls.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if watchMode {
		watchAndRun(ctx)
		return
	}

	code, err := executeRun(ctx)
	if err != nil {
		fatal("run", err)
	}
	if code != CLIExitSuccess {
		os.Exit(code)
	}
}

// executeRun performs one generate + evaluate cycle: open the dataset,
// build the model client, run the harness, record the run, render the
// summary, and export or archive when asked. Individual model call
// failures are scored as errored cases by the evaluator; only setup
// problems surface as errors here.
func executeRun(ctx context.Context) (int, error) {
	// 1. Open the dataset; the file extension decides the task.
	source, err := dataset.Open(dataPath)
	if err != nil {
		return CLIExitError, fmt.Errorf("open dataset: %w", err)
	}
	task := source.Task()

	// 2. Build the model client from flags and config defaults.
	rb := resolveBackend()
	client, err := buildClient(rb, task)
	if err != nil {
		return CLIExitError, fmt.Errorf("build model client: %w", err)
	}

	workers := runWorkers
	if workers <= 0 {
		workers = config.Global.Defaults.Workers
	}
	timeout := callTimeout
	if timeout <= 0 {
		timeout = time.Duration(config.Global.Defaults.TimeoutSeconds) * time.Second
	}

	// The progress bridge is registered now and armed once the suite
	// size is known.
	progress := &evalProgress{}

	opts := []harness.Option{
		harness.WithSeed(runSeed),
		harness.WithWorkers(workers),
		harness.WithTimeout(timeout),
		harness.WithModelName(rb.Model),
		harness.WithDatasetName(filepath.Base(dataPath)),
		harness.WithTelemetry(progress),
	}

	// Per-record time series storage is optional; only wire InfluxDB
	// when the stack is up.
	if os.Getenv("INFLUXDB_URL") != "" {
		sink, sinkErr := evaluate.NewInfluxRecordSink()
		if sinkErr != nil {
			slog.Warn("InfluxDB sink unavailable, records stay local", "error", sinkErr)
		} else {
			defer sink.Close()
			opts = append(opts, harness.WithRecordSink(sink))
		}
	}

	h := harness.New(task, client, source, opts...)
	if err := h.Configure(configPath); err != nil {
		return CLIExitError, fmt.Errorf("load config: %w", err)
	}

	// 3. Announce the run.
	fmt.Printf("\nStarting run\n")
	fmt.Printf("   Config:    %s\n", configPath)
	fmt.Printf("   Dataset:   %s (%s)\n", dataPath, task)
	fmt.Printf("   Backend:   %s  %s\n", rb.Backend, rb.Endpoint)
	fmt.Printf("   Tests:     %d enabled\n", h.Resolved().Len())
	fmt.Printf("   Workers:   %d   Timeout: %s   Seed: %d\n", workers, timeout, runSeed)
	fmt.Println("---------------------------------------------------")

	// Generate before evaluating so the progress line knows the suite
	// size up front.
	if err := h.Generate(ctx); err != nil {
		return CLIExitError, fmt.Errorf("generate suite: %w", err)
	}
	spin := ux.NewProgressSpinner("Evaluating", len(h.TestCases()))
	progress.attach(spin)
	spin.Start()

	rep, err := h.Run(ctx)
	spin.Stop()
	if err != nil {
		if ctx.Err() != nil {
			ux.Warning("Run canceled")
			return CLIExitError, nil
		}
		return CLIExitError, err
	}

	// 4. Record the run in the local history.
	if store, storeErr := openRunStore(); storeErr != nil {
		slog.Warn("Run store unavailable, run not recorded", "error", storeErr)
	} else {
		if saveErr := store.Save(ctx, rep); saveErr != nil {
			slog.Warn("Failed to record run", "run_id", rep.RunID, "error", saveErr)
		}
		if closeErr := store.Close(); closeErr != nil {
			slog.Warn("Failed to close run store", "error", closeErr)
		}
	}

	// 5. Render the verdict, then export and archive if asked.
	fmt.Println()
	rep.RenderSummary(os.Stdout, ux.ShouldShowColors())

	if outPath != "" {
		if err := exportReport(rep, outPath, outFormat); err != nil {
			return CLIExitError, fmt.Errorf("export report: %w", err)
		}
		ux.Muted("  report: " + outPath)
	}
	if archiveURL != "" {
		if err := archiveReport(ctx, rep.RunID, rep); err != nil {
			// The verdict stands even when archival fails.
			ux.Warning(fmt.Sprintf("Archive failed: %v", err))
		}
	}

	if !rep.Passed() {
		return CLIExitFindings, nil
	}
	return CLIExitSuccess, nil
}

// watchAndRun runs once, then re-runs whenever the config or dataset
// file changes. Events are debounced so a save from an editor that
// writes twice triggers one run. Ctrl-C exits the loop.
func watchAndRun(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fatal("start file watcher", err)
	}
	defer watcher.Close()

	// Watch parent directories, not the files: editors replace files
	// on save, which drops a watch on the file itself.
	watched := map[string]bool{
		filepath.Clean(configPath): true,
		filepath.Clean(dataPath):   true,
	}
	for _, dir := range []string{filepath.Dir(configPath), filepath.Dir(dataPath)} {
		if err := watcher.Add(dir); err != nil {
			fatal(fmt.Sprintf("watch %s", dir), err)
		}
	}

	runOnce := func() {
		code, err := executeRun(ctx)
		switch {
		case err != nil:
			ux.Error(fmt.Sprintf("Run failed: %v", err))
		case code == CLIExitFindings:
			ux.Warning("Some tests failed")
		}
		ux.Muted("  Watching for changes to " + configPath + " and " + dataPath + " (Ctrl-C to stop)")
	}
	runOnce()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)

		case <-debounceC:
			debounce = nil
			debounceC = nil
			fmt.Println()
			ux.Info("Change detected, re-running")
			runOnce()
		}
	}
}

// archiveReport uploads the report JSON to the gs://bucket/prefix
// destination from --archive. Credentials come from the archive
// section of ~/.tern/tern.yaml, falling back to application default
// credentials when no key path is set.
func archiveReport(ctx context.Context, runID string, rep *report.Report) error {
	bucket, prefix, err := gcs.ParseURL(archiveURL)
	if err != nil {
		return err
	}

	client, err := gcs.NewClient(ctx, config.Global.Archive.Project, bucket, config.Global.Archive.KeyPath)
	if err != nil {
		return err
	}

	local := filepath.Join(os.TempDir(), runID+".json")
	if err := rep.SaveJSON(local); err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(local); rmErr != nil {
			slog.Warn("Failed to remove archive temp file", "path", local, "error", rmErr)
		}
	}()

	object := runID + ".json"
	if prefix != "" {
		object = path.Join(prefix, object)
	}
	return client.UploadFile(ctx, local, object)
}
