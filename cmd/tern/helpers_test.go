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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/tern/cmd/tern/config"
	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/report"
)

// saveBackendGlobals snapshots the flag variables and config state a
// test mutates, restoring them on cleanup.
func saveBackendGlobals(t *testing.T) {
	t.Helper()
	oldBackend, oldEndpoint, oldModel := backendType, endpointURL, modelName
	oldGlobal := config.Global
	t.Cleanup(func() {
		backendType, endpointURL, modelName = oldBackend, oldEndpoint, oldModel
		config.Global = oldGlobal
	})
}

// TestResolveFormat_FlagWins tests that an explicit format beats the extension.
func TestResolveFormat_FlagWins(t *testing.T) {
	f, err := resolveFormat("report.csv", "JSON")
	if err != nil {
		t.Fatalf("resolveFormat failed: %v", err)
	}
	if f != "json" {
		t.Errorf("format = %q, want %q", f, "json")
	}
}

// TestResolveFormat_ByExtension tests extension inference.
func TestResolveFormat_ByExtension(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"report.csv", "csv"},
		{"Report.XLSX", "xlsx"},
		{"out/run.json", "json"},
	}
	for _, tc := range cases {
		f, err := resolveFormat(tc.path, "")
		if err != nil {
			t.Errorf("resolveFormat(%q) failed: %v", tc.path, err)
			continue
		}
		if f != tc.want {
			t.Errorf("resolveFormat(%q) = %q, want %q", tc.path, f, tc.want)
		}
	}
}

// TestResolveFormat_Unknown tests that an uninferable path errors.
func TestResolveFormat_Unknown(t *testing.T) {
	if _, err := resolveFormat("report.pdf", ""); err == nil {
		t.Error("Expected error for .pdf destination, got nil")
	}
	if _, err := resolveFormat("report", ""); err == nil {
		t.Error("Expected error for extensionless destination, got nil")
	}
}

// TestResolveBackend_FlagsWin tests that flags override config defaults.
func TestResolveBackend_FlagsWin(t *testing.T) {
	saveBackendGlobals(t)

	backendType = "ollama"
	endpointURL = "http://gpu-box:11434"
	modelName = "llama3"
	config.Global.Model = config.ModelConfig{Backend: "http", BaseURL: "http://localhost:8500", Name: "bert"}

	rb := resolveBackend()
	if rb.Backend != "ollama" {
		t.Errorf("Backend = %q, want %q", rb.Backend, "ollama")
	}
	if rb.Endpoint != "http://gpu-box:11434" {
		t.Errorf("Endpoint = %q, want %q", rb.Endpoint, "http://gpu-box:11434")
	}
	if rb.Model != "llama3" {
		t.Errorf("Model = %q, want %q", rb.Model, "llama3")
	}
}

// TestResolveBackend_ConfigFallback tests that empty flags fall back to config.
func TestResolveBackend_ConfigFallback(t *testing.T) {
	saveBackendGlobals(t)

	backendType, endpointURL, modelName = "", "", ""
	config.Global.Model = config.ModelConfig{Backend: "http", BaseURL: "http://localhost:8500", Name: "bert"}

	rb := resolveBackend()
	if rb.Backend != "http" {
		t.Errorf("Backend = %q, want %q", rb.Backend, "http")
	}
	if rb.Endpoint != "http://localhost:8500" {
		t.Errorf("Endpoint = %q, want %q", rb.Endpoint, "http://localhost:8500")
	}
	if rb.Model != "bert" {
		t.Errorf("Model = %q, want %q", rb.Model, "bert")
	}
}

// TestBuildClient_HTTP tests the http backend constructs for any task.
func TestBuildClient_HTTP(t *testing.T) {
	rb := resolvedBackend{Backend: "http", Endpoint: "http://localhost:8500", Model: "bert"}
	client, err := buildClient(rb, datatypes.TaskNER)
	if err != nil {
		t.Fatalf("buildClient failed: %v", err)
	}
	if client == nil {
		t.Fatal("Expected a client, got nil")
	}
}

// TestBuildClient_UnknownBackend tests the error for unsupported backends.
func TestBuildClient_UnknownBackend(t *testing.T) {
	rb := resolvedBackend{Backend: "grpc"}
	if _, err := buildClient(rb, datatypes.TaskNER); err == nil {
		t.Error("Expected error for unknown backend, got nil")
	}
}

// TestBuildClient_ClassificationOnlyBackends tests that ollama and
// openai reject NER datasets.
func TestBuildClient_ClassificationOnlyBackends(t *testing.T) {
	for _, backend := range []string{"ollama", "openai"} {
		rb := resolvedBackend{Backend: backend}
		_, err := buildClient(rb, datatypes.TaskNER)
		if err == nil {
			t.Errorf("Expected error for %s with NER task, got nil", backend)
			continue
		}
		if !strings.Contains(err.Error(), "text classification only") {
			t.Errorf("Error %q should mention text classification only", err)
		}
	}
}

// TestExportReport_JSONRoundTrip tests writing and reloading a report.
func TestExportReport_JSONRoundTrip(t *testing.T) {
	rep := report.New("demo_v1.0.0_x", datatypes.TaskNER, report.Metadata{ID: "demo"}, nil, datatypes.NewResolvedConfig(nil))

	dest := filepath.Join(t.TempDir(), "run.json")
	if err := exportReport(rep, dest, ""); err != nil {
		t.Fatalf("exportReport failed: %v", err)
	}

	loaded, err := report.LoadJSON(dest)
	if err != nil {
		t.Fatalf("LoadJSON failed: %v", err)
	}
	if loaded.RunID != rep.RunID {
		t.Errorf("RunID = %q, want %q", loaded.RunID, rep.RunID)
	}
}

// TestExportReport_UnknownFormat tests the error for unsupported formats.
func TestExportReport_UnknownFormat(t *testing.T) {
	rep := report.New("demo", datatypes.TaskNER, report.Metadata{}, nil, datatypes.NewResolvedConfig(nil))
	if err := exportReport(rep, "out.bin", "parquet"); err == nil {
		t.Error("Expected error for parquet format, got nil")
	}
}

// TestCheckStore_States tests the run store probe across directory states.
func TestCheckStore_States(t *testing.T) {
	saveBackendGlobals(t)

	// Existing directory is healthy.
	dir := t.TempDir()
	config.Global.Store.Dir = dir
	if hc := checkStore(); !hc.OK {
		t.Errorf("Existing directory should be OK, got %+v", hc)
	}

	// Missing directory is healthy; first run creates it.
	config.Global.Store.Dir = filepath.Join(dir, "not-yet")
	if hc := checkStore(); !hc.OK {
		t.Errorf("Missing directory should be OK, got %+v", hc)
	}

	// A file where the directory should be is not.
	file := filepath.Join(dir, "occupied")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	config.Global.Store.Dir = file
	if hc := checkStore(); hc.OK {
		t.Errorf("File in place of directory should fail, got %+v", hc)
	}
}

// TestDash tests the empty placeholder.
func TestDash(t *testing.T) {
	if dash("") != "-" {
		t.Errorf(`dash("") = %q, want "-"`, dash(""))
	}
	if dash("bert") != "bert" {
		t.Errorf(`dash("bert") = %q, want "bert"`, dash("bert"))
	}
}

// TestExitCodeConstants tests exit code constant values.
func TestExitCodeConstants(t *testing.T) {
	if CLIExitSuccess != 0 {
		t.Errorf("CLIExitSuccess = %d, want 0", CLIExitSuccess)
	}
	if CLIExitFindings != 1 {
		t.Errorf("CLIExitFindings = %d, want 1", CLIExitFindings)
	}
	if CLIExitError != 2 {
		t.Errorf("CLIExitError = %d, want 2", CLIExitError)
	}
}
