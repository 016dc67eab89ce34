// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".tern", "tern.yaml")

	if err := createDefault(configPath); err != nil {
		t.Fatalf("createDefault() failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}

	var cfg TernConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}

	if cfg.Model.Backend != "http" {
		t.Errorf("Model.Backend = %q, want %q", cfg.Model.Backend, "http")
	}
	if cfg.Meta.Version != CurrentConfigVersion {
		t.Errorf("Meta.Version = %q, want %q", cfg.Meta.Version, CurrentConfigVersion)
	}
	if cfg.Store.Dir == "" {
		t.Error("Store.Dir should default to a non-empty path")
	}
}

// TestCreateDefault_DirectoryCreation verifies directory is created.
func TestCreateDefault_DirectoryCreation(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "deep", "nested", "path", "tern.yaml")

	if err := createDefault(configPath); err != nil {
		t.Fatalf("createDefault() failed with nested path: %v", err)
	}

	dirPath := filepath.Dir(configPath)
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		t.Fatal("nested directories were not created")
	}
}

// TestApplyFallbacks verifies empty fields pick up defaults while set
// fields are preserved.
func TestApplyFallbacks(t *testing.T) {
	cfg := TernConfig{}
	applyFallbacks(&cfg)

	if cfg.Model.Backend != "http" {
		t.Errorf("Model.Backend = %q, want %q", cfg.Model.Backend, "http")
	}
	if cfg.Defaults.Workers != 4 {
		t.Errorf("Defaults.Workers = %d, want 4", cfg.Defaults.Workers)
	}
	if cfg.Defaults.TimeoutSeconds != 120 {
		t.Errorf("Defaults.TimeoutSeconds = %d, want 120", cfg.Defaults.TimeoutSeconds)
	}

	cfg = TernConfig{
		Model:    ModelConfig{Backend: "ollama", BaseURL: "http://gpu-box:11434"},
		Defaults: RunDefaults{Workers: 16},
	}
	applyFallbacks(&cfg)

	if cfg.Model.Backend != "ollama" {
		t.Errorf("Model.Backend = %q, want preserved %q", cfg.Model.Backend, "ollama")
	}
	if cfg.Model.BaseURL != "http://gpu-box:11434" {
		t.Errorf("Model.BaseURL = %q, want preserved value", cfg.Model.BaseURL)
	}
	if cfg.Defaults.Workers != 16 {
		t.Errorf("Defaults.Workers = %d, want preserved 16", cfg.Defaults.Workers)
	}
}

// TestDefaultStoreDir verifies the run history lands under the home
// directory when one exists.
func TestDefaultStoreDir(t *testing.T) {
	dir := defaultStoreDir()
	if dir == "" {
		t.Fatal("defaultStoreDir() returned empty path")
	}
	if home, err := os.UserHomeDir(); err == nil {
		want := filepath.Join(home, ".tern", "runs")
		if dir != want {
			t.Errorf("defaultStoreDir() = %q, want %q", dir, want)
		}
	}
}
