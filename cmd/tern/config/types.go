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
)

// CurrentConfigVersion is written into newly created config files.
// Bump it when the schema changes shape.
const CurrentConfigVersion = "1"

type TernConfig struct {
	// Meta tracks the config schema itself.
	Meta MetaConfig `yaml:"meta"`

	// Model selects the default inference backend for runs.
	Model ModelConfig `yaml:"model"`

	// Service points at the harnessd instance health checks ping.
	Service ServiceConfig `yaml:"service"`

	// Store configures the local run history.
	Store StoreConfig `yaml:"store"`

	// Archive holds Google Cloud Storage settings for --archive.
	Archive ArchiveConfig `yaml:"archive"`

	// Defaults seed run flags that were not given on the command line.
	Defaults RunDefaults `yaml:"defaults"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type ModelConfig struct {
	// Backend can be "http", "ollama", or "openai".
	Backend string `yaml:"backend"`
	BaseURL string `yaml:"base_url,omitempty"`
	Name    string `yaml:"name,omitempty"`
}

type ServiceConfig struct {
	BaseURL string `yaml:"base_url"`
}

type StoreConfig struct {
	// Dir is the BadgerDB directory holding run history.
	Dir string `yaml:"dir"`
}

type ArchiveConfig struct {
	// Project is the GCP project, used for logging only.
	Project string `yaml:"project,omitempty"`

	// KeyPath points at a service account key file. Empty means
	// application default credentials.
	KeyPath string `yaml:"key_path,omitempty"`
}

type RunDefaults struct {
	Workers        int `yaml:"workers"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// defaultStoreDir places the run history under the user's tern
// directory, falling back to a relative path with no home.
func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tern/runs"
	}
	return filepath.Join(home, ".tern", "runs")
}

func DefaultConfig() TernConfig {
	return TernConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Model: ModelConfig{
			Backend: "http",
			BaseURL: "http://localhost:8500",
		},
		Service: ServiceConfig{
			BaseURL: "http://localhost:8700",
		},
		Store: StoreConfig{
			Dir: defaultStoreDir(),
		},
		Defaults: RunDefaults{
			Workers:        4,
			TimeoutSeconds: 120,
		},
	}
}
