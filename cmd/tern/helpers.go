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
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/tern/cmd/tern/config"
	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/models"
	"github.com/AleutianAI/tern/pkg/report"
	"github.com/AleutianAI/tern/pkg/runstore"
)

// resolvedBackend merges the backend flags with the config file
// defaults. Flags win.
type resolvedBackend struct {
	Backend  string
	Endpoint string
	Model    string
}

// resolveBackend applies the flag > config > built-in default order
// used by every command that talks to a model.
func resolveBackend() resolvedBackend {
	rb := resolvedBackend{
		Backend:  backendType,
		Endpoint: endpointURL,
		Model:    modelName,
	}
	if rb.Backend == "" {
		rb.Backend = config.Global.Model.Backend
	}
	if rb.Endpoint == "" {
		rb.Endpoint = config.Global.Model.BaseURL
	}
	if rb.Model == "" {
		rb.Model = config.Global.Model.Name
	}
	return rb
}

// buildClient constructs the model client for the resolved backend.
//
// The ollama and openai backends classify whole sequences, so they are
// rejected for NER datasets. Their constructors read environment
// variables; the endpoint and model flags are forwarded through those
// variables when set, matching how the services configure themselves.
func buildClient(rb resolvedBackend, task datatypes.Task) (models.Client, error) {
	switch rb.Backend {
	case "http":
		return models.NewHTTPClient(rb.Endpoint, rb.Model, task)
	case "ollama":
		if task != datatypes.TaskTextClassification {
			return nil, fmt.Errorf("backend %q supports text classification only, dataset is %s", rb.Backend, task)
		}
		if rb.Endpoint != "" {
			_ = os.Setenv("OLLAMA_BASE_URL", rb.Endpoint)
		}
		if rb.Model != "" {
			_ = os.Setenv("OLLAMA_MODEL", rb.Model)
		}
		return models.NewOllamaClient(labelSet)
	case "openai":
		if task != datatypes.TaskTextClassification {
			return nil, fmt.Errorf("backend %q supports text classification only, dataset is %s", rb.Backend, task)
		}
		return models.NewOpenAIClient(labelSet)
	default:
		return nil, fmt.Errorf("unknown backend %q (want http, ollama, or openai)", rb.Backend)
	}
}

// openRunStore opens the local run history configured in
// ~/.tern/tern.yaml.
func openRunStore() (*runstore.Store, error) {
	return runstore.Open(config.Global.Store.Dir)
}

// resolveFormat picks the export format: the --format flag if given,
// otherwise the destination extension.
func resolveFormat(path, format string) (string, error) {
	if format != "" {
		return strings.ToLower(format), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv", nil
	case ".xlsx":
		return "xlsx", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("cannot infer format from %q, pass --format csv|xlsx|json", path)
	}
}

// exportReport writes the report to path in the requested format.
func exportReport(rep *report.Report, path, format string) error {
	f, err := resolveFormat(path, format)
	if err != nil {
		return err
	}
	switch f {
	case "csv":
		return rep.SaveCSV(path)
	case "xlsx":
		return rep.SaveXLSX(path)
	case "json":
		return rep.SaveJSON(path)
	default:
		return fmt.Errorf("unknown report format %q (want csv, xlsx, or json)", f)
	}
}
