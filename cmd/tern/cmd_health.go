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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tern/cmd/tern/config"
	"github.com/AleutianAI/tern/pkg/ux"
)

// healthCheck is one probe result.
type healthCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// runHealthCommand probes the pieces a run depends on: the harness
// service, the configured model backend, and the local run store.
// Exits non-zero when any probe fails, so scripts can gate on it.
func runHealthCommand(cmd *cobra.Command, _ []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	checks := []healthCheck{
		checkService(ctx),
		checkBackend(ctx),
		checkStore(),
	}

	if jsonOutput {
		if err := OutputJSON(checks); err != nil {
			fatal("encode JSON", err)
		}
	} else {
		ux.Title("Tern health")
		for _, c := range checks {
			detail := c.Detail
			if c.LatencyMs > 0 {
				detail = fmt.Sprintf("%s (%dms)", detail, c.LatencyMs)
			}
			ux.ResultLine(ux.StatusIcon(c.OK), c.Name, detail)
		}
	}

	for _, c := range checks {
		if !c.OK {
			os.Exit(CLIExitFindings)
		}
	}
}

// checkService probes the harnessd /health endpoint.
func checkService(ctx context.Context) healthCheck {
	hc := healthCheck{Name: "harnessd"}
	base := strings.TrimSuffix(config.Global.Service.BaseURL, "/")

	start := time.Now()
	body, status, err := httpGet(ctx, base+"/health")
	hc.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		hc.Detail = fmt.Sprintf("unreachable at %s: %v", base, err)
		return hc
	}
	if status != http.StatusOK {
		hc.Detail = fmt.Sprintf("status %d from %s/health", status, base)
		return hc
	}

	var payload struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	hc.OK = true
	hc.Detail = "ok"
	if err := json.Unmarshal(body, &payload); err == nil && payload.Version != "" {
		hc.Detail = "ok, v" + payload.Version
	}
	return hc
}

// checkBackend probes the configured model backend for reachability.
// For the http backend any response proves a listener; a model server
// is not required to answer GET.
func checkBackend(ctx context.Context) healthCheck {
	rb := resolveBackend()
	hc := healthCheck{Name: "model backend (" + rb.Backend + ")"}

	switch rb.Backend {
	case "http":
		if rb.Endpoint == "" {
			hc.Detail = "no endpoint configured"
			return hc
		}
		start := time.Now()
		_, status, err := httpGet(ctx, rb.Endpoint)
		hc.LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			hc.Detail = fmt.Sprintf("unreachable at %s: %v", rb.Endpoint, err)
			return hc
		}
		hc.OK = true
		hc.Detail = fmt.Sprintf("listening at %s (status %d)", rb.Endpoint, status)

	case "ollama":
		base := rb.Endpoint
		if base == "" {
			base = os.Getenv("OLLAMA_BASE_URL")
		}
		if base == "" {
			hc.Detail = "OLLAMA_BASE_URL not set"
			return hc
		}
		start := time.Now()
		_, status, err := httpGet(ctx, strings.TrimSuffix(base, "/")+"/api/tags")
		hc.LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			hc.Detail = fmt.Sprintf("unreachable at %s: %v", base, err)
			return hc
		}
		if status != http.StatusOK {
			hc.Detail = fmt.Sprintf("status %d from %s/api/tags", status, base)
			return hc
		}
		hc.OK = true
		hc.Detail = "ok"

	case "openai":
		if os.Getenv("OPENAI_API_KEY") == "" {
			if _, err := os.Stat("/run/secrets/openai_api_key"); err != nil {
				hc.Detail = "no OPENAI_API_KEY and no key at /run/secrets/openai_api_key"
				return hc
			}
		}
		hc.OK = true
		hc.Detail = "API key present"

	default:
		hc.Detail = fmt.Sprintf("unknown backend %q", rb.Backend)
	}
	return hc
}

// checkStore verifies the run history directory is usable. A missing
// directory is fine; the first run creates it.
func checkStore() healthCheck {
	hc := healthCheck{Name: "run store"}
	dir := config.Global.Store.Dir

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		hc.OK = true
		hc.Detail = dir + " (created on first run)"
	case err != nil:
		hc.Detail = fmt.Sprintf("%s: %v", dir, err)
	case !info.IsDir():
		hc.Detail = dir + " is not a directory"
	default:
		hc.OK = true
		hc.Detail = dir
	}
	return hc
}

// httpGet fetches a URL with the context deadline and returns the
// body and status code. Bodies are capped at 1MB; health endpoints
// have no business being larger.
func httpGet(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
