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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/tern/pkg/harness"
	"github.com/AleutianAI/tern/pkg/runstore"
	"github.com/AleutianAI/tern/pkg/validation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

func setupRoutes(router *gin.Engine, runner *Runner, registry *prometheus.Registry) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "tern-harnessd",
			"version": harness.Version,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/runs", handleCreateRun(runner))
		v1.GET("/runs", handleListRuns(runner))
		v1.GET("/runs/:runId", handleGetRun(runner))
		v1.GET("/runs/:runId/report", handleGetReport(runner))
		v1.GET("/runs/:runId/events", handleRunEvents(runner))
	}
}

// handleCreateRun submits a harness run and answers immediately with
// the queued status. The run executes in the background; its id is
// valid for the status, report, and events endpoints right away.
func handleCreateRun(runner *Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
		if req.Config == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No run config provided"})
			return
		}

		status, err := runner.Submit(req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run submission", "details": err.Error()})
			return
		}

		slog.Info("Run submitted", "run_id", status.RunID, "task", status.Task, "dataset", status.Dataset)
		c.JSON(http.StatusCreated, status)
	}
}

func handleListRuns(runner *Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, err := runner.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": statuses, "count": len(statuses)})
	}
}

func handleGetRun(runner *Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		if err := validation.ValidateRunID(runID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id", "details": err.Error()})
			return
		}

		status, err := runner.Status(c.Request.Context(), runID)
		if errors.Is(err, runstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown run", "run_id": runID})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load run", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// handleGetReport serves the stored report for a completed run.
// Queued and running runs have nothing in the store yet and 404.
func handleGetReport(runner *Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		if err := validation.ValidateRunID(runID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id", "details": err.Error()})
			return
		}

		rep, err := runner.Report(c.Request.Context(), runID)
		if errors.Is(err, runstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No stored report for run", "run_id": runID})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load report", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}

// handleRunEvents streams run status updates over a websocket. The
// current status goes out immediately on connect; the stream ends
// after the terminal update. Runs from an earlier process get their
// stored status and an immediate close.
func handleRunEvents(runner *Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		if err := validation.ValidateRunID(runID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id", "details": err.Error()})
			return
		}

		ch, cancel, live := runner.Subscribe(runID)
		if !live {
			status, err := runner.Status(c.Request.Context(), runID)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Unknown run", "run_id": runID})
				return
			}
			ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
			if err != nil {
				slog.Error("failed to upgrade the websocket", "error", err)
				return
			}
			defer ws.Close()
			_ = sendJSON(ws, status)
			return
		}
		defer cancel()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected", "run_id", runID)

		// Snapshot after subscribing, so no transition lands between
		// the first frame and the feed.
		status, err := runner.Status(c.Request.Context(), runID)
		if err != nil {
			return
		}
		if sendJSON(ws, status) != nil {
			return
		}
		if terminal(status.State) {
			return
		}

		for status := range ch {
			if sendJSON(ws, status) != nil {
				return
			}
			if terminal(status.State) {
				return
			}
		}
	}
}
