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
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/tern/pkg/logging"
	"github.com/AleutianAI/tern/pkg/runstore"
	"github.com/AleutianAI/tern/pkg/telemetry"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch kind := os.Getenv("OTEL_TRACES_EXPORTER"); kind {
	case "", "otlp":
		otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		if otelEndpoint == "" {
			otelEndpoint = "localhost:4317"
		}
		conn, err := grpc.NewClient(otelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, err
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, err
		}
	case "stdout":
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown OTEL_TRACES_EXPORTER %q (want otlp or stdout)", kind)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("harnessd")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown the trace exporter", "error", err)
		}
	}, nil
}

// storeDir resolves the run history location. TERN_STORE_DIR wins so a
// container can mount the history wherever it likes.
func storeDir() (string, error) {
	if dir := os.Getenv("TERN_STORE_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("TERN_STORE_DIR not set and no home directory: %w", err)
	}
	return filepath.Join(home, ".tern", "runs"), nil
}

func main() {
	port := os.Getenv("HARNESSD_PORT")
	if port == "" {
		port = "8700"
	}

	slog.SetDefault(logging.FromEnv("harnessd").Slog())

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the trace exporter: %v", err)
	}
	defer cleanup(context.Background())

	dir, err := storeDir()
	if err != nil {
		log.Fatalf("failed to resolve the run store location: %v", err)
	}
	store, err := runstore.Open(dir)
	if err != nil {
		log.Fatalf("failed to open the run store at %s: %v", dir, err)
	}
	defer store.Close()

	// Run metrics land on a private registry so /metrics serves only
	// what this service produces.
	registry := prometheus.NewRegistry()
	promCfg := telemetry.DefaultPrometheusConfig()
	promCfg.Registry = registry
	metrics, err := telemetry.NewPrometheusSink(promCfg)
	if err != nil {
		log.Fatalf("failed to create the metrics sink: %v", err)
	}
	defer metrics.Close()

	runner := NewRunner(store, metrics)

	slog.Info("Starting Tern harness daemon",
		"port", port,
		"store_dir", dir,
		"max_active_runs", MAX_ACTIVE_RUNS)

	router := gin.Default()
	router.Use(otelgin.Middleware("harnessd"))

	setupRoutes(router, runner, registry)

	slog.Info("Starting harnessd API server", "port", port)
	if err := router.Run(":" + port); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
