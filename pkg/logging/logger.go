// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Tern components.
//
// The package wraps the standard library slog with multi-destination
// output so the same call sites serve both CLI runs and the harnessd
// service:
//
//   - Default: stderr output, text format (Unix CLI convention)
//   - Optional: per-day JSON log files under a log directory
//   - Extensible: LogExporter implementations for external sinks
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("run started", "run_id", runID)
//	logger.Error("evaluation failed", "error", err)
//
// # File Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.tern/logs", // ~ expansion supported
//	    Service: "tern",
//	})
//	defer logger.Close()
//
// File logs are named "{service}_{date}.log" and always JSON, so a
// harness run leaves a machine-readable trail even when the terminal
// output is styled for humans.
//
// # Environment
//
// FromEnv reads TERN_LOG_LEVEL (debug|info|warn|error) and
// TERN_LOG_DIR. Unset variables fall back to Info and no file output.
//
// # Thread Safety
//
// Logger is safe for concurrent use. The underlying slog.Logger is
// thread-safe and mutable state is mutex-protected.
//
// # Security Considerations
//
// Nothing is redacted automatically. Model API keys and raw provider
// responses must not be passed as attribute values; log presence
// flags or sizes instead.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Environment variables read by FromEnv.
const (
	EnvLogLevel = "TERN_LOG_LEVEL"
	EnvLogDir   = "TERN_LOG_DIR"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
// Setting a minimum level discards everything below it.
type Level int

const (
	// LevelDebug is for development troubleshooting, including the
	// per-sample skip decisions made during test case generation.
	LevelDebug Level = iota

	// LevelInfo is for normal operational events: run started, cases
	// generated, report written.
	LevelInfo

	// LevelWarn is for recoverable issues such as a perturbation
	// failing on one sample or a model call being retried.
	LevelWarn

	// LevelError is for operation failures the run survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (any case) into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// toSlogLevel bridges Level to the standard library.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures Logger behavior. The zero value logs Info+ to
// stderr as text.
type Config struct {
	// Level is the minimum level to emit. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to the given directory. The file is
	// "{Service}_{YYYY-MM-DD}.log" in JSON format; the directory is
	// created with 0750 permissions when missing. Supports ~ expansion.
	// Default: "" (no file).
	LogDir string

	// Service is attached to every entry as the "service" attribute.
	// Recommended values: "tern", "harnessd". Default: none.
	Service string

	// JSON switches stderr output to JSON. File output is always JSON
	// regardless. Default: false.
	JSON bool

	// Quiet disables stderr output, leaving only file and exporter
	// destinations. Default: false.
	Quiet bool

	// Exporter, when set, receives every emitted entry asynchronously.
	// Export failures are dropped; logging must not fail the run.
	Exporter LogExporter
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// # Thread Safety
//
// Safe for concurrent use from multiple goroutines.
//
// # Resource Management
//
// Close flushes the exporter and closes the log file; always defer it
// when LogDir or Exporter is configured.
type Logger struct {
	slog     *slog.Logger
	config   Config
	file     *os.File
	exporter LogExporter
	mu       sync.Mutex
}

// New creates a Logger from config. Destinations that cannot be set
// up (an unwritable log directory, for instance) are skipped rather
// than failing construction; a CLI run without a log file is better
// than no run.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}

	logger := &Logger{
		config:   config,
		exporter: config.Exporter,
	}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}
	if fh, file := config.openLogFile(opts); fh != nil {
		logger.file = file
		handlers = append(handlers, fh)
	}

	handler := tee(handlers...)
	if handler == nil {
		// Quiet with no file still needs a sink for slog.
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	logger.slog = slog.New(handler)
	return logger
}

// openLogFile opens the per-day JSON log file named in LogDir.
// Returns nil when file logging is disabled or the directory cannot
// be prepared.
func (c Config) openLogFile(opts *slog.HandlerOptions) (slog.Handler, *os.File) {
	if c.LogDir == "" {
		return nil, nil
	}
	dir := expandPath(c.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, nil
	}

	service := c.Service
	if service == "" {
		service = "tern"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))

	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil
	}
	return slog.NewJSONHandler(file, opts), file
}

// Default returns an Info-level stderr logger for the "tern" service.
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "tern",
	})
}

// FromEnv builds a Logger for service from TERN_LOG_LEVEL and
// TERN_LOG_DIR. An unparseable level falls back to Info with a
// warning on the returned logger.
func FromEnv(service string) *Logger {
	level, err := ParseLevel(os.Getenv(EnvLogLevel))
	logger := New(Config{
		Level:   level,
		LogDir:  os.Getenv(EnvLogDir),
		Service: service,
	})
	if err != nil {
		logger.Warn("invalid log level, using info", "var", EnvLogLevel, "error", err.Error())
	}
	return logger
}

// Debug logs a message at Debug level with key-value attributes.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs a message at Info level with key-value attributes.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a message at Warn level with key-value attributes.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs a message at Error level with key-value attributes.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a child logger carrying additional attributes. The
// parent is unmodified; file handle and exporter are shared.
//
// Example:
//
//	runLogger := logger.With("run_id", runID)
//	runLogger.Info("generation complete", "cases", n)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		file:     l.file,
		exporter: l.exporter,
	}
}

// Slog returns the underlying slog.Logger, for slog.SetDefault and
// for libraries that take *slog.Logger directly.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter, syncs and closes the log file. Returns
// the first error encountered.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// log writes to slog and forwards to the exporter.
func (l *Logger) log(level Level, msg string, args ...any) {
	l.slog.Log(context.Background(), level.toSlogLevel(), msg, args...)

	if l.exporter != nil && level >= l.config.Level {
		entry := LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.config.Service,
			Attrs:     argsToMap(args),
		}
		// Async so a slow exporter cannot stall the harness.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.exporter.Export(ctx, entry)
		}()
	}
}

// =============================================================================
// Tee Handler (Internal)
// =============================================================================

// teeHandler duplicates records across slog handlers so one logger
// can write text to stderr and JSON to the file.
type teeHandler struct {
	handlers []slog.Handler
}

// tee combines handlers into one. Returns nil for an empty list and
// the handler itself for a single-element list.
func tee(handlers ...slog.Handler) slog.Handler {
	switch len(handlers) {
	case 0:
		return nil
	case 1:
		return handlers[0]
	default:
		return &teeHandler{handlers: handlers}
	}
}

// Enabled reports whether any destination wants the level.
func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers the record to every enabled destination. The first
// handler error stops delivery.
func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// WithAttrs applies the attributes to every destination.
func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

// WithGroup applies the group to every destination.
func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands a leading "~/" (or a bare "~") to the user's
// home directory. Other paths pass through, including "~user" forms.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// argsToMap converts slog-style key-value args to a map for export.
// Non-string keys and a dangling trailing value are dropped.
func argsToMap(args []any) map[string]any {
	attrs := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs[key] = args[i+1]
	}
	return attrs
}
