// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report assembles evaluation records into the run report:
// per test summaries, overall aggregates, terminal rendering, and
// CSV/XLSX export.
package report

import (
	"time"

	"github.com/montanaflynn/stats"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// Metadata is the run description block: who ran what against which
// model and data, and when.
type Metadata struct {
	ID          string    `json:"id" yaml:"id"`
	Version     string    `json:"version" yaml:"version"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string    `json:"author,omitempty" yaml:"author,omitempty"`
	Model       string    `json:"model,omitempty" yaml:"model,omitempty"`
	Dataset     string    `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	Seed        int64     `json:"seed" yaml:"seed"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
}

// Duration is the wall time of the run.
func (m Metadata) Duration() time.Duration {
	return m.FinishedAt.Sub(m.StartedAt)
}

// TestSummary aggregates one test type's records. Errored counts
// records whose model call failed; those count against the pass rate
// but are reported apart from genuine mismatches.
type TestSummary struct {
	TestType    string  `json:"test_type" yaml:"test_type"`
	Category    string  `json:"category" yaml:"category"`
	Total       int     `json:"total" yaml:"total"`
	Passed      int     `json:"passed" yaml:"passed"`
	Failed      int     `json:"failed" yaml:"failed"`
	Errored     int     `json:"errored" yaml:"errored"`
	PassRate    float64 `json:"pass_rate" yaml:"pass_rate"`
	MinPassRate float64 `json:"min_pass_rate" yaml:"min_pass_rate"`
	Pass        bool    `json:"pass" yaml:"pass"`
}

// Report is the full outcome of one run.
type Report struct {
	RunID     string                       `json:"run_id" yaml:"run_id"`
	Task      datatypes.Task               `json:"task" yaml:"task"`
	Metadata  Metadata                     `json:"metadata" yaml:"metadata"`
	Summaries []TestSummary                `json:"summaries" yaml:"summaries"`
	Records   []datatypes.EvaluationRecord `json:"records" yaml:"records"`
}

// New builds a report from evaluated records, summarizing per test
// type against the resolved pass rate floors.
func New(runID string, task datatypes.Task, meta Metadata, records []datatypes.EvaluationRecord, resolved *datatypes.ResolvedConfig) *Report {
	return &Report{
		RunID:     runID,
		Task:      task,
		Metadata:  meta,
		Summaries: BuildSummaries(records, resolved),
		Records:   records,
	}
}

// BuildSummaries groups records by test type and scores each group
// against its configured minimum pass rate.
//
// Summaries follow the resolved config order; test types found in the
// records but not in the config (or when resolved is nil) append in
// first seen order with a zero floor. Test types that produced no
// records get no summary.
func BuildSummaries(records []datatypes.EvaluationRecord, resolved *datatypes.ResolvedConfig) []TestSummary {
	type bucket struct {
		category                       string
		total, passed, failed, errored int
	}
	buckets := make(map[string]*bucket)
	var seen []string

	for _, rec := range records {
		b, ok := buckets[rec.Case.TestType]
		if !ok {
			b = &bucket{category: rec.Case.Category}
			buckets[rec.Case.TestType] = b
			seen = append(seen, rec.Case.TestType)
		}
		b.total++
		switch {
		case rec.Pass:
			b.passed++
		case rec.FailureReason != "":
			b.errored++
		default:
			b.failed++
		}
	}

	order := seen
	if resolved != nil {
		order = make([]string, 0, len(seen))
		for _, cfg := range resolved.Tests() {
			if _, ok := buckets[cfg.TestType]; ok {
				order = append(order, cfg.TestType)
			}
		}
		for _, tt := range seen {
			if _, ok := resolved.Get(tt); !ok {
				order = append(order, tt)
			}
		}
	}

	out := make([]TestSummary, 0, len(order))
	for _, tt := range order {
		b := buckets[tt]
		var minRate float64
		if resolved != nil {
			if cfg, ok := resolved.Get(tt); ok {
				minRate = cfg.MinPassRate
			}
		}
		var rate float64
		if b.total > 0 {
			rate = float64(b.passed) / float64(b.total)
		}
		out = append(out, TestSummary{
			TestType:    tt,
			Category:    b.category,
			Total:       b.total,
			Passed:      b.passed,
			Failed:      b.failed,
			Errored:     b.errored,
			PassRate:    rate,
			MinPassRate: minRate,
			Pass:        rate >= minRate,
		})
	}
	return out
}

// Aggregates are the whole run rolled up across test types.
type Aggregates struct {
	Tests        int     `json:"tests" yaml:"tests"`
	TestsPassed  int     `json:"tests_passed" yaml:"tests_passed"`
	Cases        int     `json:"cases" yaml:"cases"`
	CasesPassed  int     `json:"cases_passed" yaml:"cases_passed"`
	PassRateMean float64 `json:"pass_rate_mean" yaml:"pass_rate_mean"`
	PassRateMin  float64 `json:"pass_rate_min" yaml:"pass_rate_min"`
	PassRateMax  float64 `json:"pass_rate_max" yaml:"pass_rate_max"`
}

// Aggregates rolls the summaries up: totals plus the mean, lowest,
// and highest per test pass rate.
func (r *Report) Aggregates() Aggregates {
	agg := Aggregates{Tests: len(r.Summaries)}
	if len(r.Summaries) == 0 {
		return agg
	}

	rates := make([]float64, 0, len(r.Summaries))
	for _, s := range r.Summaries {
		rates = append(rates, s.PassRate)
		agg.Cases += s.Total
		agg.CasesPassed += s.Passed
		if s.Pass {
			agg.TestsPassed++
		}
	}
	agg.PassRateMean, _ = stats.Mean(rates)
	agg.PassRateMin, _ = stats.Min(rates)
	agg.PassRateMax, _ = stats.Max(rates)
	return agg
}

// PassRates returns pass rate by test type.
func (r *Report) PassRates() map[string]float64 {
	out := make(map[string]float64, len(r.Summaries))
	for _, s := range r.Summaries {
		out[s.TestType] = s.PassRate
	}
	return out
}

// Passed reports whether every test met its pass rate floor.
func (r *Report) Passed() bool {
	for _, s := range r.Summaries {
		if !s.Pass {
			return false
		}
	}
	return true
}
