// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/AleutianAI/tern/pkg/ux"
)

// RenderSummary writes the human readable run summary: the metadata
// header, the per test table, and the overall verdict. With styled
// set, pass/fail markers use the terminal palette; plain output is
// stable for piping and tests.
func (r *Report) RenderSummary(w io.Writer, styled bool) {
	title := "Run " + r.RunID
	if styled {
		title = ux.Styles.Title.Render(title)
	}
	fmt.Fprintln(w, title)

	meta := fmt.Sprintf("  task: %s   model: %s   dataset: %s", r.Task, orDash(r.Metadata.Model), orDash(r.Metadata.Dataset))
	agg := r.Aggregates()
	meta2 := fmt.Sprintf("  seed: %d   cases: %d   duration: %s", r.Metadata.Seed, agg.Cases, formatDuration(r.Metadata.Duration()))
	if styled {
		meta = ux.Styles.Muted.Render(meta)
		meta2 = ux.Styles.Muted.Render(meta2)
	}
	fmt.Fprintln(w, meta)
	fmt.Fprintln(w, meta2)
	fmt.Fprintln(w)

	catW, typeW := len("CATEGORY"), len("TEST TYPE")
	for _, s := range r.Summaries {
		if len(s.Category) > catW {
			catW = len(s.Category)
		}
		if len(s.TestType) > typeW {
			typeW = len(s.TestType)
		}
	}

	header := fmt.Sprintf("  %-*s  %-*s  %7s  %5s  %5s  %s", catW, "CATEGORY", typeW, "TEST TYPE", "PASSED", "RATE", "MIN", "STATUS")
	if styled {
		header = ux.Styles.Bold.Render(header)
	}
	fmt.Fprintln(w, header)

	for _, s := range r.Summaries {
		status := "PASS"
		if !s.Pass {
			status = "FAIL"
		}
		if styled {
			if s.Pass {
				status = ux.Styles.Success.Render("✓ PASS")
			} else {
				status = ux.Styles.Error.Render("✗ FAIL")
			}
		}
		fmt.Fprintf(w, "  %-*s  %-*s  %7s  %5s  %5s  %s\n",
			catW, s.Category,
			typeW, s.TestType,
			fmt.Sprintf("%d/%d", s.Passed, s.Total),
			percent(s.PassRate),
			percent(s.MinPassRate),
			status)
	}

	fmt.Fprintln(w)
	verdict := fmt.Sprintf("%d/%d tests passed", agg.TestsPassed, agg.Tests)
	if agg.Tests > 0 {
		verdict += fmt.Sprintf("   pass rate mean %s (min %s, max %s)",
			percent(agg.PassRateMean), percent(agg.PassRateMin), percent(agg.PassRateMax))
	}
	if styled {
		if r.Passed() {
			verdict = ux.Styles.Success.Render(verdict)
		} else {
			verdict = ux.Styles.Warning.Render(verdict)
		}
	}
	fmt.Fprintln(w, verdict)
}

func percent(x float64) string {
	return strconv.FormatFloat(x*100, 'f', 0, 64) + "%"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
