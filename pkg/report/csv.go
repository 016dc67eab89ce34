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
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

var caseColumns = []string{"category", "test_type", "original", "test_case", "expected_result"}

var recordColumns = []string{"category", "test_type", "original", "test_case", "expected_result", "actual_result", "pass"}

// WriteCasesCSV writes a generated suite before evaluation: one row
// per case, expected result rendered in its string form.
func WriteCasesCSV(w io.Writer, cases []datatypes.TestCase) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(caseColumns); err != nil {
		return err
	}
	for _, tc := range cases {
		row := []string{tc.Category, tc.TestType, tc.Original, tc.Perturbed, outputCell(tc.Expected)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}

// SaveCasesCSV writes a generated suite to a file.
func SaveCasesCSV(path string, cases []datatypes.TestCase) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteCasesCSV(f, cases)
}

// WriteCSV writes the evaluated report: the case rows plus what the
// model actually produced and whether each case passed.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(recordColumns); err != nil {
		return err
	}
	for _, rec := range r.Records {
		row := []string{
			rec.Case.Category,
			rec.Case.TestType,
			rec.Case.Original,
			rec.Case.Perturbed,
			expectedCell(rec),
			actualCell(rec),
			strconv.FormatBool(rec.Pass),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}

// SaveCSV writes the evaluated report to a file.
func (r *Report) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.WriteCSV(f)
}

// expectedCell renders what the case was compared against: the metric
// floor for accuracy rows, the model's own baseline output for
// robustness rows, and the carried gold labels otherwise.
func expectedCell(rec datatypes.EvaluationRecord) string {
	if rec.MetricThreshold != nil {
		return formatScore(*rec.MetricThreshold)
	}
	if rec.Case.Category == datatypes.CategoryRobustness && rec.ActualOriginal != nil {
		return rec.ActualOriginal.String()
	}
	return outputCell(rec.Case.Expected)
}

// actualCell renders the observed side: the computed metric for
// accuracy rows, the model output on the perturbed text otherwise.
// Failed model calls leave the cell empty.
func actualCell(rec datatypes.EvaluationRecord) string {
	if rec.MetricValue != nil {
		return formatScore(*rec.MetricValue)
	}
	return outputCell(rec.ActualPerturbed)
}

func outputCell(out datatypes.Output) string {
	if out == nil {
		return ""
	}
	return out.String()
}

func formatScore(x float64) string {
	return strconv.FormatFloat(x, 'f', 4, 64)
}
