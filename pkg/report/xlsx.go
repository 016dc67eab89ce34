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
	"github.com/xuri/excelize/v2"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

// SaveXLSX writes the evaluated report as a workbook: a Results sheet
// with the same columns as the CSV export and a Summary sheet with the
// per test aggregation.
func (r *Report) SaveXLSX(path string) error {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return err
	}
	rows := make([][]any, 0, len(r.Records))
	for _, rec := range r.Records {
		rows = append(rows, []any{
			rec.Case.Category,
			rec.Case.TestType,
			rec.Case.Original,
			rec.Case.Perturbed,
			expectedCell(rec),
			actualCell(rec),
			rec.Pass,
		})
	}
	if err := writeSheet(f, resultsSheet, recordColumns, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	summaryRows := make([][]any, 0, len(r.Summaries))
	for _, s := range r.Summaries {
		summaryRows = append(summaryRows, []any{
			s.Category, s.TestType, s.Total, s.Passed, s.Failed, s.Errored,
			s.PassRate, s.MinPassRate, s.Pass,
		})
	}
	header := []string{"category", "test_type", "total", "passed", "failed", "errored", "pass_rate", "min_pass_rate", "pass"}
	if err := writeSheet(f, summarySheet, header, summaryRows); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

// writeSheet fills one sheet: header at row 1, data below.
func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for rowIdx, row := range rows {
		for col, v := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}
