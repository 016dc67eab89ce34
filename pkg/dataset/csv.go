// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// Column name aliases accepted for classification CSVs, matched case
// insensitively.
var (
	textColumnAliases  = []string{"text", "sentences", "sentence", "sample"}
	labelColumnAliases = []string{"label", "labels", "class", "classes"}
)

// CSVSource reads text classification data from a CSV with a header
// row. The text and label columns are found by alias; extra columns
// are ignored.
type CSVSource struct {
	path   string
	loaded bool
}

var _ Source = (*CSVSource)(nil)

// NewCSVSource returns a source for a classification CSV.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Task implements Source.
func (c *CSVSource) Task() datatypes.Task { return datatypes.TaskTextClassification }

// Load implements Source. Sample IDs are the data row numbers,
// starting at zero.
func (c *CSVSource) Load() ([]datatypes.Sample, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}

	textCol, err := findColumn(rows[0], textColumnAliases)
	if err != nil {
		return nil, err
	}
	labelCol, err := findColumn(rows[0], labelColumnAliases)
	if err != nil {
		return nil, err
	}

	samples := make([]datatypes.Sample, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if textCol >= len(row) || labelCol >= len(row) {
			return nil, fmt.Errorf("row %d has %d columns, need %d", i, len(row), max(textCol, labelCol)+1)
		}
		sample := datatypes.Sample{
			ID:   strconv.Itoa(i),
			Text: row[textCol],
			Task: datatypes.TaskTextClassification,
			Labels: datatypes.SequenceClassificationOutput{
				{Label: row[labelCol], Score: 1.0},
			},
		}
		if err := sample.Validate(); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	c.loaded = true
	return samples, nil
}

// Export implements Source. Cases are written as a CSV of category,
// test type, original, perturbed text, and expected label.
func (c *CSVSource) Export(cases []datatypes.TestCase, outputPath string) error {
	if !c.loaded {
		return ErrNotLoaded
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"category", "test_type", "original", "test_case", "expected_label"}); err != nil {
		return err
	}
	for _, tc := range cases {
		label := ""
		if seq, ok := tc.Expected.(datatypes.SequenceClassificationOutput); ok {
			if top, ok := seq.Top(); ok {
				label = top.Label
			}
		}
		if err := w.Write([]string{tc.Category, tc.TestType, tc.Original, tc.Perturbed, label}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// findColumn locates the first header matching any alias.
func findColumn(header []string, aliases []string) (int, error) {
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		for _, alias := range aliases {
			if name == alias {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: none of %s found in header", ErrMissingColumn, strings.Join(aliases, "/"))
}
