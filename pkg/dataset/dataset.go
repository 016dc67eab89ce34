// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset loads annotated samples from files and exports
// generated test cases back out for review.
//
// The format is picked by file extension: .conll and .txt parse as
// CoNLL token annotation (NER task), .csv as a text/label table
// (classification task). A Source retains whatever per token metadata
// the format carries, so exporting test cases can reproduce the
// source layout.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no Source
	// understands.
	ErrUnsupportedFormat = errors.New("unsupported dataset format")

	// ErrNotLoaded is returned when Export is called before Load; the
	// exporter realigns against annotations retained during loading.
	ErrNotLoaded = errors.New("dataset not loaded")

	// ErrMissingColumn is returned when a CSV has no recognizable
	// text or label column.
	ErrMissingColumn = errors.New("missing required column")
)

// Source is one dataset file: samples in, test cases out.
type Source interface {
	// Load parses the file into validated samples.
	Load() ([]datatypes.Sample, error)

	// Export writes generated test cases in the source's own format.
	// Must be called after Load.
	Export(cases []datatypes.TestCase, outputPath string) error

	// Task reports the task this source's samples carry.
	Task() datatypes.Task
}

// Open returns the Source for a dataset path, dispatching on the
// file extension.
func Open(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".conll", ".txt":
		return NewCoNLLSource(path), nil
	case ".csv":
		return NewCSVSource(path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
