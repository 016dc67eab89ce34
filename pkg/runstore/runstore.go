// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runstore persists run reports in a local embedded BadgerDB,
// giving the CLI and the service a shared run history without any
// external database.
//
// Two keys exist per run: the full report under "run:<id>" and a
// compact RunInfo under "meta:<id>" so listing does not decode whole
// record sets.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/tern/pkg/report"
)

// ErrNotFound is returned when no run exists under the requested id.
var ErrNotFound = errors.New("run not found")

const (
	runPrefix  = "run:"
	metaPrefix = "meta:"

	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

// RunInfo is the listing view of one stored run.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	Task        string    `json:"task"`
	Model       string    `json:"model"`
	Dataset     string    `json:"dataset"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Cases       int       `json:"cases"`
	Tests       int       `json:"tests"`
	TestsPassed int       `json:"tests_passed"`
	Passed      bool      `json:"passed"`
}

// Store is a run history database. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens (or creates) the run history at dir.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("run store directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create run store directory %s: %w", dir, err)
	}

	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	s := &Store{
		db:     db,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}
	go s.runGC()
	return s, nil
}

// OpenInMemory opens a store that is lost on Close. For tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	s := &Store{db: db}
	return s, nil
}

// Close stops value log garbage collection and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}

// Save persists a report under its run id, overwriting any previous
// run with the same id.
func (s *Store) Save(ctx context.Context, rep *report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rep == nil || rep.RunID == "" {
		return errors.New("report must carry a run id")
	}

	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	info, err := json.Marshal(infoFrom(rep))
	if err != nil {
		return fmt.Errorf("encode run info: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(runKey(rep.RunID), data); err != nil {
			return err
		}
		return txn.Set(metaKey(rep.RunID), info)
	})
	if err != nil {
		return fmt.Errorf("store run %s: %w", rep.RunID, err)
	}

	slog.Debug("Stored run", "run_id", rep.RunID, "bytes", len(data))
	return nil
}

// Load returns one stored report.
func (s *Store) Load(ctx context.Context, runID string) (*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rep report.Report
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("run %q: %w", runID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rep)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// List returns every stored run, newest first.
func (s *Store) List(ctx context.Context) ([]RunInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var runs []RunInfo
	prefix := []byte(metaPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var info RunInfo
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				// Skip corrupt entries rather than hiding the rest
				// of the history.
				slog.Warn("Skipping unreadable run entry",
					"key", string(it.Item().Key()), "error", err)
				continue
			}
			runs = append(runs, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].RunID > runs[j].RunID
	})
	return runs, nil
}

// Delete removes one run from the history.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(runID)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("run %q: %w", runID, ErrNotFound)
		} else if err != nil {
			return err
		}
		if err := txn.Delete(runKey(runID)); err != nil {
			return err
		}
		return txn.Delete(metaKey(runID))
	})
}

func runKey(id string) []byte  { return []byte(runPrefix + id) }
func metaKey(id string) []byte { return []byte(metaPrefix + id) }

func infoFrom(rep *report.Report) RunInfo {
	agg := rep.Aggregates()
	return RunInfo{
		RunID:       rep.RunID,
		Task:        string(rep.Task),
		Model:       rep.Metadata.Model,
		Dataset:     rep.Metadata.Dataset,
		StartedAt:   rep.Metadata.StartedAt,
		FinishedAt:  rep.Metadata.FinishedAt,
		Cases:       agg.Cases,
		Tests:       agg.Tests,
		TestsPassed: agg.TestsPassed,
		Passed:      rep.Passed(),
	}
}

// runGC periodically compacts the value log. ErrNoRewrite means no
// garbage met the threshold, not a failure.
func (s *Store) runGC() {
	defer close(s.doneGC)

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(gcDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("Run store value log GC failed", "error", err)
			}
		}
	}
}
