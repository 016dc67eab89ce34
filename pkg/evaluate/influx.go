// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"context"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// RecordSink receives evaluation records as they are produced, for
// time series storage alongside the run report.
type RecordSink interface {
	StoreRecord(ctx context.Context, runID string, rec datatypes.EvaluationRecord) error
	Close()
}

// InfluxRecordSink writes evaluation records to InfluxDB, one point
// per record tagged by run, test type, and result.
type InfluxRecordSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

// NewInfluxRecordSink builds a sink from the INFLUXDB_* environment
// variables, with local development defaults.
func NewInfluxRecordSink() (*InfluxRecordSink, error) {
	url := os.Getenv("INFLUXDB_URL")
	if url == "" {
		url = "http://localhost:8086"
	}

	token := os.Getenv("INFLUXDB_TOKEN")
	if token == "" {
		// Fall back to the local compose stack's dev token
		token = "dev-token"
	}

	org := os.Getenv("INFLUXDB_ORG")
	if org == "" {
		org = "tern"
	}

	bucket := os.Getenv("INFLUXDB_BUCKET")
	if bucket == "" {
		bucket = "harness-runs"
	}

	client := influxdb2.NewClient(url, token)
	writeAPI := client.WriteAPIBlocking(org, bucket)

	return &InfluxRecordSink{
		client:   client,
		writeAPI: writeAPI,
		bucket:   bucket,
		org:      org,
	}, nil
}

// StoreRecord implements RecordSink.
func (s *InfluxRecordSink) StoreRecord(ctx context.Context, runID string, rec datatypes.EvaluationRecord) error {
	p := influxdb2.NewPointWithMeasurement("evaluation_records").
		AddTag("run_id", runID).
		AddTag("category", rec.Case.Category).
		AddTag("test_type", rec.Case.TestType).
		AddTag("result", recordResult(rec)).
		AddField("case_id", rec.Case.ID).
		AddField("sample_id", rec.Case.SampleID).
		AddField("original", rec.Case.Original).
		AddField("test_case", rec.Case.Perturbed).
		AddField("actual", outputField(rec.ActualPerturbed)).
		AddField("pass", rec.Pass).
		AddField("failure_reason", rec.FailureReason).
		SetTime(time.Now())

	if rec.MetricValue != nil {
		p.AddField("metric_value", *rec.MetricValue)
	}
	if rec.MetricThreshold != nil {
		p.AddField("metric_threshold", *rec.MetricThreshold)
	}

	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxRecordSink) Close() {
	s.client.Close()
}

func outputField(out datatypes.Output) string {
	if out == nil {
		return ""
	}
	return out.String()
}
