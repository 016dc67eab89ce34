// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the Tern harness daemon

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/tern/pkg/datatypes"
	"github.com/AleutianAI/tern/pkg/report"
	"github.com/AleutianAI/tern/pkg/runstore"
	"github.com/AleutianAI/tern/pkg/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Test Fixtures ---

const testRunConfig = `
metadata:
  id: svc-smoke
  version: 1.0.0
tests:
  defaults:
    min_pass_rate: 0.5
  robustness:
    uppercase:
`

func createTestRunner(t *testing.T) *Runner {
	t.Helper()
	store, err := runstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRunner(store, telemetry.NewNoOpSink())
}

func createGinContext(method string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		c.Request = httptest.NewRequest(method, "/", bytes.NewReader(jsonBody))
		c.Request.Header.Set("Content-Type", "application/json")
	} else {
		c.Request = httptest.NewRequest(method, "/", nil)
	}

	return c, w
}

func inlineSamples() []datatypes.Sample {
	return []datatypes.Sample{
		{Text: "the service was great", Labels: datatypes.SequenceClassificationOutput{{Label: "positive", Score: 1}}},
		{Text: "what a waste of money", Labels: datatypes.SequenceClassificationOutput{{Label: "negative", Score: 1}}},
	}
}

// scriptedBackend answers the model server protocol with a label
// keyed off the request text, case-insensitively so perturbed
// variants get the same label as their originals.
func scriptedBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		label := "negative"
		if strings.Contains(strings.ToLower(req.Text), "great") {
			label = "positive"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"labels": []map[string]interface{}{{"label": label, "score": 0.99}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitForTerminal(t *testing.T, runner *Runner, runID string) RunStatus {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		status, err := runner.Status(context.Background(), runID)
		if err != nil {
			t.Fatalf("status for %s: %v", runID, err)
		}
		if terminal(status.State) {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal state", runID)
	return RunStatus{}
}

// --- Submit Tests ---

func TestRunnerSubmit_BadConfig(t *testing.T) {
	runner := createTestRunner(t)

	_, err := runner.Submit(CreateRunRequest{
		Config:  "tests: [",
		Task:    "text-classification",
		Samples: inlineSamples(),
	})

	if err == nil {
		t.Fatal("Expected error for malformed config")
	}
	if !strings.Contains(err.Error(), "parse config") {
		t.Errorf("Expected 'parse config' in error, got %v", err)
	}
}

func TestRunnerSubmit_NoData(t *testing.T) {
	runner := createTestRunner(t)

	_, err := runner.Submit(CreateRunRequest{Config: testRunConfig})

	if err == nil || !strings.Contains(err.Error(), "data_path or samples") {
		t.Errorf("Expected 'data_path or samples' error, got %v", err)
	}
}

func TestRunnerSubmit_BothDataSources(t *testing.T) {
	runner := createTestRunner(t)

	_, err := runner.Submit(CreateRunRequest{
		Config:   testRunConfig,
		DataPath: "train.conll",
		Task:     "text-classification",
		Samples:  inlineSamples(),
	})

	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("Expected 'mutually exclusive' error, got %v", err)
	}
}

func TestRunnerSubmit_EscapingDataPath(t *testing.T) {
	runner := createTestRunner(t)

	_, err := runner.Submit(CreateRunRequest{
		Config:   testRunConfig,
		DataPath: "../../etc/passwd",
	})

	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("Expected path escape error, got %v", err)
	}
}

func TestRunnerSubmit_InlineRunCompletes(t *testing.T) {
	backend := scriptedBackend(t)
	t.Setenv("TERN_BACKEND_TYPE", "http")
	t.Setenv("TERN_MODEL_URL", backend.URL)
	t.Setenv("TERN_MODEL_NAME", "scripted")

	runner := createTestRunner(t)

	status, err := runner.Submit(CreateRunRequest{
		Config:  testRunConfig,
		Task:    "text-classification",
		Samples: inlineSamples(),
		Seed:    7,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if status.RunID == "" {
		t.Fatal("Expected a run id at submission")
	}
	if status.Task != "text-classification" {
		t.Errorf("Expected task text-classification, got %q", status.Task)
	}
	if status.Dataset != "inline" {
		t.Errorf("Expected dataset inline, got %q", status.Dataset)
	}

	final := waitForTerminal(t, runner, status.RunID)
	if final.State != StateCompleted {
		t.Fatalf("Expected completed, got %s (error %q)", final.State, final.Error)
	}
	if !final.Passed {
		t.Error("Expected the scripted backend to pass the suite")
	}
	if final.Evaluated == 0 || final.Evaluated != final.TotalCases {
		t.Errorf("Expected all %d cases evaluated, got %d", final.TotalCases, final.Evaluated)
	}

	// The stored report carries the id handed out at submission.
	rep, err := runner.Report(context.Background(), status.RunID)
	if err != nil {
		t.Fatalf("load stored report: %v", err)
	}
	if rep.RunID != status.RunID {
		t.Errorf("Stored report id %q does not match submission id %q", rep.RunID, status.RunID)
	}
}

// --- Runner State Tests ---

func TestRunnerStatus_FromStore(t *testing.T) {
	runner := createTestRunner(t)
	rep := report.New("stored-run-1", datatypes.TaskNER,
		report.Metadata{ID: "stored", Model: "m1", Dataset: "d1"}, nil,
		datatypes.NewResolvedConfig(nil))
	if err := runner.store.Save(context.Background(), rep); err != nil {
		t.Fatalf("save: %v", err)
	}

	status, err := runner.Status(context.Background(), "stored-run-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != StateCompleted {
		t.Errorf("Expected completed for a stored run, got %s", status.State)
	}
	if status.Model != "m1" || status.Dataset != "d1" {
		t.Errorf("Expected stored metadata in status, got %+v", status)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	runner := createTestRunner(t)
	active := &activeRun{
		status:   RunStatus{RunID: "r1", State: StateQueued},
		watchers: make(map[chan RunStatus]struct{}),
	}
	runner.mu.Lock()
	runner.runs["r1"] = active
	runner.mu.Unlock()

	ch, cancel, live := runner.Subscribe("r1")
	if !live {
		t.Fatal("Expected a live subscription")
	}
	defer cancel()

	active.set(func(s *RunStatus) { s.State = StateRunning })
	active.notify()

	select {
	case got := <-ch:
		if got.State != StateRunning {
			t.Errorf("Expected running, got %s", got.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for a status update")
	}
}

func TestSubscribe_UnknownRun(t *testing.T) {
	runner := createTestRunner(t)
	_, _, live := runner.Subscribe("nope")
	if live {
		t.Error("Expected no live subscription for an unknown run")
	}
}

func TestProgressSinkCountsEvaluations(t *testing.T) {
	active := &activeRun{
		status:   RunStatus{RunID: "r1", State: StateRunning},
		watchers: make(map[chan RunStatus]struct{}),
	}
	sink := &progressSink{active: active}

	ctx := context.Background()
	data := &telemetry.EvaluationData{TestType: "uppercase", Result: telemetry.ResultPass}
	_ = sink.RecordEvaluation(ctx, data)
	_ = sink.RecordEvaluation(ctx, data)

	if got := active.snapshot().Evaluated; got != 2 {
		t.Errorf("Expected 2 evaluated, got %d", got)
	}
}

func TestTerminal(t *testing.T) {
	if terminal(StateQueued) || terminal(StateRunning) {
		t.Error("queued and running are not terminal")
	}
	if !terminal(StateCompleted) || !terminal(StateFailed) {
		t.Error("completed and failed are terminal")
	}
}

// --- Source Tests ---

func TestNewMemSource_Defaults(t *testing.T) {
	src, err := newMemSource("classification", inlineSamples())
	if err != nil {
		t.Fatalf("newMemSource: %v", err)
	}
	if src.Task() != datatypes.TaskTextClassification {
		t.Errorf("Expected text-classification, got %s", src.Task())
	}

	samples, _ := src.Load()
	if samples[0].ID != "0" || samples[1].ID != "1" {
		t.Errorf("Expected positional ids, got %q %q", samples[0].ID, samples[1].ID)
	}
	if samples[0].Task != datatypes.TaskTextClassification {
		t.Errorf("Expected the request task on samples, got %s", samples[0].Task)
	}
}

func TestNewMemSource_TaskMismatch(t *testing.T) {
	samples := []datatypes.Sample{{Text: "jose moved to paris", Task: datatypes.TaskNER}}
	_, err := newMemSource("text-classification", samples)
	if err == nil || !strings.Contains(err.Error(), "request says") {
		t.Errorf("Expected task mismatch error, got %v", err)
	}
}

func TestNewMemSource_UnknownTask(t *testing.T) {
	_, err := newMemSource("summarization", inlineSamples())
	if err == nil || !strings.Contains(err.Error(), "unknown task") {
		t.Errorf("Expected unknown task error, got %v", err)
	}
}

func TestLabelSet(t *testing.T) {
	t.Setenv("TERN_LABELS", " positive , negative ,")
	got := labelSet()
	if len(got) != 2 || got[0] != "positive" || got[1] != "negative" {
		t.Errorf("Expected [positive negative], got %v", got)
	}

	t.Setenv("TERN_LABELS", "")
	if labelSet() != nil {
		t.Error("Expected nil label set when TERN_LABELS is empty")
	}
}

// --- Handler Tests ---

func TestHandleCreateRun_InvalidJSON(t *testing.T) {
	runner := createTestRunner(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/", strings.NewReader("{invalid json"))
	c.Request.Header.Set("Content-Type", "application/json")

	handleCreateRun(runner)(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandleCreateRun_NoConfig(t *testing.T) {
	runner := createTestRunner(t)
	c, w := createGinContext("POST", CreateRunRequest{})

	handleCreateRun(runner)(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "No run config provided" {
		t.Errorf("Expected 'No run config provided' error, got %v", resp["error"])
	}
}

func TestHandleGetRun_InvalidID(t *testing.T) {
	runner := createTestRunner(t)
	c, w := createGinContext("GET", nil)
	c.Params = gin.Params{{Key: "runId", Value: "../escape"}}

	handleGetRun(runner)(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandleGetRun_Unknown(t *testing.T) {
	runner := createTestRunner(t)
	c, w := createGinContext("GET", nil)
	c.Params = gin.Params{{Key: "runId", Value: "no-such-run"}}

	handleGetRun(runner)(c)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandleGetReport_NotCompleted(t *testing.T) {
	runner := createTestRunner(t)
	active := &activeRun{
		status:   RunStatus{RunID: "live-1", State: StateRunning},
		watchers: make(map[chan RunStatus]struct{}),
	}
	runner.mu.Lock()
	runner.runs["live-1"] = active
	runner.mu.Unlock()

	c, w := createGinContext("GET", nil)
	c.Params = gin.Params{{Key: "runId", Value: "live-1"}}

	handleGetReport(runner)(c)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d for a run still in flight, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	runner := createTestRunner(t)
	router := gin.New()
	setupRoutes(router, runner, prometheus.NewRegistry())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
	if resp["service"] != "tern-harnessd" {
		t.Errorf("Expected service tern-harnessd, got %v", resp["service"])
	}
	if resp["version"] == "" {
		t.Error("Expected a version in the health response")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	runner := createTestRunner(t)
	router := gin.New()
	setupRoutes(router, runner, prometheus.NewRegistry())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestListRunsEndpoint(t *testing.T) {
	runner := createTestRunner(t)
	rep := report.New("stored-run-2", datatypes.TaskNER,
		report.Metadata{ID: "stored"}, nil, datatypes.NewResolvedConfig(nil))
	if err := runner.store.Save(context.Background(), rep); err != nil {
		t.Fatalf("save: %v", err)
	}

	router := gin.New()
	setupRoutes(router, runner, prometheus.NewRegistry())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/runs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		Runs  []RunStatus `json:"runs"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Runs) != 1 {
		t.Fatalf("Expected one run, got count=%d len=%d", resp.Count, len(resp.Runs))
	}
	if resp.Runs[0].RunID != "stored-run-2" {
		t.Errorf("Expected stored-run-2, got %q", resp.Runs[0].RunID)
	}
}

func TestRunEventsEndpoint_StoredRun(t *testing.T) {
	runner := createTestRunner(t)
	rep := report.New("stored-run-3", datatypes.TaskNER,
		report.Metadata{ID: "stored"}, nil, datatypes.NewResolvedConfig(nil))
	if err := runner.store.Save(context.Background(), rep); err != nil {
		t.Fatalf("save: %v", err)
	}

	router := gin.New()
	setupRoutes(router, runner, prometheus.NewRegistry())
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/runs/stored-run-3/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	var status RunStatus
	if err := ws.ReadJSON(&status); err != nil {
		t.Fatalf("read: %v", err)
	}
	if status.RunID != "stored-run-3" || status.State != StateCompleted {
		t.Errorf("Expected completed stored-run-3 status, got %+v", status)
	}
}
