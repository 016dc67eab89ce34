package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// startModelServer serves the /predict protocol with a keyword rule:
// texts mentioning "good" are positive, everything else negative. The
// caseSensitive variant misses "GOOD", imitating a model that falls
// over on upper case input.
func startModelServer(t *testing.T, caseSensitive bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
			Text  string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		text := req.Text
		if !caseSensitive {
			text = strings.ToLower(text)
		}
		label, other := "negative", "positive"
		if strings.Contains(text, "good") {
			label, other = "positive", "negative"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"labels":[{"label":%q,"score":0.92},{"label":%q,"score":0.08}]}`, label, other)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// writeRunFixtures drops a labeled dataset and a run config into a
// temp dir and returns their paths.
func writeRunFixtures(t *testing.T) (configPath, dataPath string) {
	t.Helper()
	dir := t.TempDir()

	dataPath = filepath.Join(dir, "reviews.csv")
	data := `text,label
the service was good,positive
a good meal and a good view,positive
the room was bad,negative
bad service ruined it,negative
`
	if err := os.WriteFile(dataPath, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	configPath = filepath.Join(dir, "run.yaml")
	config := `min_version: "0.4.0"
metadata:
  id: sentiment-smoke
  version: 1.0.0
tests:
  defaults:
    min_pass_rate: 0.75
  robustness:
    uppercase:
`
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
	return configPath, dataPath
}

// runCLI executes the built binary with an isolated HOME so each test
// gets a fresh ~/.tern. Returns combined output and the exit code.
func runCLI(t *testing.T, home string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(cliBinary, args...)
	cmd.Env = append(os.Environ(),
		"HOME="+home,
		"INFLUXDB_URL=",
		"TERN_LOG_LEVEL=error",
	)

	// Timeout safety
	timer := time.AfterFunc(120*time.Second, func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	})
	defer timer.Stop()

	out, err := cmd.CombinedOutput()
	code := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			t.Fatalf("CLI did not run: %v\nOutput: %s", err, out)
		}
		code = exitErr.ExitCode()
	}
	return string(out), code
}

// TestRun_RobustModel drives the full pipeline against a model that
// ignores casing: announce, evaluate, verdict, and run history.
func TestRun_RobustModel(t *testing.T) {
	// 1. Setup
	configPath, dataPath := writeRunFixtures(t)
	server := startModelServer(t, false)
	home := t.TempDir()

	// 2. Execute Run
	output, code := runCLI(t, home, "run",
		"-c", configPath, "-d", dataPath,
		"--backend", "http", "--endpoint", server.URL,
		"--model", "sentiment-demo", "--workers", "2", "--seed", "11")

	// 3. Assertions
	if code != 0 {
		t.Fatalf("FAIL: expected exit 0, got %d.\nOutput: %s", code, output)
	}
	if !strings.Contains(output, "Starting run") {
		t.Error("FAIL: CLI did not announce the run.")
	}
	if !strings.Contains(output, "1/1 tests passed") {
		t.Errorf("FAIL: passing verdict missing.\nOutput: %s", output)
	}
	if !strings.Contains(output, "sentiment-smoke_v1.0.0_") {
		t.Errorf("FAIL: run id missing from summary.\nOutput: %s", output)
	}

	// 4. The run should be in the local history
	listOut, listCode := runCLI(t, home, "runs", "list", "--json")
	if listCode != 0 {
		t.Fatalf("FAIL: runs list exited %d.\nOutput: %s", listCode, listOut)
	}
	if !strings.Contains(listOut, `"run_id": "sentiment-smoke_v1.0.0_`) {
		t.Errorf("FAIL: run not recorded.\nOutput: %s", listOut)
	}
	if !strings.Contains(listOut, `"passed": true`) {
		t.Errorf("FAIL: run recorded as failed.\nOutput: %s", listOut)
	}
}

// TestRun_CaseSensitiveModel verifies findings surface in the exit
// code when predictions flip under perturbation.
func TestRun_CaseSensitiveModel(t *testing.T) {
	configPath, dataPath := writeRunFixtures(t)
	server := startModelServer(t, true)
	home := t.TempDir()

	output, code := runCLI(t, home, "run",
		"-c", configPath, "-d", dataPath,
		"--backend", "http", "--endpoint", server.URL,
		"--workers", "2", "--seed", "11")

	if code != 1 {
		t.Fatalf("FAIL: expected exit 1 for findings, got %d.\nOutput: %s", code, output)
	}
	if !strings.Contains(output, "0/1 tests passed") {
		t.Errorf("FAIL: failing verdict missing.\nOutput: %s", output)
	}
	if !strings.Contains(output, "FAIL") {
		t.Errorf("FAIL: summary table missing failure marker.\nOutput: %s", output)
	}
}

// TestGenerate_WritesSuite verifies suite generation needs no model
// and produces the tabular export.
func TestGenerate_WritesSuite(t *testing.T) {
	configPath, dataPath := writeRunFixtures(t)
	home := t.TempDir()
	suitePath := filepath.Join(t.TempDir(), "suite.csv")

	output, code := runCLI(t, home, "generate",
		"-c", configPath, "-d", dataPath, "--seed", "7", "-o", suitePath)

	if code != 0 {
		t.Fatalf("FAIL: expected exit 0, got %d.\nOutput: %s", code, output)
	}
	if !strings.Contains(output, "Generated") {
		t.Errorf("FAIL: no generation summary.\nOutput: %s", output)
	}

	data, err := os.ReadFile(suitePath)
	if err != nil {
		t.Fatalf("FAIL: suite not written: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "category,test_type,original,test_case,expected_label") {
		t.Errorf("FAIL: unexpected header.\nContent: %s", content)
	}
	if !strings.Contains(content, "THE SERVICE WAS GOOD") {
		t.Errorf("FAIL: uppercase case missing.\nContent: %s", content)
	}
	if !strings.Contains(content, "positive") {
		t.Errorf("FAIL: expected labels missing.\nContent: %s", content)
	}
}
