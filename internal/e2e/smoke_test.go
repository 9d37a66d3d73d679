//go:build e2e

// Package e2e smoke-tests a running server started with
// `alice serve --scenario configs/scenario.yaml`.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("ALICE_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// call sends a request and decodes the JSON reply into out.
func call(t *testing.T, method, path string, body, out interface{}) int {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	// a turn can take several model calls
	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
		}
	}
	return resp.StatusCode
}

func TestResidentsLoaded(t *testing.T) {
	var agents []struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if code := call(t, http.MethodGet, "/api/agents", nil, &agents); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(agents) == 0 {
		t.Fatal("no residents; start the server with a scenario")
	}
	t.Logf("residents: %+v", agents)
}

func TestKnowledgeCatalog(t *testing.T) {
	var records []map[string]interface{}
	if code := call(t, http.MethodGet, "/api/knowledge", nil, &records); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(records) == 0 {
		t.Error("empty knowledge catalog")
	}
}

func TestInjectAndAdvance(t *testing.T) {
	var before struct {
		State struct {
			TurnCount  int  `json:"turn_count"`
			Terminated bool `json:"terminated"`
		} `json:"state"`
	}
	call(t, http.MethodGet, "/api/state", nil, &before)
	if before.State.Terminated {
		t.Skip("run already terminated")
	}

	if code := call(t, http.MethodPost, "/api/observations", map[string]string{"text": "A stranger knocks at the chapel door."}, nil); code != http.StatusAccepted {
		t.Fatalf("inject status %d", code)
	}

	var turn struct {
		Turn        int64  `json:"turn"`
		Actor       string `json:"actor"`
		Description string `json:"description"`
		State       struct {
			TurnCount int `json:"turn_count"`
		} `json:"state"`
	}
	if code := call(t, http.MethodPost, "/api/turns", nil, &turn); code != http.StatusOK {
		t.Fatalf("turn status %d", code)
	}
	if turn.Description == "" || turn.State.TurnCount != before.State.TurnCount+1 {
		t.Errorf("turn = %+v", turn)
	}
	t.Logf("T=%d %s: %.200s", turn.Turn, turn.Actor, turn.Description)
}
