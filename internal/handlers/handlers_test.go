package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/services/browser/browsertest"
	"github.com/ternarybob/labnex/internal/services/events"
	"github.com/ternarybob/labnex/internal/services/executor"
	"github.com/ternarybob/labnex/internal/services/orchestrator"
	"github.com/ternarybob/labnex/internal/services/runner"
	"github.com/ternarybob/labnex/internal/services/validation"
	"github.com/ternarybob/labnex/internal/storage/badger"
)

type testEnv struct {
	server    *httptest.Server
	storage   interfaces.StorageManager
	orch      *orchestrator.Orchestrator
	provider  *browsertest.Provider
	authToken string
}

func newTestEnv(t *testing.T, newSession func() *browsertest.Session, authToken string) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	provider := browsertest.NewProvider(newSession)
	exec := executor.NewExecutor(executor.Options{
		InteractionWait: 10 * time.Millisecond,
		AssertionWait:   10 * time.Millisecond,
	}, nil, logger)
	caseRunner := runner.NewCaseRunner(provider, exec, nil, "", logger)

	broadcaster := events.NewBroadcaster(16, logger)
	orch := orchestrator.NewOrchestrator(storage.TestCaseStorage(), storage.RunStorage(), caseRunner, broadcaster,
		common.RunnerConfig{DefaultConcurrency: 1, MaxConcurrency: 4}, logger)
	broadcaster.SetRunSource(orch)
	t.Cleanup(orch.Shutdown)

	testCases := NewTestCaseHandler(storage.TestCaseStorage(), logger)
	runs := NewRunHandler(orch, storage.RunStorage(), storage.TestCaseStorage(), "test", logger)
	stream := NewRunStreamHandler(broadcaster, events.NewTokenAuthorizer(authToken), &common.WebSocketConfig{}, logger)
	api := NewAPIHandler(orch, logger)
	suites := NewSuiteHandler(validation.NewSuiteValidationService(logger), storage.TestCaseStorage(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/testcases", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			testCases.CreateHandler(w, r)
			return
		}
		testCases.ListHandler(w, r)
	})
	mux.HandleFunc("/api/testcases/", testCases.ItemHandler)
	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			runs.StartRunHandler(w, r)
			return
		}
		runs.ListRunsHandler(w, r)
	})
	mux.HandleFunc("/api/runs/", runs.ItemHandler)
	mux.HandleFunc("/ws/runs/", stream.HandleRunStream)
	mux.HandleFunc("/api/suites", suites.ImportHandler)
	mux.HandleFunc("/api/suites/validate", suites.ValidateHandler)
	mux.HandleFunc("/api/health", api.HealthHandler)
	mux.HandleFunc("/api/version", api.VersionHandler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, storage: storage, orch: orch, provider: provider, authToken: authToken}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (e *testEnv) addCase(t *testing.T, project, title string, steps ...string) string {
	t.Helper()
	if len(steps) == 0 {
		steps = []string{"navigate to example.com"}
	}
	tc := &models.TestCase{ProjectRef: project, Title: title, Steps: steps}
	require.NoError(t, e.storage.TestCaseStorage().SaveTestCase(context.Background(), tc))
	return tc.ID
}

func (e *testEnv) waitStatus(t *testing.T, runID string, status models.RunStatus) map[string]interface{} {
	t.Helper()
	var run map[string]interface{}
	require.Eventually(t, func() bool {
		resp, body := e.do(t, http.MethodGet, "/api/runs/"+runID, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		run = body
		return body["status"] == string(status)
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func (e *testEnv) wsURL(runID, token string) string {
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/runs/" + runID
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func delayed(d time.Duration) func() *browsertest.Session {
	return func() *browsertest.Session {
		s := browsertest.NewSession()
		s.StepDelay = d
		return s
	}
}

func TestTestCaseHandler_CRUD(t *testing.T) {
	env := newTestEnv(t, nil, "")

	resp, created := env.do(t, http.MethodPost, "/api/testcases", map[string]interface{}{
		"project_ref": "shop",
		"title":       "login works",
		"steps":       []string{"navigate to example.com", "click login"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	resp, list := env.do(t, http.MethodGet, "/api/testcases?project_ref=shop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, list["count"])

	resp, _ = env.do(t, http.MethodPost, "/api/testcases", map[string]interface{}{
		"id": id, "project_ref": "shop", "title": "dup",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, updated := env.do(t, http.MethodPut, "/api/testcases/"+id, map[string]interface{}{
		"project_ref": "shop",
		"title":       "login still works",
		"steps":       []string{"navigate to example.com"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "login still works", updated["title"])
	assert.Equal(t, created["created_at"], updated["created_at"])

	resp, fetched := env.do(t, http.MethodGet, "/api/testcases/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, fetched["steps"], 1)

	resp, _ = env.do(t, http.MethodDelete, "/api/testcases/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/testcases/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTestCaseHandler_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil, "")

	resp, body := env.do(t, http.MethodPost, "/api/testcases", map[string]interface{}{"title": "no project"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", body["status"])

	resp, _ = env.do(t, http.MethodPost, "/api/testcases", map[string]interface{}{
		"project_ref": "p", "title": "t", "bogus": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPatch, "/api/testcases/x", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRunHandler_StartRunsProjectToCompletion(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.addCase(t, "shop", "one")
	env.addCase(t, "shop", "two")
	env.addCase(t, "other", "three")

	resp, body := env.do(t, http.MethodPost, "/api/runs", map[string]interface{}{
		"project_ref": "shop",
		"config":      map[string]interface{}{"concurrency": 2},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	runID, _ := body["id"].(string)
	require.NotEmpty(t, runID)

	run := env.waitStatus(t, runID, models.RunStatusCompleted)
	results := run["results"].(map[string]interface{})
	assert.EqualValues(t, 2, results["total"])
	assert.EqualValues(t, 2, results["passed"])
	assert.EqualValues(t, 0, results["pending"])

	config := run["config"].(map[string]interface{})
	assert.EqualValues(t, 2, config["concurrency"])
	assert.Equal(t, "test", config["environment"])

	require.Eventually(t, func() bool {
		resp, list := env.do(t, http.MethodGet, "/api/runs?project_ref=shop&status=completed", nil)
		return resp.StatusCode == http.StatusOK && list["count"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunHandler_StartRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t, nil, "")
	id := env.addCase(t, "shop", "one")

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"unknown case", map[string]interface{}{"test_case_ids": []string{"tc_missing"}}, http.StatusBadRequest},
		{"no cases", map[string]interface{}{"project_ref": "empty"}, http.StatusBadRequest},
		{"zero concurrency", map[string]interface{}{
			"test_case_ids": []string{id},
			"config":        map[string]interface{}{"concurrency": 0},
		}, http.StatusBadRequest},
		{"negative timeout", map[string]interface{}{
			"test_case_ids": []string{id},
			"config":        map[string]interface{}{"timeout_ms": -5},
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodPost, "/api/runs", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRunHandler_CancelIsIdempotent(t *testing.T) {
	env := newTestEnv(t, delayed(300*time.Millisecond), "")
	id := env.addCase(t, "shop", "slow", "navigate to example.com", "click login")

	_, body := env.do(t, http.MethodPost, "/api/runs", map[string]interface{}{"test_case_ids": []string{id}})
	runID := body["id"].(string)

	resp, first := env.do(t, http.MethodPost, "/api/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, first["cancelled"])

	resp, second := env.do(t, http.MethodPost, "/api/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, second["cancelled"])
	assert.Equal(t, string(models.RunStatusCancelled), second["status"])

	env.waitStatus(t, runID, models.RunStatusCancelled)

	resp, _ = env.do(t, http.MethodPost, "/api/runs/run_missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/runs/"+runID+"/cancel", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func readEvents(t *testing.T, conn *websocket.Conn) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var event map[string]interface{}
		if err := conn.ReadJSON(&event); err != nil {
			return out
		}
		out = append(out, event)
	}
}

func TestRunStream_DeliversEventsUntilTerminal(t *testing.T) {
	env := newTestEnv(t, delayed(50*time.Millisecond), "")
	a := env.addCase(t, "shop", "one")
	b := env.addCase(t, "shop", "two")

	_, body := env.do(t, http.MethodPost, "/api/runs", map[string]interface{}{"test_case_ids": []string{a, b}})
	runID := body["id"].(string)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(runID, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	received := readEvents(t, conn)
	require.NotEmpty(t, received)

	last := received[len(received)-1]
	assert.Equal(t, "completed", last["type"])
	assert.Equal(t, runID, last["runId"])
	run := last["run"].(map[string]interface{})
	assert.Equal(t, "completed", run["status"])

	for _, event := range received[:len(received)-1] {
		assert.Contains(t, []string{"started", "progress", "test_completed"}, event["type"])
	}
}

func TestRunStream_FinishedRunYieldsTerminalEvent(t *testing.T) {
	env := newTestEnv(t, nil, "")
	id := env.addCase(t, "shop", "one")

	_, body := env.do(t, http.MethodPost, "/api/runs", map[string]interface{}{"test_case_ids": []string{id}})
	runID := body["id"].(string)
	env.waitStatus(t, runID, models.RunStatusCompleted)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(runID, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	received := readEvents(t, conn)
	require.Len(t, received, 1)
	assert.Equal(t, "completed", received[0]["type"])
}

func TestRunStream_RejectsUnauthorizedAndUnknown(t *testing.T) {
	env := newTestEnv(t, delayed(200*time.Millisecond), "secret")
	id := env.addCase(t, "shop", "one")

	_, body := env.do(t, http.MethodPost, "/api/runs", map[string]interface{}{"test_case_ids": []string{id}})
	runID := body["id"].(string)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(runID, "wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL("run_missing", "secret"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(runID, "secret"), nil)
	require.NoError(t, err)
	defer conn.Close()
	received := readEvents(t, conn)
	require.NotEmpty(t, received)
	assert.Equal(t, "completed", received[len(received)-1]["type"])
}

func TestAPIHandler_HealthAndVersion(t *testing.T) {
	env := newTestEnv(t, nil, "")

	resp, health := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 0, health["active_runs"])

	resp, version := env.do(t, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, common.Version, version["version"])

	resp, _ = env.do(t, http.MethodPost, "/api/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func (e *testEnv) postRaw(t *testing.T, path, contentType, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, contentType, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

const yamlSuite = `project_ref: shop
test_cases:
  - title: open home
    steps:
      - go to example.com
  - title: odd step
    steps:
      - go to example.com
      - frobnicate the widget
`

func TestSuiteHandler_ValidateAndImport(t *testing.T) {
	env := newTestEnv(t, nil, "")

	resp, result := env.postRaw(t, "/api/suites/validate", "application/yaml", yamlSuite)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, result["valid"])
	assert.Len(t, result["cases"], 2)
	assert.Len(t, result["warnings"], 1)

	resp, result = env.postRaw(t, "/api/suites/validate?format=toml", "text/plain", "project_ref = ")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, result["valid"])

	resp, imported := env.postRaw(t, "/api/suites?format=yaml", "text/plain", yamlSuite)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, imported["count"])

	// re-import updates in place
	resp, _ = env.postRaw(t, "/api/suites?format=yaml", "text/plain", yamlSuite)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	count, err := env.storage.TestCaseStorage().CountTestCases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	resp, _ = env.postRaw(t, "/api/suites", "text/plain", "   ")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPathID(t *testing.T) {
	assert.Equal(t, "abc", PathID("/api/runs/abc", runsPrefix))
	assert.Equal(t, "abc", PathID("/api/runs/abc/cancel", runsPrefix))
	assert.Equal(t, "", PathID("/api/runs/", runsPrefix))
	assert.Equal(t, "", PathID("/other/abc", runsPrefix))
}
