package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/calculator/internal/testutil"
	"github.com/lemonberrylabs/calculator/pkg/keypad"
	"github.com/lemonberrylabs/calculator/pkg/store"
	"github.com/lemonberrylabs/calculator/pkg/tape"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	return New(store.NewMemory(), store.NewMemory(), WithLogger(testutil.NewTestLogger(t)))
}

// do sends a request and decodes the JSON response body.
func do(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), "body: %s", data)
	}
	return resp.StatusCode, out
}

func errorBody(t *testing.T, out map[string]any) map[string]any {
	t.Helper()
	e, ok := out["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", out)
	return e
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)
	code, out := do(t, s, "GET", "/healthz", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, "ok", out["status"])
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expression string
		result     float64
		display    string
	}{
		{"2+3*4", 20, "20"},
		{"-5+3", -2, "-2"},
		{"12.5/2", 6.25, "6.25"},
		{"", 0, "0"},
	}

	s := setupTestServer(t)
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"expression": tt.expression})
			code, out := do(t, s, "POST", "/v1/evaluate", string(body))
			require.Equal(t, 200, code, "body: %v", out)
			assert.Equal(t, tt.result, out["result"])
			assert.Equal(t, tt.display, out["display"])
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		expression string
		reason     string
	}{
		{"5/0", "ZeroDivisionError"},
		{"5+", "FormatError"},
		{"5&3", "FormatError"},
	}

	s := setupTestServer(t)
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"expression": tt.expression})
			code, out := do(t, s, "POST", "/v1/evaluate", string(body))
			assert.Equal(t, 400, code)
			e := errorBody(t, out)
			assert.Equal(t, "INVALID_ARGUMENT", e["status"])
			assert.Equal(t, tt.reason, e["reason"])
			assert.EqualValues(t, 400, e["code"])
		})
	}

	code, out := do(t, s, "POST", "/v1/evaluate", "{not json")
	assert.Equal(t, 400, code)
	assert.Nil(t, errorBody(t, out)["reason"])
}

func TestEvaluateInfinity(t *testing.T) {
	s := setupTestServer(t)
	body, _ := json.Marshal(map[string]string{"expression": "1" + strings.Repeat("0", 400) + "*-1"})
	code, out := do(t, s, "POST", "/v1/evaluate", string(body))
	require.Equal(t, 200, code)
	assert.Equal(t, "-Infinity", out["result"])
	assert.Equal(t, "-Infinity", out["display"])
}

func TestTokenize(t *testing.T) {
	s := setupTestServer(t)
	code, out := do(t, s, "POST", "/v1/tokenize", `{"expression":"10 * -2"}`)
	require.Equal(t, 200, code)

	tokens, ok := out["tokens"].([]any)
	require.True(t, ok)
	require.Len(t, tokens, 3)

	last := tokens[2].(map[string]any)
	assert.Equal(t, "NUMBER", last["type"])
	assert.Equal(t, "-2", last["value"])
	assert.EqualValues(t, 3, last["pos"])

	code, out = do(t, s, "POST", "/v1/tokenize", `{"expression":"1..2"}`)
	assert.Equal(t, 400, code)
	assert.Equal(t, "FormatError", errorBody(t, out)["reason"])
}

func TestSessionLifecycle(t *testing.T) {
	s := setupTestServer(t)

	code, out := do(t, s, "POST", "/v1/sessions", "")
	require.Equal(t, 201, code)
	id, _ := out["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "0", out["display"])

	code, out = do(t, s, "POST", "/v1/sessions/"+id+"/keys", `{"keys":"12+3"}`)
	require.Equal(t, 200, code)
	assert.Equal(t, "3", out["display"])
	assert.Equal(t, "+", out["operator"])

	code, out = do(t, s, "POST", "/v1/sessions/"+id+"/keys", `{"keys":"="}`)
	require.Equal(t, 200, code)
	assert.Equal(t, "15", out["display"])
	assert.Nil(t, out["operator"])

	// A rejected key leaves the session untouched.
	code, out = do(t, s, "POST", "/v1/sessions/"+id+"/keys", `{"keys":"+1x"}`)
	assert.Equal(t, 400, code)
	assert.Equal(t, "INVALID_ARGUMENT", errorBody(t, out)["status"])

	code, out = do(t, s, "GET", "/v1/sessions/"+id, "")
	require.Equal(t, 200, code)
	assert.Equal(t, "15", out["display"])

	code, out = do(t, s, "POST", "/v1/sessions/"+id+"/keys", `{"keys":"/0="}`)
	require.Equal(t, 200, code)
	assert.Equal(t, "NaN: Div By Zero", out["display"])
	assert.Equal(t, true, out["error"])

	code, out = do(t, s, "GET", "/v1/sessions", "")
	require.Equal(t, 200, code)
	assert.Len(t, out["sessions"], 1)

	code, _ = do(t, s, "DELETE", "/v1/sessions/"+id, "")
	assert.Equal(t, 200, code)

	code, out = do(t, s, "GET", "/v1/sessions/"+id, "")
	assert.Equal(t, 404, code)
	assert.Equal(t, "NOT_FOUND", errorBody(t, out)["status"])

	code, _ = do(t, s, "POST", "/v1/sessions/"+id+"/keys", `{"keys":"1"}`)
	assert.Equal(t, 404, code)
	code, _ = do(t, s, "DELETE", "/v1/sessions/"+id, "")
	assert.Equal(t, 404, code)
}

func TestSessionsAndHistoryShareOneStore(t *testing.T) {
	m := store.NewMemory()
	s := New(m, m, WithLogger(testutil.NewTestLogger(t)))
	sess := m.CreateSession(keypad.New().Snapshot())

	done := make(chan error, 1)
	go func() {
		_, err := s.PressKeys(sess.ID, "2+3=", store.SourceKeypad)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("PressKeys blocked on a store shared by sessions and history")
	}

	code, out := do(t, s, "GET", "/v1/sessions/"+sess.ID, "")
	require.Equal(t, 200, code)
	assert.Equal(t, "5", out["display"])

	code, out = do(t, s, "GET", "/v1/history", "")
	require.Equal(t, 200, code)
	entries := out["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "2+3", entries[0].(map[string]any)["expression"])
}

func TestCreateSessionWithKeys(t *testing.T) {
	s := setupTestServer(t)
	code, out := do(t, s, "POST", "/v1/sessions", `{"keys":"9-12="}`)
	require.Equal(t, 201, code)
	assert.Equal(t, "-3", out["display"])
	assert.EqualValues(t, -3, out["total"])
}

func TestHistory(t *testing.T) {
	s := setupTestServer(t)

	do(t, s, "POST", "/v1/evaluate", `{"expression":"2+3"}`)
	do(t, s, "POST", "/v1/evaluate", `{"expression":"5/0"}`)
	_, sess := do(t, s, "POST", "/v1/sessions", `{"keys":"4*5="}`)
	require.NotNil(t, sess)

	code, out := do(t, s, "GET", "/v1/history", "")
	require.Equal(t, 200, code)
	entries := out["entries"].([]any)
	require.Len(t, entries, 3)

	newest := entries[0].(map[string]any)
	assert.Equal(t, "4*5", newest["expression"])
	assert.Equal(t, store.SourceKeypad, newest["source"])
	assert.EqualValues(t, 20, newest["result"])

	code, out = do(t, s, "GET", "/v1/history?kind=ZeroDivisionError", "")
	require.Equal(t, 200, code)
	entries = out["entries"].([]any)
	require.Len(t, entries, 1)
	failed := entries[0].(map[string]any)
	assert.Equal(t, "5/0", failed["expression"])
	assert.Nil(t, failed["result"])
	assert.Equal(t, "ZeroDivisionError", failed["error"].(map[string]any)["kind"])

	id := failed["id"].(string)
	code, out = do(t, s, "GET", "/v1/history/"+id, "")
	require.Equal(t, 200, code)
	assert.Equal(t, "5/0", out["expression"])

	code, out = do(t, s, "GET", "/v1/history?limit=1&source=api", "")
	require.Equal(t, 200, code)
	assert.Len(t, out["entries"], 1)

	code, _ = do(t, s, "GET", "/v1/history?limit=zero", "")
	assert.Equal(t, 400, code)

	code, _ = do(t, s, "DELETE", "/v1/history", "")
	assert.Equal(t, 200, code)
	_, out = do(t, s, "GET", "/v1/history", "")
	assert.Empty(t, out["entries"])

	code, _ = do(t, s, "GET", "/v1/history/"+id, "")
	assert.Equal(t, 404, code)
}

func TestRunTape(t *testing.T) {
	s := setupTestServer(t)
	src := `
name: api
steps:
  - expr: "2+3*4"
    want: 20
  - keys: "5/0="
    error: ZeroDivisionError
  - expr: "1+1"
    want: 3
`
	req := httptest.NewRequest("POST", "/v1/tapes:run", strings.NewReader(src))
	req.Header.Set("Content-Type", "application/yaml")
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "api", out["tape"])
	assert.EqualValues(t, 2, out["passed"])
	assert.EqualValues(t, 1, out["failed"])
	assert.Equal(t, false, out["ok"])

	steps := out["steps"].([]any)
	require.Len(t, steps, 3)
	assert.Equal(t, "want 3, got 2", steps[2].(map[string]any)["failure"])

	entries, err := s.History().List(context.Background(), store.Filter{Source: store.SourceTape})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	code, out := do(t, s, "POST", "/v1/tapes:run", `{"steps": 5}`)
	assert.Equal(t, 400, code)
	assert.Contains(t, errorBody(t, out)["message"], "steps must be a sequence")
}

func TestReports(t *testing.T) {
	s := setupTestServer(t)
	tp, err := tape.Parse([]byte("name: watched\nsteps:\n  - expr: '1+1'\n    want: 2\n"))
	require.NoError(t, err)
	report, err := tape.Run(context.Background(), tp, tape.Options{})
	require.NoError(t, err)
	s.RecordReport(report)

	code, out := do(t, s, "GET", "/v1/tapes/reports", "")
	require.Equal(t, 200, code)
	reports := out["reports"].([]any)
	require.Len(t, reports, 1)
	assert.Equal(t, "watched", reports[0].(map[string]any)["tape"])
	assert.Equal(t, true, reports[0].(map[string]any)["ok"])
}
