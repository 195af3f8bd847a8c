package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-branch/pkg/branch"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubBackend struct {
	reply func(gen branch.Generation) (string, error)

	calls atomic.Int32
	mu    sync.Mutex
	last  branch.Generation
}

func (b *stubBackend) Name() string { return "Stub" }

func (b *stubBackend) Generate(_ context.Context, gen branch.Generation) (string, error) {
	b.calls.Add(1)
	b.mu.Lock()
	b.last = gen
	b.mu.Unlock()
	return b.reply(gen)
}

func fixedReply(text string) func(branch.Generation) (string, error) {
	return func(branch.Generation) (string, error) { return text, nil }
}

func newTestServer(t *testing.T, backend branch.Backend, withStore bool) (*Server, *gin.Engine) {
	t.Helper()
	cfg := Config{
		SilentDB:          true,
		DefaultModel:      "gemini-2.5-flash",
		DefaultCredential: "server-key",
		Workers:           4,
		Backend:           backend,
	}
	if withStore {
		cfg.DBPath = filepath.Join(t.TempDir(), "decisions.db")
	}
	server, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	router, err := server.Router()
	require.NoError(t, err)
	return server, router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandleDecide(t *testing.T) {
	backend := &stubBackend{reply: fixedReply(" Yes\n")}
	_, router := newTestServer(t, backend, true)

	rec := doJSON(t, router, http.MethodPost, "/api/decide", map[string]any{
		"condition": "the customer is happy",
		"choices":   []string{"Yes", "No"},
		"else":      "Unknown",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeBody[DecisionDTO](t, rec)
	assert.True(t, dto.Response)
	assert.Equal(t, "Yes", dto.Result)
	assert.Equal(t, branch.MessageSuccess, dto.Message)
	assert.Equal(t, "Stub", dto.Backend)
	assert.Equal(t, "gemini-2.5-flash", dto.Model)
	assert.NotEmpty(t, dto.RequestID)
	require.NotZero(t, dto.ID)

	backend.mu.Lock()
	assert.Equal(t, "server-key", backend.last.Credential)
	backend.mu.Unlock()

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/decisions/%d", dto.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decodeBody[DecisionDTO](t, rec)
	assert.Equal(t, dto.RequestID, stored.RequestID)
	assert.Equal(t, []string{"Yes", "No"}, stored.Choices)
	assert.Equal(t, "Unknown", stored.Else)

	rec = doJSON(t, router, http.MethodGet, "/api/decisions/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, router, http.MethodGet, "/api/decisions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDecideRequestOverrides(t *testing.T) {
	backend := &stubBackend{reply: fixedReply("b")}
	_, router := newTestServer(t, backend, false)

	rec := doJSON(t, router, http.MethodPost, "/api/decide", map[string]any{
		"condition": "pick b",
		"choices":   []string{"a", "b"},
		"model":     "gemini-2.5-pro",
		"api_key":   "caller-key",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "gemini-2.5-pro", backend.last.Model)
	assert.Equal(t, "caller-key", backend.last.Credential)
}

func TestHandleDecideMalformedInput(t *testing.T) {
	backend := &stubBackend{reply: fixedReply("a")}
	_, router := newTestServer(t, backend, false)

	tests := []struct {
		name    string
		body    any
		message string
		result  string
	}{
		{"numeric condition", map[string]any{"condition": 5, "choices": []string{"a"}}, "condition must be a non-empty string", ""},
		{"blank condition", map[string]any{"condition": "  ", "choices": []string{"a"}, "else": "z"}, "condition must be a non-empty string", "z"},
		{"string choices", map[string]any{"condition": "c", "choices": "a"}, "choices must be a non-empty array", ""},
		{"mixed choices", map[string]any{"condition": "c", "choices": []any{"a", 1}}, "choices must be a non-empty array", ""},
		{"missing choices", map[string]any{"condition": "c"}, "choices must be a non-empty array", ""},
		{"empty choices", map[string]any{"condition": "c", "choices": []string{}}, "choices must be a non-empty array", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/decide", tc.body)
			require.Equal(t, http.StatusOK, rec.Code)
			dto := decodeBody[DecisionDTO](t, rec)
			assert.False(t, dto.Response)
			assert.Equal(t, tc.message, dto.Message)
			assert.Equal(t, tc.result, dto.Result)
		})
	}
	assert.Zero(t, backend.calls.Load())

	rec := doJSON(t, router, http.MethodPost, "/api/decide", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDecideBackendError(t *testing.T) {
	backend := &stubBackend{reply: func(branch.Generation) (string, error) {
		return "", fmt.Errorf("connection refused")
	}}
	_, router := newTestServer(t, backend, false)

	rec := doJSON(t, router, http.MethodPost, "/api/decide", map[string]any{
		"condition": "c",
		"choices":   []string{"a"},
		"else":      "fallback",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeBody[DecisionDTO](t, rec)
	assert.False(t, dto.Response)
	assert.Equal(t, "fallback", dto.Result)
	assert.Equal(t, "Backend error: connection refused", dto.Message)
}

func TestHandleDecideBatch(t *testing.T) {
	backend := &stubBackend{reply: func(gen branch.Generation) (string, error) {
		switch {
		case strings.Contains(gen.Prompt, "first"):
			return "one", nil
		case strings.Contains(gen.Prompt, "second"):
			return "nonsense", nil
		default:
			return "three", nil
		}
	}}
	_, router := newTestServer(t, backend, true)

	rec := doJSON(t, router, http.MethodPost, "/api/decide/batch", map[string]any{
		"items": []map[string]any{
			{"condition": "first", "choices": []string{"one", "two"}},
			{"condition": "second", "choices": []string{"one", "two"}},
			{"condition": "third", "choices": []string{"three"}},
			{"condition": "", "choices": []string{"three"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[BatchDecideResponse](t, rec)
	require.Len(t, resp.Items, 4)
	assert.Equal(t, "one", resp.Items[0].Result)
	assert.Equal(t, "Response by Stub is not in choices: nonsense", resp.Items[1].Message)
	assert.Equal(t, "three", resp.Items[2].Result)
	assert.Equal(t, "condition must be a non-empty string", resp.Items[3].Message)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 2, resp.Failed)
	require.NotZero(t, resp.BatchID)
	assert.EqualValues(t, 3, backend.calls.Load())

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/batches/%d", resp.BatchID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decodeBody[BatchDTO](t, rec)
	assert.Equal(t, 4, batch.Items)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 2, batch.Failed)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/decisions?batch_id=%d&succeeded=true", resp.BatchID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[DecisionsResponse](t, rec)
	assert.EqualValues(t, 2, list.Total)

	rec = doJSON(t, router, http.MethodPost, "/api/decide/batch", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryDisabled(t *testing.T) {
	_, router := newTestServer(t, &stubBackend{reply: fixedReply("a")}, false)

	rec := doJSON(t, router, http.MethodPost, "/api/decide", map[string]any{"condition": "c", "choices": []string{"a"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[DecisionDTO](t, rec).ID)

	for _, path := range []string{"/api/decisions", "/api/decisions/1", "/api/batches/1", "/api/export.csv"} {
		rec = doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "Stub", cfg["backend"])
	assert.Equal(t, false, cfg["history"])
	last, ok := cfg["last_event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "decision", last["type"])
}

func TestExportCSV(t *testing.T) {
	_, router := newTestServer(t, &stubBackend{reply: fixedReply("a")}, true)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/decide", map[string]any{
			"condition": fmt.Sprintf("condition, %d", i),
			"choices":   []string{"a", "b"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "condition", records[0][3])
	assert.Equal(t, "condition, 0", records[1][3])
	assert.Equal(t, "a|b", records[1][4])
	assert.Equal(t, "true", records[2][8])

	rec = doJSON(t, router, http.MethodGet, "/api/export.json?succeeded=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionStream(t *testing.T) {
	server, router := newTestServer(t, &stubBackend{reply: fixedReply("a")}, false)
	httpServer := httptest.NewServer(router)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/api/decisions/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return server.notifier.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := doJSON(t, router, http.MethodPost, "/api/decide", map[string]any{"condition": "c", "choices": []string{"a"}})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event DecisionEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "decision", event.Type)
	require.NotNil(t, event.Decision)
	assert.Equal(t, "a", event.Decision.Result)
	assert.Equal(t, event.RequestID, event.Decision.RequestID)
}

func TestDecisionStreamReplaysLastEvent(t *testing.T) {
	server, router := newTestServer(t, &stubBackend{reply: fixedReply("b")}, false)
	httpServer := httptest.NewServer(router)
	defer httpServer.Close()

	rec := doJSON(t, router, http.MethodPost, "/api/decide", map[string]any{"condition": "c", "choices": []string{"a", "b"}})
	require.Equal(t, http.StatusOK, rec.Code)
	sent := decodeBody[DecisionDTO](t, rec)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/api/decisions/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event DecisionEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "decision", event.Type)
	assert.Equal(t, sent.RequestID, event.RequestID)
	require.Eventually(t, func() bool { return server.notifier.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDecisionStreamSlowSubscriberDoesNotBlockDecide(t *testing.T) {
	server, router := newTestServer(t, &stubBackend{reply: fixedReply("a")}, false)
	httpServer := httptest.NewServer(router)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/api/decisions/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return server.notifier.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The subscriber never reads, so its socket buffers and queue fill up.
	condition := strings.Repeat("x", 1<<20)
	for i := 0; i < 3*clientQueueSize; i++ {
		start := time.Now()
		rec := doJSON(t, router, http.MethodPost, "/api/decide", map[string]any{"condition": condition, "choices": []string{"a"}})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Less(t, time.Since(start), 2*time.Second, "decide %d", i)
	}

	require.Eventually(t, func() bool { return server.notifier.Clients() == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestDetermineWorkerCount(t *testing.T) {
	assert.Equal(t, 2, determineWorkerCount(1))
	assert.Equal(t, 5, determineWorkerCount(5))
	assert.Equal(t, maxWorkers, determineWorkerCount(100))
	workers := determineWorkerCount(0)
	assert.True(t, workers >= 2 && workers <= maxWorkers)
}
