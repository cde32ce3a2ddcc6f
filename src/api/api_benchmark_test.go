package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"vibetunnel/server/src/config"
	"vibetunnel/server/src/fanout"
	"vibetunnel/server/src/session"
)

// DummyResponseWriter implements http.ResponseWriter but discards all data.
// This eliminates overhead from httptest.NewRecorder() in benchmarks.
type DummyResponseWriter struct{}

func (d *DummyResponseWriter) Header() http.Header {
	return http.Header{}
}

func (d *DummyResponseWriter) Write(data []byte) (int, error) {
	return len(data), nil
}

func (d *DummyResponseWriter) WriteHeader(statusCode int) {
}

// setupBenchmarkRouter wires a router against a scratch control directory,
// mirroring what main.go assembles but with logging and Server-Timing off
// so benchmarks measure only handler overhead.
func setupBenchmarkRouter(b *testing.B) *gin.Engine {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	controlDir := b.TempDir()
	store, err := session.NewStore(controlDir)
	if err != nil {
		b.Fatalf("failed to create session store: %v", err)
	}

	cfg := &config.Config{
		Port:                  4020,
		ControlDir:            controlDir,
		AllowResize:           true,
		DisableRequestLogging: true,
		EnableServerTiming:    false,
	}

	return SetupRouter(Deps{
		Config:    cfg,
		Store:     store,
		Registry:  nil,
		BufferHub: fanout.NewBufferHub(),
		Version:   "bench",
	})
}

// benchmarkRequest executes an HTTP request against the router for
// benchmarking. It recreates the request body each iteration since HTTP
// request bodies can only be read once.
func benchmarkRequest(b *testing.B, router *gin.Engine, method, path string, body []byte) {
	w := new(DummyResponseWriter)
	for b.Loop() {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewBuffer(body)
		}
		req, _ := http.NewRequest(method, path, bodyReader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		router.ServeHTTP(w, req)
	}
}

// createSessionForBench creates a session through the HTTP surface and
// returns its id, the way a real client would discover it.
func createSessionForBench(b *testing.B, router *gin.Engine, command []string) string {
	b.Helper()
	requestBody := map[string]interface{}{
		"command":    command,
		"workingDir": "/tmp",
		"cols":       80,
		"rows":       24,
	}
	jsonData, _ := json.Marshal(requestBody)

	req, _ := http.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBuffer(jsonData))
	req.Header.Set("Content-Type", "application/json")
	rec := &recordingResponseWriter{header: http.Header{}}
	router.ServeHTTP(rec, req)

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(rec.body.Bytes(), &resp); err != nil {
		b.Fatalf("failed to decode create response: %v (body=%s)", err, rec.body.String())
	}
	return resp.SessionID
}

// recordingResponseWriter is a minimal http.ResponseWriter that captures
// the body, used only where a benchmark setup step needs to read a result.
type recordingResponseWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *recordingResponseWriter) Header() http.Header { return w.header }
func (w *recordingResponseWriter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}
func (w *recordingResponseWriter) WriteHeader(statusCode int) { w.status = statusCode }

// BenchmarkCreateSession benchmarks spawning a session through the HTTP API.
func BenchmarkCreateSession(b *testing.B) {
	router := setupBenchmarkRouter(b)
	requestBody := map[string]interface{}{
		"command":    []string{"true"},
		"workingDir": "/tmp",
		"cols":       80,
		"rows":       24,
	}
	jsonData, _ := json.Marshal(requestBody)
	benchmarkRequest(b, router, http.MethodPost, "/api/sessions", jsonData)
}

// BenchmarkListSessions benchmarks GET /api/sessions with a modest number
// of already-running sessions registered in the store.
func BenchmarkListSessions(b *testing.B) {
	router := setupBenchmarkRouter(b)
	for i := 0; i < 5; i++ {
		createSessionForBench(b, router, []string{"sleep", "5"})
	}
	benchmarkRequest(b, router, http.MethodGet, "/api/sessions", nil)
}

// BenchmarkGetSession benchmarks fetching a single session's metadata.
func BenchmarkGetSession(b *testing.B) {
	router := setupBenchmarkRouter(b)
	id := createSessionForBench(b, router, []string{"sleep", "5"})
	benchmarkRequest(b, router, http.MethodGet, fmt.Sprintf("/api/sessions/%s", id), nil)
}

// BenchmarkSessionInput benchmarks writing keystrokes into a running PTY.
func BenchmarkSessionInput(b *testing.B) {
	router := setupBenchmarkRouter(b)
	id := createSessionForBench(b, router, []string{"cat"})
	requestBody := map[string]interface{}{"text": "a"}
	jsonData, _ := json.Marshal(requestBody)
	benchmarkRequest(b, router, http.MethodPost, fmt.Sprintf("/api/sessions/%s/input", id), jsonData)
}

// BenchmarkSessionResize benchmarks resizing a running PTY.
func BenchmarkSessionResize(b *testing.B) {
	router := setupBenchmarkRouter(b)
	id := createSessionForBench(b, router, []string{"cat"})
	requestBody := map[string]interface{}{"cols": 100, "rows": 40}
	jsonData, _ := json.Marshal(requestBody)
	benchmarkRequest(b, router, http.MethodPost, fmt.Sprintf("/api/sessions/%s/resize", id), jsonData)
}
