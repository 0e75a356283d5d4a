package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/backend/local"
	"github.com/seantiz/qexec/internal/balancer"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/postproc"
	"github.com/seantiz/qexec/internal/store"
	"github.com/seantiz/qexec/internal/worker"
)

// testEnv is a server wired to a seeded local simulator, two thread
// workers and an in-memory SQLite history.
type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	store *store.SQLStore
	exec  *engine.Executor
	reg   *backend.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	reg := backend.NewRegistry(logger)
	if err := reg.Register("sim", local.New(local.Config{Name: "sim", Seed: 11, MaxQubits: 10})); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	runners := []worker.Runner{worker.NewThreadRunner(reg), worker.NewThreadRunner(reg)}
	exec, err := engine.New(reg, runners, balancer.NewLeastLoaded(), s, logger, engine.Options{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	exec.Start(context.Background())
	t.Cleanup(func() { exec.Close() })

	srv := NewServer(":0", s, reg, exec, postproc.New(0), logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, store: s, exec: exec, reg: reg}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	resp, err := http.Post(e.ts.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, e.ts.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, want, body)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, kind string) {
	t.Helper()
	expectStatus(t, resp, status)
	body := decode[errorResponse](t, resp)
	if body.Kind != kind || body.Error == "" {
		t.Errorf("error body = %+v, want kind %q", body, kind)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	resp := env.get(t, "/test")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	resp := env.get(t, "/panic")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest("OPTIONS", env.ts.URL+"/v1/backends", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /v1/backends: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/v1/tasks", "{not json")
	expectError(t, resp, http.StatusBadRequest, kindInvalidRequest)
}
