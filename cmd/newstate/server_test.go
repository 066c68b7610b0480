package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/newstate/codec"
	"github.com/caffeineduck/newstate/executor"
	"github.com/caffeineduck/newstate/internal/config"
	"github.com/caffeineduck/newstate/sandbox"
	"github.com/caffeineduck/newstate/transfer"
	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func setupTestServer(t *testing.T, mutate ...func(*config.Config)) (*server, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c := config.Default()
	c.RateLimit.Enabled = false
	for _, m := range mutate {
		m(c)
	}

	srv, err := newServer(c, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(srv.close)
	return srv, srv.router()
}

func doJSON(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) jsonResponse {
	t.Helper()
	var resp jsonResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response %q: %v", w.Body.String(), err)
	}
	return resp
}

func createTestSession(t *testing.T, h http.Handler, body string) string {
	t.Helper()
	w := doJSON(h, http.MethodPost, "/sessions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp.SessionID == "" {
		t.Fatal("expected session_id")
	}
	return resp.SessionID
}

func TestHealthEndpoint(t *testing.T) {
	_, h := setupTestServer(t)

	w := doJSON(h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected 'ok', got %q", w.Body.String())
	}
}

func TestExecute(t *testing.T) {
	_, h := setupTestServer(t)

	w := doJSON(h, http.MethodPost, "/execute", `{"code": "local a, b = ... return a + b, 'sum'", "args": [2, 3]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeJSON(t, w)
	if resp.Status != int(sandbox.StatusOK) || resp.Error != "" {
		t.Fatalf("unexpected failure: %+v", resp)
	}
	if len(resp.Values) != 2 || resp.Values[0] != float64(5) || resp.Values[1] != "sum" {
		t.Errorf("unexpected values %v", resp.Values)
	}
}

func TestExecuteScriptErrors(t *testing.T) {
	_, h := setupTestServer(t)

	tests := []struct {
		name   string
		body   string
		status sandbox.Status
		want   string
	}{
		{"runtime", `{"code": "error('boom')"}`, sandbox.StatusErrRun, "boom"},
		{"syntax", `{"code": "return +"}`, sandbox.StatusErrSyntax, ""},
		{"timeout", `{"code": "while true do end", "timeout": "50ms"}`, sandbox.StatusErrRun, "timeout"},
		{"transfer", `{"code": "return print"}`, sandbox.StatusErrTransfer, "function"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(h, http.MethodPost, "/execute", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("script errors should return 200, got %d", w.Code)
			}
			resp := decodeJSON(t, w)
			if resp.Status != int(tt.status) {
				t.Errorf("expected status %d, got %d (%s)", tt.status, resp.Status, resp.Error)
			}
			if !strings.Contains(resp.Error, tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, resp.Error)
			}
		})
	}
}

func TestExecuteBadRequests(t *testing.T) {
	_, h := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"code": `},
		{"missing code", `{}`},
		{"invalid timeout", `{"code": "return 1", "timeout": "soon"}`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(h, http.MethodPost, "/execute", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestExecuteBodyLimit(t *testing.T) {
	_, h := setupTestServer(t, func(c *config.Config) {
		c.Server.MaxBodyBytes = 64
	})

	body := `{"code": "return '` + strings.Repeat("x", 128) + `'"}`
	w := doJSON(h, http.MethodPost, "/execute", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, h := setupTestServer(t)
	id := createTestSession(t, h, "")
	base := "/sessions/" + id

	w := doJSON(h, http.MethodPost, base+"/load", `{"code": "count = (count or 0) + 1 return count"}`)
	if resp := decodeJSON(t, w); w.Code != http.StatusOK || resp.Status != 0 {
		t.Fatalf("load failed: %d %s", w.Code, w.Body.String())
	}

	for want := 1; want <= 2; want++ {
		w = doJSON(h, http.MethodPost, base+"/run", "")
		resp := decodeJSON(t, w)
		if len(resp.Values) != 1 || resp.Values[0] != float64(want) {
			t.Fatalf("run %d: unexpected response %s", want, w.Body.String())
		}
	}

	w = doJSON(h, http.MethodPost, base+"/do", `{"code": "local k = ... return count * k", "args": [10]}`)
	if resp := decodeJSON(t, w); len(resp.Values) != 1 || resp.Values[0] != float64(20) {
		t.Fatalf("do: unexpected response %s", w.Body.String())
	}

	w = doJSON(h, http.MethodPost, base+"/gc", `{"option": "setpause", "params": [150]}`)
	resp := decodeJSON(t, w)
	if w.Code != http.StatusOK || resp.Value == nil || *resp.Value != 200 {
		t.Fatalf("gc: unexpected response %d %s", w.Code, w.Body.String())
	}

	w = doJSON(h, http.MethodDelete, base, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", w.Code)
	}
	w = doJSON(h, http.MethodDelete, base, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 on second delete, got %d", w.Code)
	}
	w = doJSON(h, http.MethodPost, base+"/run", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 after close, got %d", w.Code)
	}
}

func TestSessionCreateWithCode(t *testing.T) {
	_, h := setupTestServer(t)
	id := createTestSession(t, h, `{"code": "return 7"}`)

	w := doJSON(h, http.MethodPost, "/sessions/"+id+"/run", "")
	if resp := decodeJSON(t, w); len(resp.Values) != 1 || resp.Values[0] != float64(7) {
		t.Errorf("unexpected response %s", w.Body.String())
	}

	w = doJSON(h, http.MethodPost, "/sessions", `{"code": "return +"}`)
	if resp := decodeJSON(t, w); resp.Status != int(sandbox.StatusErrSyntax) || resp.SessionID != "" {
		t.Errorf("expected syntax error without a session, got %s", w.Body.String())
	}
}

func TestSessionErrors(t *testing.T) {
	srv, h := setupTestServer(t)
	id := createTestSession(t, h, "")

	w := doJSON(h, http.MethodPost, "/sessions/"+id+"/run", "")
	if resp := decodeJSON(t, w); resp.Status != int(sandbox.StatusErrArg) {
		t.Errorf("expected argument error without entry, got %s", w.Body.String())
	}

	w = doJSON(h, http.MethodPost, "/sessions/"+id+"/gc", `{"option": "compact"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for unknown gc option, got %d", w.Code)
	}

	w = doJSON(h, http.MethodPost, "/sessions/"+id+"/load", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without code, got %d", w.Code)
	}

	w = doJSON(h, http.MethodPost, "/sessions/nonexistent/run", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}

	if n := srv.sessions.len(); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
}

func TestMultipleSessions(t *testing.T) {
	_, h := setupTestServer(t)
	id1 := createTestSession(t, h, "")
	id2 := createTestSession(t, h, "")
	if id1 == id2 {
		t.Fatal("session ids should differ")
	}

	doJSON(h, http.MethodPost, "/sessions/"+id1+"/do", `{"code": "x = 1"}`)
	doJSON(h, http.MethodPost, "/sessions/"+id2+"/do", `{"code": "x = 2"}`)

	for id, want := range map[string]float64{id1: 1, id2: 2} {
		w := doJSON(h, http.MethodPost, "/sessions/"+id+"/do", `{"code": "return x"}`)
		if resp := decodeJSON(t, w); len(resp.Values) != 1 || resp.Values[0] != want {
			t.Errorf("session %s: expected x = %v, got %s", id, want, w.Body.String())
		}
	}
}

func TestMaxSessions(t *testing.T) {
	_, h := setupTestServer(t, func(c *config.Config) {
		c.Server.MaxSessions = 1
	})
	createTestSession(t, h, "")

	w := doJSON(h, http.MethodPost, "/sessions", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestCBORRoundTrip(t *testing.T) {
	_, h := setupTestServer(t)

	arg := transfer.NewTable(0)
	arg.SetString("name", transfer.String("a\x00b"))
	if err := arg.Set(transfer.Number(1.5), transfer.Bool(true)); err != nil {
		t.Fatal(err)
	}
	rawArgs, err := codec.MarshalValues([]transfer.Value{arg})
	if err != nil {
		t.Fatal(err)
	}
	body, err := cbor.Marshal(cborRequest{Code: "local t = ... return t, #t.name", Args: rawArgs})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", mimeCBOR)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != mimeCBOR {
		t.Fatalf("expected CBOR response, got %q", ct)
	}

	var resp cborResponse
	if err := cbor.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid CBOR response: %v", err)
	}
	if resp.Status != 0 {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
	vals, err := codec.UnmarshalValues(resp.Values)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 2 {
		t.Fatalf("expected 2 values, got %d", len(vals))
	}
	if !transfer.Equal(arg, vals[0]) {
		t.Errorf("table did not survive the round trip: %v", vals[0])
	}
	if !transfer.Equal(transfer.Number(3), vals[1]) {
		t.Errorf("expected 3, got %v", vals[1])
	}
}

func TestAcceptCBOR(t *testing.T) {
	_, h := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"code": "return 1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", mimeCBOR)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != mimeCBOR {
		t.Errorf("expected CBOR response, got %q", ct)
	}
}

func TestCBORDeepArgs(t *testing.T) {
	_, h := setupTestServer(t)

	const depth = 150
	var arg transfer.Value = transfer.Number(0)
	for i := 0; i < depth; i++ {
		arg = transfer.List(arg)
	}
	rawArgs, err := codec.MarshalValues([]transfer.Value{arg})
	if err != nil {
		t.Fatal(err)
	}
	body, err := cbor.Marshal(cborRequest{
		Code: "local t, d = ..., 0 while type(t) == 'table' do d = d + 1 t = t[1] end return d",
		Args: rawArgs,
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", mimeCBOR)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %x", w.Code, w.Body.Bytes())
	}
	var resp cborResponse
	if err := cbor.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid CBOR response: %v", err)
	}
	if resp.Status != 0 {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
	vals, err := codec.UnmarshalValues(resp.Values)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 1 || !transfer.Equal(transfer.Number(depth), vals[0]) {
		t.Errorf("expected depth %d, got %v", depth, vals)
	}
}

func TestEncodeErrorFollowsAccept(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/execute", nil)
	c.Request.Header.Set("Accept", mimeCBOR)

	renderEncodeError(c, errors.New("codec: value nested too deep"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != mimeCBOR {
		t.Fatalf("expected CBOR response, got %q", ct)
	}
	var resp cborResponse
	if err := cbor.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid CBOR response: %v", err)
	}
	if resp.Status != int(sandbox.StatusErrTransfer) {
		t.Errorf("expected status %d, got %d", sandbox.StatusErrTransfer, resp.Status)
	}
	if resp.Error != "codec: value nested too deep" {
		t.Errorf("unexpected error %q", resp.Error)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{executor.ErrSessionBusy, http.StatusConflict},
		{executor.ErrSessionClosed, http.StatusNotFound},
		{executor.ErrExecutorClosed, http.StatusServiceUnavailable},
		{sandbox.ErrNoEntry, http.StatusOK},
	}

	for _, tt := range tests {
		code, _ := fromResult(executor.Result{Error: tt.err})
		if code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, code)
		}
	}
}

func TestRateLimit(t *testing.T) {
	_, h := setupTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1}
	})

	w := doJSON(h, http.MethodPost, "/execute", `{"code": "return 1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", w.Code)
	}
	w = doJSON(h, http.MethodPost, "/execute", `{"code": "return 1"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}

	w = doJSON(h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health should not be rate limited, got %d", w.Code)
	}

	w = doJSON(h, http.MethodGet, "/metrics", "")
	if !strings.Contains(w.Body.String(), "newstate_http_rate_limited_total 1") {
		t.Error("expected one rate limited request in metrics")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := setupTestServer(t)
	doJSON(h, http.MethodPost, "/execute", `{"code": "return 1"}`)

	w := doJSON(h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	for _, name := range []string{
		`newstate_calls_total{operation="run",status="ok"} 1`,
		"newstate_http_requests_total",
		"newstate_sandboxes_open 0",
	} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metrics should contain %q", name)
		}
	}
}

func TestSessionExpiry(t *testing.T) {
	srv, _ := setupTestServer(t)
	sm := newSessionManager(time.Minute, 0, zap.NewNop())
	t.Cleanup(sm.shutdown)

	idle, err := sm.create(srv.exec)
	if err != nil {
		t.Fatal(err)
	}
	if n := sm.expire(time.Now()); n != 0 {
		t.Errorf("fresh session should not expire, closed %d", n)
	}
	if n := sm.expire(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("expected 1 expired session, got %d", n)
	}
	if _, ok := sm.get(idle); ok {
		t.Error("expired session should be gone")
	}

	never := newSessionManager(0, 0, zap.NewNop())
	t.Cleanup(never.shutdown)
	if _, err := never.create(srv.exec); err != nil {
		t.Fatal(err)
	}
	if n := never.expire(time.Now().Add(24 * time.Hour)); n != 0 {
		t.Errorf("zero ttl should never expire, closed %d", n)
	}
}
