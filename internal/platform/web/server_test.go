package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dontdude/javabox/internal/admission"
	"github.com/dontdude/javabox/internal/domain"
	"github.com/dontdude/javabox/internal/metrics"
	"github.com/dontdude/javabox/internal/platform/queue"
	"github.com/dontdude/javabox/internal/router"
)

const helloRequest = `{"clientId":"alice","submission":{"main":"Main","files":[{"name":"Main.java","data":"public class Main {}"}]},"compileTimeoutMs":1000,"executionTimeoutMs":1000,"charactersMaxLength":100}`

func newTestServer(t *testing.T, limiter *RateLimiter) (*httptest.Server, *metrics.Collector) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	exec := admission.ExecutorFunc(func(_ context.Context, req domain.Request) domain.Feedback {
		return domain.Feedback{RequestID: req.ID, ClientID: req.ClientID, Passed: true, Output: "Hello world!"}
	})
	q := admission.New(queue.NewMemoryStore(), exec, router.New(logger), admission.Options{Concurrency: 2, Logger: logger, Metrics: m})
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	srv := httptest.NewServer(NewServer(q, limiter, m, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, m
}

func decodeFeedback(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		t.Fatalf("decoding feedback: %v", err)
	}
	return out
}

func TestRunEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/run", "application/json", strings.NewReader(helloRequest))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	fb := decodeFeedback(t, resp.Body)
	if fb["clientId"] != "alice" || fb["passed"] != true || fb["output"] != "Hello world!" || fb["timeOut"] != false {
		t.Errorf("feedback = %v", fb)
	}
	if _, ok := fb["totalNumberOfTests"]; ok {
		t.Error("plain run feedback carries test fields")
	}
}

func TestRunEndpointRejectsInvalidInput(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/run", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	// Structurally invalid requests still get a failing feedback.
	body := `{"clientId":"bob","submission":{"files":[]},"compileTimeoutMs":1000,"executionTimeoutMs":1000}`
	resp, err = http.Post(srv.URL+"/api/run", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	fb := decodeFeedback(t, resp.Body)
	if fb["passed"] != false || fb["errorMessage"] == "" || fb["clientId"] != "bob" {
		t.Errorf("feedback = %v", fb)
	}
}

func TestRunEndpointRateLimited(t *testing.T) {
	srv, m := newTestServer(t, NewRateLimiter(0.001, 1))

	codes := make([]int, 2)
	for i := range codes {
		resp, err := http.Post(srv.URL+"/api/run", "application/json", strings.NewReader(helloRequest))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes[i] = resp.StatusCode
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 429]", codes)
	}
	if got := testutil.ToFloat64(m.RateLimitHits); got != 1 {
		t.Errorf("rate limit hits = %v, want 1", got)
	}
}

func TestWebSocket(t *testing.T) {
	srv, _ := newTestServer(t, NewRateLimiter(0.001, 2))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for range 3 {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(helloRequest)); err != nil {
			t.Fatal(err)
		}
	}

	var passed, limited int
	for range 3 {
		var fb map[string]any
		if err := conn.ReadJSON(&fb); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		switch {
		case fb["passed"] == true:
			passed++
		case fb["errorMessage"] == TooManyRequestsMessage:
			limited++
		default:
			t.Errorf("unexpected feedback %v", fb)
		}
	}
	if passed != 2 || limited != 1 {
		t.Errorf("passed, limited = %d, %d, want 2, 1", passed, limited)
	}
}

func TestWebSocketInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	var fb domain.Feedback
	if err := conn.ReadJSON(&fb); err != nil {
		t.Fatal(err)
	}
	if fb.Passed || !strings.HasPrefix(fb.ErrorMessage, "Invalid request") {
		t.Errorf("feedback = %+v", fb)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for path, want := range map[string]string{"/healthz": `"ok"`, "/metrics": "javabox_admission_in_flight"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), want) {
			t.Errorf("GET %s = %d %q, want %q", path, resp.StatusCode, body, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	if got := ClientIP(r); got != "10.0.0.7" {
		t.Errorf("ClientIP() = %q, want 10.0.0.7", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Errorf("ClientIP() = %q, want 203.0.113.9", got)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("a")
	rl.Allow("b")
	rl.visitors["a"].lastSeen = time.Now().Add(-time.Hour)

	if n := rl.Cleanup(); n != 1 {
		t.Errorf("Cleanup() = %d, want 1", n)
	}
	if _, ok := rl.visitors["b"]; !ok {
		t.Error("active visitor removed")
	}
}
