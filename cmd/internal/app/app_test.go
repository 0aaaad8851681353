package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"batepapo/cmd/internal/chat"
	"batepapo/cmd/internal/docstore"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://chat.example.com", want: "wss://chat.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func testConfig() Config {
	return Config{
		Store:              StoreMemory,
		MaxBodyBytes:       16 << 10,
		ReaperInterval:     15 * time.Second,
		InactivityTimeout:  15 * time.Second,
		CORSAllowedOrigins: []string{"*"},
		MetricsEnabled:     true,
	}
}

func newTestApp(t *testing.T, cfg Config) (*App, *httptest.Server) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := wire(cfg, log, docstore.NewMemoryStore())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)
	return a, ts
}

func doRequest(t *testing.T, method, url, user, body string) *http.Response {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set("user", user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestApp_EndToEnd(t *testing.T) {
	t.Parallel()

	_, ts := newTestApp(t, testConfig())

	resp := doRequest(t, http.MethodPost, ts.URL+"/participants", "", `{"name":"ana"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status=%d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/messages", "ana", `{"to":"Todos","text":"oi","type":"message"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: status=%d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/messages?limit=1", "ana", "")
	var msgs []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "oi" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestApp_Probes(t *testing.T) {
	t.Parallel()

	_, ts := newTestApp(t, testConfig())

	for _, path := range []string{"/healthz", "/readyz"} {
		if resp := doRequest(t, http.MethodGet, ts.URL+path, "", ""); resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status=%d", path, resp.StatusCode)
		}
	}

	cfg := testConfig()
	cfg.ReadinessRequireDB = true
	_, strict := newTestApp(t, cfg)
	if resp := doRequest(t, http.MethodGet, strict.URL+"/readyz", "", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db: status=%d want 503", resp.StatusCode)
	}
}

func TestApp_MetricsUseRoutePatterns(t *testing.T) {
	t.Parallel()

	_, ts := newTestApp(t, testConfig())

	doRequest(t, http.MethodPost, ts.URL+"/participants", "", `{"name":"bia"}`)
	doRequest(t, http.MethodDelete, ts.URL+"/messages/does-not-exist", "bia", "")

	resp := doRequest(t, http.MethodGet, ts.URL+"/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status=%d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	for _, want := range []string{
		`chat_http_requests_total{method="POST",route="POST /participants",status="201"} 1`,
		`chat_http_requests_total{method="DELETE",route="DELETE /messages/{id}",status="404"} 1`,
		"chat_live_clients 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
	if strings.Contains(body, "does-not-exist") {
		t.Fatalf("raw path leaked into metric labels")
	}
}

func TestApp_MetricsDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MetricsEnabled = false
	_, ts := newTestApp(t, cfg)

	if resp := doRequest(t, http.MethodGet, ts.URL+"/metrics", "", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("metrics disabled: status=%d want 404", resp.StatusCode)
	}
}
