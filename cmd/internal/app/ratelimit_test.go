package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientLimiters_Allow(t *testing.T) {
	t.Parallel()

	l := newClientLimiters(1, 2)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := range 2 {
		if ok, _ := l.allow("user:ana", now); !ok {
			t.Fatalf("request %d within burst was limited", i)
		}
	}
	ok, wait := l.allow("user:ana", now)
	if ok || wait <= 0 || wait > time.Second {
		t.Fatalf("third request: ok=%v wait=%v", ok, wait)
	}
	if ok, _ := l.allow("user:bia", now); !ok {
		t.Fatalf("keys must not share a bucket")
	}
	if ok, _ := l.allow("user:ana", now.Add(time.Second)); !ok {
		t.Fatalf("bucket did not refill")
	}
}

func TestClientLimiters_EvictsIdle(t *testing.T) {
	t.Parallel()

	l := newClientLimiters(1, 1)
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	l.allow("ip:10.0.0.1", start)
	l.allow("ip:10.0.0.2", start.Add(rateLimiterIdleTTL))
	l.allow("ip:10.0.0.3", start.Add(rateLimiterIdleTTL+rateLimiterSweepEvery+time.Second))

	if got := l.len(); got != 2 {
		t.Fatalf("entries=%d want 2", got)
	}
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()

	cfg := Config{RateLimitRPS: 0.001, RateLimitBurst: 1}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := WithRateLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg, log)

	send := func(path, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if user != "" {
			req.Header.Set("user", user)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("/messages", "ana"); rr.Code != http.StatusOK {
		t.Fatalf("first request: %d", rr.Code)
	}
	rr := send("/messages", "ana")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if rr := send("/messages", "bia"); rr.Code != http.StatusOK {
		t.Fatalf("other user limited: %d", rr.Code)
	}
	for range 3 {
		if rr := send("/healthz", "ana"); rr.Code != http.StatusOK {
			t.Fatalf("probe limited: %d", rr.Code)
		}
	}
}

func TestRateLimitKey(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/participants", nil)
	req.RemoteAddr = "192.0.2.7:5123"
	if got := rateLimitKey(req); got != "ip:192.0.2.7" {
		t.Fatalf("anonymous key=%q", got)
	}
	req.Header.Set("user", " ana ")
	if got := rateLimitKey(req); got != "user:ana" {
		t.Fatalf("user key=%q", got)
	}
}
