package app

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimiterIdleTTL      = 10 * time.Minute
	rateLimiterSweepEvery   = time.Minute
	rateLimiterMaxKeyLength = 64
)

// clientLimiters keeps one token bucket per client key.
type clientLimiters struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	return &clientLimiters{
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		entries: make(map[string]*limiterEntry),
	}
}

// allow takes one token for key. When the bucket is empty it returns the
// wait until the next token.
func (c *clientLimiters) allow(key string, now time.Time) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) >= rateLimiterSweepEvery {
		for k, e := range c.entries {
			if now.Sub(e.lastSeen) > rateLimiterIdleTTL {
				delete(c.entries, k)
			}
		}
		c.lastSweep = now
	}

	e, ok := c.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(c.rps, c.burst)}
		c.entries[key] = e
	}
	e.lastSeen = now

	res := e.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (c *clientLimiters) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// WithRateLimit throttles requests per participant (the user header) or,
// for anonymous requests, per client IP. Probe endpoints are exempt.
func WithRateLimit(next http.Handler, cfg Config, log *slog.Logger) http.Handler {
	if cfg.RateLimitRPS <= 0 {
		return next
	}
	limiters := newClientLimiters(cfg.RateLimitRPS, cfg.RateLimitBurst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}

		key := rateLimitKey(r)
		ok, wait := limiters.allow(key, time.Now())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			log.Warn("http.rate_limited", "key", key, "path", r.URL.Path, "retry_after_s", secs)
			writeErrorJSON(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(userHeader)); u != "" {
		if len(u) > rateLimiterMaxKeyLength {
			u = u[:rateLimiterMaxKeyLength]
		}
		return "user:" + u
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
