// ABOUTME: Tests for the per-IP in-memory rate limiter, Retry-After rounding and clientRateLimit middleware.
// ABOUTME: Uses package api (not api_test) to access unexported Server fields.
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestIPRateLimiter_Allow(t *testing.T) {
	t.Parallel()
	rl := newIPRateLimiter(rate.Limit(100), 3, time.Minute)
	for i := 1; i <= 3; i++ {
		if !rl.Allow("127.0.0.1") {
			t.Errorf("request %d: should be allowed (within burst of 3)", i)
		}
	}
	if rl.Allow("127.0.0.1") {
		t.Error("4th request: should be denied (burst of 3 exhausted)")
	}
}

func TestIPRateLimiter_SeparateBucketsPerIP(t *testing.T) {
	t.Parallel()
	rl := newIPRateLimiter(rate.Limit(1), 1, time.Minute)
	if !rl.Allow("1.2.3.4") {
		t.Error("1.2.3.4 first request should be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("1.2.3.4 second request should be denied")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("5.6.7.8 first request should be allowed (independent bucket)")
	}
}

func TestIPRateLimiter_EvictIdle(t *testing.T) {
	t.Parallel()
	rl := newIPRateLimiter(rate.Limit(1), 1, time.Minute)
	rl.Allow("1.2.3.4")
	rl.Allow("5.6.7.8")
	rl.evictIdle(time.Now().Add(2 * time.Minute))

	rl.mu.Lock()
	n := len(rl.clients)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("limiters after eviction = %d, want 0", n)
	}
	if !rl.Allow("1.2.3.4") {
		t.Error("evicted client should start with a fresh bucket")
	}
}

func TestClientRateLimit_Returns429AfterBurst(t *testing.T) {
	t.Parallel()
	srv := &Server{ //nolint:exhaustruct // test: only rateLimiter needed
		rateLimiter: newIPRateLimiter(rate.Limit(100), 2, time.Minute),
	}
	handler := srv.clientRateLimit()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
		if err != nil {
			t.Fatalf("request %d: new request: %v", i, err)
		}
		resp, err := ts.Client().Do(req) //nolint:gosec // G704 false positive: ts.URL is httptest.Server, not user input
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close() //nolint:errcheck,gosec // G104: body close in test
		wantStatus := http.StatusOK
		if i > 2 {
			wantStatus = http.StatusTooManyRequests
			if got := resp.Header.Get("Retry-After"); got != "1" {
				t.Errorf("Retry-After = %q, want 1", got)
			}
		}
		if resp.StatusCode != wantStatus {
			t.Errorf("request %d: got status %d, want %d", i, resp.StatusCode, wantStatus)
		}
	}
}

func TestIPRateLimiter_ReserveWait(t *testing.T) {
	t.Parallel()
	// One token every 30s.
	rl := newIPRateLimiter(rate.Every(30*time.Second), 1, time.Minute)
	now := time.Now()
	if ok, _ := rl.reserve("10.0.0.1", now); !ok {
		t.Fatal("first request should be allowed")
	}
	ok, wait := rl.reserve("10.0.0.1", now)
	if ok {
		t.Fatal("second request should be denied")
	}
	if wait < 29*time.Second || wait > 30*time.Second {
		t.Errorf("wait = %v, want ~30s", wait)
	}
	// A denied request must not consume the next token.
	if ok, _ := rl.reserve("10.0.0.1", now.Add(30*time.Second)); !ok {
		t.Error("request after the refill interval should be allowed")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()
	tests := map[time.Duration]string{
		0:                       "1",
		10 * time.Millisecond:   "1",
		time.Second:             "1",
		1500 * time.Millisecond: "2",
		30 * time.Second:        "30",
	}
	for in, want := range tests {
		if got := retryAfterSeconds(in); got != want {
			t.Errorf("retryAfterSeconds(%v) = %q, want %q", in, got, want)
		}
	}
}
