// ABOUTME: Per-client in-memory rate limiter for the JSON API, keyed by client IP.
// ABOUTME: Token buckets from golang.org/x/time/rate; idle clients are evicted in the background.
package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipRateLimiter struct {
	limit    rate.Limit
	burst    int
	evictTTL time.Duration

	mu      sync.Mutex
	clients map[string]*rateClient
}

func newIPRateLimiter(limit rate.Limit, burst int, evictTTL time.Duration) *ipRateLimiter {
	if evictTTL <= 0 {
		evictTTL = 15 * time.Minute
	}
	rl := &ipRateLimiter{
		limit:    limit,
		burst:    burst,
		evictTTL: evictTTL,
		clients:  make(map[string]*rateClient),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether ip is within its limit.
func (rl *ipRateLimiter) Allow(ip string) bool {
	ok, _ := rl.reserve(ip, time.Now())
	return ok
}

// reserve takes a token for ip at now. When none is available it returns
// false and the wait until the next token.
func (rl *ipRateLimiter) reserve(ip string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &rateClient{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, rl.evictTTL
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (rl *ipRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.evictTTL / 2)
	defer ticker.Stop()
	for range ticker.C {
		rl.evictIdle(time.Now())
	}
}

func (rl *ipRateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := now.Add(-rl.evictTTL)
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// retryAfterSeconds rounds wait up to whole seconds, minimum 1.
func retryAfterSeconds(wait time.Duration) string {
	return strconv.Itoa(max(1, int(math.Ceil(wait.Seconds()))))
}

// clientRateLimit applies per-IP limits. chi's RealIP middleware must run
// first so X-Forwarded-For is honoured behind a reverse proxy.
func (srv *Server) clientRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if ok, wait := srv.rateLimiter.reserve(ip, time.Now()); !ok {
				w.Header().Set("Retry-After", retryAfterSeconds(wait))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
