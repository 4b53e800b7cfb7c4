// ABOUTME: HTTP server struct, constructor, and handler wiring for the Keystone notification API.
// ABOUTME: chi carries middleware and infrastructure endpoints; huma serves the JSON API under /api/v1.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/keystone-hpc/keystone/internal/config"
	"github.com/keystone-hpc/keystone/internal/store"
)

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store       *store.Store
	jwtSecret   []byte
	rateLimiter *ipRateLimiter
}

// NewServer creates a Server. s may be nil in tests that never reach the
// database (healthz then reports degraded).
func NewServer(s *store.Store, cfg *config.Config) *Server {
	perMinute := cfg.APIRateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	burst := max(cfg.APIRateLimitBurst, 1)
	rl := newIPRateLimiter(rate.Limit(float64(perMinute)/60), burst, cfg.RateLimitEvictTTL)
	return &Server{
		store:       s,
		jwtSecret:   []byte(cfg.JWTSecret),
		rateLimiter: rl,
	}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	var db pinger
	if srv.store != nil {
		db = srv.store.Pool()
	}
	r := chi.NewRouter()

	// ── Security headers ─────────────────────────────────────────────────────
	// Must be first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	// ── Standard chi middleware ───────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	// ── Infrastructure endpoints ──────────────────────────────────────────────
	r.Get("/healthz", healthzHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	// ── API v1 sub-router with huma (OpenAPI 3.1) ────────────────────────────
	apiRouter := chi.NewRouter()
	apiRouter.Use(srv.clientRateLimit())
	humaConfig := huma.DefaultConfig("Keystone Notifications API", "0.1.0")
	humaConfig.Info.Description = "Per-user notifications and notification preferences"
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		bearerScheme: {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	api := humachi.New(apiRouter, humaConfig)
	registerNotificationRoutes(api, srv)
	registerPreferenceRoutes(api, srv)

	r.Mount("/api/v1", apiRouter)

	return r
}

// pinger is the database check behind /healthz; *pgxpool.Pool implements it.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the DB is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func healthzHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if db == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := db.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
		}
	}
}
