package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"access.org/internal/access"
	"access.org/internal/obs"
)

// ReadyProbe reports backend readiness (DB ping when backed by Postgres).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options tunes the HTTP layer.
type Options struct {
	// RateLimitRPS and RateLimitBurst bound per-client request rates on the
	// auth endpoints. Zero disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// API is the HTTP layer over the access service.
type API struct {
	r          chi.Router
	svc        *access.Service
	readyProbe ReadyProbe
	version    string
}

func New(svc *access.Service, rp ReadyProbe, version string, opts Options) *API {
	a := &API{
		r:          chi.NewRouter(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
	}

	a.r.Use(RequestID, Logging, SecurityHeaders)

	// health/ready/info
	a.r.Get("/healthz", a.Healthz)
	a.r.Get("/readyz", a.Ready)
	a.r.Get("/v1/info", a.Info)

	// Prometheus metrics
	a.r.Method(http.MethodGet, "/metrics", obs.Handler())

	// Public key set for downstream verifiers.
	a.r.Get("/.well-known/jwks.json", a.JWKS)

	// Authentication endpoints: rate limited, no bearer token required.
	a.r.Group(func(r chi.Router) {
		if opts.RateLimitRPS > 0 {
			r.Use(func(next http.Handler) http.Handler {
				return RateLimit(next, opts.RateLimitBurst, opts.RateLimitRPS)
			})
		}
		r.Post("/v1/auth/user", a.handleAuthUser)
		r.Post("/v1/auth/transaction", a.handleAuthTransaction)
		r.Post("/v1/auth/otp", a.handleRequestOTP)
		r.Post("/v1/auth/password", a.handleResetPassword)
	})

	// Everything below requires a verified bearer token.
	a.r.Group(func(r chi.Router) {
		r.Use(a.withAuth)
		r.Post("/v1/users", a.handleCreateUser)
		r.Get("/v1/users/{id}", a.handleGetUser)
		r.Post("/v1/users/{id}/otp", a.handleCreateUserOTP)
		r.Post("/v1/users/{id}/access_tokens", a.handleCreateAccessToken)
		r.Delete("/v1/tokens/{id}", a.handleRevokeToken)
	})

	return a
}

// Handler returns the fully instrumented http.Handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "access-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "access-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) JWKS(w http.ResponseWriter, r *http.Request) {
	data, err := a.svc.JWKS()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "key set unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(data)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
