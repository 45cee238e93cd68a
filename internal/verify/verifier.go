// Package verify lets downstream services validate transaction tokens
// against the published JWKS without holding the signing key.
package verify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"access.org/internal/access"
	"access.org/internal/obs"
)

// Options tunes JWKS fetching and token validation.
type Options struct {
	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string
	// RefreshInterval controls background JWKS refresh. Zero uses one hour.
	RefreshInterval time.Duration
	// ClientTimeout bounds each JWKS HTTP request. Zero uses ten seconds.
	ClientTimeout time.Duration
	// Leeway tolerates clock skew when validating time claims.
	Leeway time.Duration
}

// Verifier validates tokens minted by the access service using its
// published key set. Keys refresh in the background for the lifetime of the
// context given to New.
type Verifier struct {
	keys   keyfunc.Keyfunc
	issuer string
	leeway time.Duration
}

// New builds a Verifier fetching keys from jwksURL. The first fetch is
// allowed to fail so dependents can start before the access service.
func New(ctx context.Context, jwksURL string, opts Options) (*Verifier, error) {
	timeout := opts.ClientTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = time.Hour
	}

	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Ctx:                       ctx,
		Client:                    &http.Client{Timeout: timeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refresh,
		RefreshErrorHandler: func(_ context.Context, err error) {
			obs.LogRequest(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "jwks refresh failed",
				"url":   jwksURL,
				"error": err.Error(),
			})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks storage: %w", err)
	}

	keys, err := keyfunc.New(keyfunc.Options{Storage: storage, Ctx: ctx})
	if err != nil {
		return nil, fmt.Errorf("keyfunc: %w", err)
	}

	return &Verifier{keys: keys, issuer: opts.Issuer, leeway: opts.Leeway}, nil
}

// Verify parses and validates the token and returns its claims.
func (v *Verifier) Verify(ctx context.Context, token string) (*access.Claims, error) {
	claims := &access.Claims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodES512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.leeway))
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, v.keys.KeyfuncCtx(ctx), parserOpts...)
	if err != nil || !parsed.Valid {
		return nil, access.ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, access.ErrInvalidToken
	}
	return claims, nil
}

// Middleware authenticates requests with the verifier and attaches claims to
// the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := v.Verify(r.Context(), header[len(prefix):])
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(access.ContextWithClaims(r.Context(), claims)))
	})
}
