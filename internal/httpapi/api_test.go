package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"access.org/internal/access"
)

type testEnv struct {
	api    *API
	svc    *access.Service
	store  *access.MemStore
	tenant string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	store := access.NewMemStore()
	issuer, err := access.NewIssuer(access.WithGeneratedKey())
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	svc := access.NewService(store, issuer)

	ctx := context.Background()
	tenant := &access.Tenant{ID: "t1", Name: "Test"}
	if err := store.Tenants().Create(ctx, tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	own := "own"
	scopes := []access.Scope{
		{ID: "s-get-own", Service: "access", Resource: "users", Action: "get", Selector: &own, IsActive: true},
		{ID: "s-create", Service: "access", Resource: "users", Action: "create", IsActive: true},
	}
	for i := range scopes {
		if err := store.Scopes().Create(ctx, &scopes[i]); err != nil {
			t.Fatalf("create scope: %v", err)
		}
	}
	role := &access.Role{ID: "base", Name: "base", IsDefault: true, IsActive: true}
	if err := store.Roles().Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := store.Roles().SetScopes(ctx, role.ID, []string{"s-get-own", "s-create"}); err != nil {
		t.Fatalf("set scopes: %v", err)
	}

	return &testEnv{
		api:    New(svc, ReadyProbe{}, "test", opts),
		svc:    svc,
		store:  store,
		tenant: tenant.ID,
	}
}

func (e *testEnv) createUser(t *testing.T, email, password string) *access.User {
	t.Helper()
	user, err := e.svc.CreateUser(context.Background(), access.CreateUserParams{
		TenantID: e.tenant,
		Email:    email,
		Password: password,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.api.r.ServeHTTP(rec, req)
	return rec
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("empty token in response: %s", rec.Body.String())
	}
	return resp.Token
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t, Options{})
	rec := e.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestJWKSEndpoint(t *testing.T) {
	e := newTestEnv(t, Options{})
	rec := e.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var set struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(set.Keys))
	}
}

func TestAuthUserAndTransactionFlow(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.createUser(t, "a@example.com", "secret123")

	rec := e.do(t, http.MethodPost, "/v1/auth/user", "", map[string]any{
		"tenant":     e.tenant,
		"login":      "a@example.com",
		"credential": "secret123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("auth/user: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	userToken := decodeToken(t, rec)

	rec = e.do(t, http.MethodPost, "/v1/auth/transaction", userToken, map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("auth/transaction: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	txnToken := decodeToken(t, rec)

	claims, err := e.svc.VerifyToken(txnToken)
	if err != nil {
		t.Fatalf("verify transaction token: %v", err)
	}
	if !claims.HasAudience("access.users.get.own") {
		t.Fatalf("expected resolved scope in audience, got %v", claims.Audience)
	}
}

func TestAuthUserBadCredentials(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.createUser(t, "a@example.com", "secret123")

	rec := e.do(t, http.MethodPost, "/v1/auth/user", "", map[string]any{
		"tenant":     e.tenant,
		"login":      "a@example.com",
		"credential": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthTransactionWithoutToken(t *testing.T) {
	e := newTestEnv(t, Options{})
	rec := e.do(t, http.MethodPost, "/v1/auth/transaction", "", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetUserOwnershipScope(t *testing.T) {
	e := newTestEnv(t, Options{})
	user := e.createUser(t, "a@example.com", "secret123")
	other := e.createUser(t, "b@example.com", "secret123")

	rec := e.do(t, http.MethodPost, "/v1/auth/user", "", map[string]any{
		"tenant":     e.tenant,
		"login":      "a@example.com",
		"credential": "secret123",
	})
	userToken := decodeToken(t, rec)
	rec = e.do(t, http.MethodPost, "/v1/auth/transaction", userToken, map[string]any{})
	txnToken := decodeToken(t, rec)

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/v1/users/%s", user.ID), txnToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own profile: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/v1/users/%s", other.ID), txnToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("foreign profile: expected 401, got %d", rec.Code)
	}
}

func TestCreateUserRequiresScope(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.createUser(t, "a@example.com", "secret123")

	rec := e.do(t, http.MethodPost, "/v1/auth/user", "", map[string]any{
		"tenant":     e.tenant,
		"login":      "a@example.com",
		"credential": "secret123",
	})
	userToken := decodeToken(t, rec)

	// The user token only carries the exchange capability, not users.create.
	rec = e.do(t, http.MethodPost, "/v1/users", userToken, map[string]any{
		"tenant": e.tenant,
		"email":  "new@example.com",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with user token, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/v1/auth/transaction", userToken, map[string]any{})
	txnToken := decodeToken(t, rec)

	rec = e.do(t, http.MethodPost, "/v1/users", txnToken, map[string]any{
		"tenant": e.tenant,
		"email":  "new@example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRevokeTokenStopsExchange(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.createUser(t, "a@example.com", "secret123")

	rec := e.do(t, http.MethodPost, "/v1/auth/user", "", map[string]any{
		"tenant":     e.tenant,
		"login":      "a@example.com",
		"credential": "secret123",
	})
	userToken := decodeToken(t, rec)

	claims, err := e.svc.VerifyToken(userToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	rec = e.do(t, http.MethodDelete, "/v1/tokens/"+claims.ID, userToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/v1/auth/transaction", userToken, map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revocation, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 1})

	body := map[string]any{"tenant": e.tenant, "login": "a@example.com", "credential": "x"}
	rec := e.do(t, http.MethodPost, "/v1/auth/user", "", body)
	if rec.Code == http.StatusTooManyRequests {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/v1/auth/user", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatal("expected error for empty header")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatal("expected error for wrong scheme")
	}
	token, err := extractBearerToken("Bearer abc.def.ghi")
	if err != nil || token != "abc.def.ghi" {
		t.Fatalf("unexpected result: %q, %v", token, err)
	}
}
