package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"access.org/internal/access"
	"access.org/internal/audit"
)

// Scope codes guarding the user management endpoints.
const (
	scopeUsersCreate          = "access.users.create"
	scopeUsersGetOwn          = "access.users.get.own"
	scopeUsersGetAny          = "access.users.get.any"
	scopeUsersCreateOTPOwn    = "access.users.create_otp.own"
	scopeAccessTokenCreateOwn = "access.users.create_access_token.own"
	scopeAccessTokenCreateAny = "access.users.create_access_token.any"
)

type createUserRequest struct {
	Tenant    string  `json:"tenant"`
	Email     string  `json:"email"`
	Number    *string `json:"number,omitempty"`
	Password  string  `json:"password,omitempty"`
	Type      string  `json:"type,omitempty"`
	Language  string  `json:"language,omitempty"`
	RoleID    *string `json:"role_id,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if err := requireScope(r, scopeUsersCreate, ""); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.svc.CreateUser(r.Context(), access.CreateUserParams{
		TenantID:  req.Tenant,
		Email:     req.Email,
		Number:    req.Number,
		Password:  req.Password,
		Type:      req.Type,
		Language:  req.Language,
		RoleID:    req.RoleID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "users.created", map[string]any{
		"user_id": user.ID,
		"tenant":  user.TenantID,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims, _ := access.ClaimsFromContext(r.Context())
	if err := access.AuthorizeAny(claims, []string{scopeUsersGetAny, scopeUsersGetOwn}, id); err != nil {
		handleAccessError(w, r, err)
		return
	}

	user, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type createUserOTPRequest struct {
	Type string `json:"type"`
}

// handleCreateUserOTP issues an OTP for a known user id. Unlike the public
// endpoint the caller must hold an OTP creation scope; holders of the "any"
// selector also bypass the re-issue threshold inside the service.
func (a *API) handleCreateUserOTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims, _ := access.ClaimsFromContext(r.Context())
	if err := access.AuthorizeAny(claims, []string{access.ScopeCreateOTPAny, scopeUsersCreateOTPOwn}, id); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req createUserOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Type == "" {
		req.Type = access.OTPTypePIN
	}

	user, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	otp, err := a.svc.RequestOTP(r.Context(), user, strings.ToUpper(req.Type), access.OTPRequest{})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "users.otp.created", map[string]any{
		"otp_id":  otp.ID,
		"user_id": user.ID,
		"type":    otp.Type,
	})
	writeJSON(w, http.StatusCreated, otpResponse{ID: otp.ID, Type: otp.Type, ExpireAt: otp.ExpireAt})
}

type createAccessTokenRequest struct {
	ScopeIDs []string `json:"scope_ids,omitempty"`
}

type accessTokenResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// handleCreateAccessToken mints an opaque bearer credential. The secret is
// returned exactly once.
func (a *API) handleCreateAccessToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims, _ := access.ClaimsFromContext(r.Context())
	if err := access.AuthorizeAny(claims, []string{scopeAccessTokenCreateAny, scopeAccessTokenCreateOwn}, id); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req createAccessTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	rec, err := a.svc.CreateAccessToken(r.Context(), user, req.ScopeIDs)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "users.access_token.created", map[string]any{
		"token_id": rec.ID,
		"user_id":  user.ID,
	})
	writeJSON(w, http.StatusCreated, accessTokenResponse{ID: rec.ID, Token: rec.Token})
}

// handleRevokeToken deactivates a persisted user token. Ownership is checked
// by the service against the caller's claims.
func (a *API) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.RevokeUserToken(r.Context(), id); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.revoked", map[string]any{"token_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}
