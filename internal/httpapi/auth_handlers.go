package httpapi

import (
	"net/http"
	"strings"
	"time"

	"access.org/internal/access"
	"access.org/internal/audit"
)

type authUserRequest struct {
	Tenant     string `json:"tenant"`
	Login      string `json:"login"`
	Credential string `json:"credential"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// handleAuthUser authenticates a credential and issues a long-lived user
// token.
func (a *API) handleAuthUser(w http.ResponseWriter, r *http.Request) {
	var req authUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Login = strings.TrimSpace(req.Login)
	if req.Tenant == "" || req.Login == "" || req.Credential == "" {
		writeError(w, r, http.StatusBadRequest, "tenant, login and credential are required")
		return
	}

	token, user, via, err := a.svc.Login(r.Context(), req.Tenant, req.Login, req.Credential)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.user_token.issued", map[string]any{
		"user_id": user.ID,
		"tenant":  user.TenantID,
		"via":     via,
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type authTransactionRequest struct {
	// AccessToken is the opaque credential path; absent means the bearer
	// user token in the Authorization header is exchanged instead.
	AccessToken     string `json:"access_token,omitempty"`
	IncludeCritical bool   `json:"include_critical,omitempty"`
}

// handleAuthTransaction exchanges a user token or an opaque access token for
// a short-lived transaction token.
func (a *API) handleAuthTransaction(w http.ResponseWriter, r *http.Request) {
	var req authTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		token string
		err   error
	)
	if req.AccessToken != "" {
		token, err = a.svc.IssueTransactionTokenFromAccessToken(r.Context(), req.AccessToken, req.IncludeCritical)
	} else {
		var bearerToken string
		bearerToken, err = extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		var claims *access.Claims
		claims, err = a.svc.VerifyToken(bearerToken)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		token, err = a.svc.IssueTransactionToken(r.Context(), claims, req.IncludeCritical)
	}
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.transaction_token.issued", map[string]any{
		"include_critical": req.IncludeCritical,
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type requestOTPRequest struct {
	Tenant string `json:"tenant"`
	Login  string `json:"login"`
	Type   string `json:"type"`
}

type otpResponse struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	ExpireAt time.Time `json:"expire_at"`
}

// handleRequestOTP issues an OTP for the identified user. The code itself is
// delivered out of band; callers only learn the OTP id. A bearer token is
// optional: verified claims let elevated callers bypass the re-issue
// threshold.
func (a *API) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Tenant == "" || req.Login == "" {
		writeError(w, r, http.StatusBadRequest, "tenant and login are required")
		return
	}
	if req.Type == "" {
		req.Type = access.OTPTypePIN
	}

	ctx := r.Context()
	if bearerToken, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
		if claims, err := a.svc.VerifyToken(bearerToken); err == nil {
			ctx = access.ContextWithClaims(ctx, claims)
		}
	}

	user, err := a.svc.FindUser(ctx, req.Tenant, req.Login)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	otp, err := a.svc.RequestOTP(ctx, user, req.Type, access.OTPRequest{})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(ctx, "auth.otp.created", map[string]any{
		"otp_id": otp.ID,
		"type":   otp.Type,
	})
	writeJSON(w, http.StatusCreated, otpResponse{ID: otp.ID, Type: otp.Type, ExpireAt: otp.ExpireAt})
}

type resetPasswordRequest struct {
	OTPID       string `json:"otp_id,omitempty"`
	Tenant      string `json:"tenant,omitempty"`
	Login       string `json:"login,omitempty"`
	Value       string `json:"value"`
	NewPassword string `json:"new_password"`
}

// handleResetPassword consumes a TOKEN OTP and sets a new password.
func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.svc.ResetPassword(r.Context(), access.ResetPasswordParams{
		OTPID:       req.OTPID,
		TenantID:    req.Tenant,
		Login:       req.Login,
		Value:       req.Value,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password.reset", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
