package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"access.org/internal/ids"
)

// Event topics published by the service.
const (
	TopicUserCreated         = "user.created"
	TopicUserPasswordChanged = "user.password_changed"
	TopicOTPCreated          = "otp.created"
	TopicTokenIssued         = "token.issued"
	TopicTokenRevoked        = "token.revoked"
)

// Publisher receives domain events. Publishing must not block; the service
// treats events as fire-and-forget.
type Publisher interface {
	Publish(topic string, payload map[string]any)
}

// DefaultCriticalTokenAge is the maximum age of a user token that may still
// request critical scopes.
const DefaultCriticalTokenAge = time.Hour

// Service implements the access operations on top of a Store, an Issuer and
// a Resolver.
type Service struct {
	store     Store
	issuer    *Issuer
	resolver  *Resolver
	otps      *OTPManager
	publisher Publisher
	now       func() time.Time

	userTokenValidity time.Duration
	txnTokenValidity  time.Duration
	criticalTokenAge  time.Duration
	otpConfigs        map[string]OTPConfig
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithPublisher attaches a domain event publisher.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithUserTokenValidity overrides the long-lived user token lifetime.
func WithUserTokenValidity(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.userTokenValidity = d
		}
	}
}

// WithTransactionTokenValidity overrides the transaction token lifetime.
func WithTransactionTokenValidity(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.txnTokenValidity = d
		}
	}
}

// WithCriticalTokenAge overrides the freshness window for critical scope
// requests.
func WithCriticalTokenAge(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.criticalTokenAge = d
		}
	}
}

// WithResolver replaces the default uncached resolver, e.g. to enable the
// scope cache.
func WithResolver(r *Resolver) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithOTPConfigs overrides per-type OTP settings.
func WithOTPConfigs(cfg map[string]OTPConfig) ServiceOption {
	return func(s *Service) { s.otpConfigs = cfg }
}

// NewService constructs a Service.
func NewService(store Store, issuer *Issuer, opts ...ServiceOption) *Service {
	s := &Service{
		store:             store,
		issuer:            issuer,
		now:               time.Now,
		userTokenValidity: DefaultUserTokenValidity,
		txnTokenValidity:  DefaultTransactionTokenValidity,
		criticalTokenAge:  DefaultCriticalTokenAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = NewResolver(store)
	}
	s.otps = NewOTPManager(store, s.otpConfigs, s.now)
	return s
}

// publish emits a domain event if a publisher is attached.
func (s *Service) publish(topic string, payload map[string]any) {
	if s.publisher != nil {
		s.publisher.Publish(topic, payload)
	}
}

// CreateUserParams carries the input of CreateUser. Password may be empty:
// such users cannot log in with a password until they complete a reset with
// the TOKEN OTP issued on creation.
type CreateUserParams struct {
	TenantID  string
	Email     string
	Number    *string
	Password  string
	Type      string
	Language  string
	RoleID    *string
	FirstName *string
	LastName  *string
}

// CreateUser registers a new user in a tenant. Emails are stored lowercased.
// When no password is supplied an unusable hash is stored and a TOKEN OTP is
// issued so the user can set a password through the reset flow.
func (s *Service) CreateUser(ctx context.Context, p CreateUserParams) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if p.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if _, err := s.store.Tenants().Find(ctx, p.TenantID); err != nil {
		return nil, err
	}
	if p.RoleID != nil {
		if _, err := s.store.Roles().Find(ctx, *p.RoleID); err != nil {
			return nil, err
		}
	}

	userType := p.Type
	if userType == "" {
		userType = UserTypeUser
	}
	language := p.Language
	if language == "" {
		language = "en"
	}

	var hash string
	if p.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = string(h)
	} else {
		hash = "!" + ids.NewString(40)
	}

	now := s.now().UTC()
	u := &User{
		ID:           ids.NewString(UserIDLength),
		TenantID:     p.TenantID,
		Email:        email,
		Number:       p.Number,
		PasswordHash: hash,
		Status:       UserStatusActive,
		Type:         userType,
		Language:     language,
		RoleID:       p.RoleID,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users().Create(ctx, u); err != nil {
		return nil, err
	}
	s.publish(TopicUserCreated, map[string]any{
		"user_id": u.ID,
		"tenant":  u.TenantID,
		"email":   u.Email,
	})

	if !u.HasUsablePassword() {
		otp, err := s.otps.Request(ctx, u, OTPTypeToken, OTPRequest{BypassThreshold: true})
		if err != nil {
			return nil, err
		}
		s.publishOTP(u, otp)
	}
	return u, nil
}

func (s *Service) publishOTP(u *User, otp *UserOTP) {
	var number string
	if u.Number != nil {
		number = *u.Number
	}
	s.publish(TopicOTPCreated, map[string]any{
		"otp_id":      otp.ID,
		"user_id":     u.ID,
		"email":       u.Email,
		"number":      number,
		"language":    u.Language,
		"type":        otp.Type,
		"value":       otp.Plain,
		"expire_at":   otp.ExpireAt,
		"is_internal": otp.IsInternal,
	})
}

// findForLogin resolves a login identifier to a user. Email is tried first,
// then the phone number, then the raw user id. Terminated users never match.
func (s *Service) findForLogin(ctx context.Context, tenantID, login string) (*User, error) {
	if u, err := s.store.Users().FindByEmail(ctx, tenantID, strings.ToLower(login)); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if u, err := s.store.Users().FindByNumber(ctx, tenantID, login); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	u, err := s.store.Users().Find(ctx, login)
	if err != nil {
		return nil, err
	}
	if u.TenantID != tenantID || u.Status == UserStatusTerminated {
		return nil, ErrNotFound
	}
	return u, nil
}

// AuthenticateUser verifies a credential for the user identified by login
// within the tenant. The credential is first checked as a password, then as a
// live OTP PIN. The returned via value reports which method succeeded.
func (s *Service) AuthenticateUser(ctx context.Context, tenantID, login, credential string) (*User, string, error) {
	user, err := s.findForLogin(ctx, tenantID, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", ErrUnauthorized
		}
		return nil, "", err
	}
	if user.Status != UserStatusActive {
		return nil, "", NewAuthError(CodeUserTerminated)
	}

	if user.HasUsablePassword() {
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(credential)) == nil {
			return user, LoginViaPassword, nil
		}
	}

	ok, err := s.otps.AuthenticatePIN(ctx, user, credential)
	if err != nil {
		return nil, "", err
	}
	if ok {
		return user, LoginViaOTPPIN, nil
	}

	if !user.HasUsablePassword() {
		return nil, "", NewAuthError(CodePasswordResetRequired)
	}
	return nil, "", ErrUnauthorized
}

// IssueUserToken mints a long-lived user token. Its only audience is the
// capability to request transaction tokens; the jti is persisted so the
// token can be revoked later.
func (s *Service) IssueUserToken(ctx context.Context, user *User) (string, *UserToken, error) {
	if user.Status != UserStatusActive {
		return "", nil, NewAuthError(CodeUserTerminated)
	}
	roles, err := s.resolver.UserRoles(ctx, user)
	if err != nil {
		return "", nil, err
	}
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}

	token, jti, err := s.issuer.CreateToken(user, s.userTokenValidity, []string{ScopeRequestTransactionToken}, false, roleNames)
	if err != nil {
		return "", nil, err
	}
	rec := &UserToken{
		ID:         jti,
		UserID:     user.ID,
		Type:       TokenTypeUser,
		CreateDate: s.now().UTC(),
		IsActive:   true,
	}
	if err := s.store.UserTokens().Create(ctx, rec); err != nil {
		return "", nil, err
	}
	tokensIssuedTotal.WithLabelValues(TokenClassUser).Inc()
	s.publish(TopicTokenIssued, map[string]any{
		"token_id": jti,
		"user_id":  user.ID,
		"class":    TokenClassUser,
	})
	return token, rec, nil
}

// Login authenticates the credential and issues a user token in one step.
func (s *Service) Login(ctx context.Context, tenantID, login, credential string) (string, *User, string, error) {
	user, via, err := s.AuthenticateUser(ctx, tenantID, login, credential)
	if err != nil {
		return "", nil, "", err
	}
	token, _, err := s.IssueUserToken(ctx, user)
	if err != nil {
		return "", nil, "", err
	}
	return token, user, via, nil
}

// checkUserToken validates the persisted side of a presented user token: the
// record must exist and still be active, and the subject must not be
// terminated.
func (s *Service) checkUserToken(ctx context.Context, presented *Claims) (*User, error) {
	user, err := s.store.Users().Find(ctx, presented.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if user.Status == UserStatusTerminated {
		return nil, NewAuthError(CodeUserTerminated)
	}
	rec, err := s.store.UserTokens().Find(ctx, presented.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewAuthError(CodeInvalidUserToken)
		}
		return nil, err
	}
	if !rec.IsActive {
		return nil, NewAuthError(CodeUserTokenNotActive)
	}
	return user, nil
}

// IssueTransactionToken exchanges a verified user token for a short-lived
// transaction token whose audience is the user's resolved scope set. Critical
// scopes are only granted when the presented token is fresh enough.
func (s *Service) IssueTransactionToken(ctx context.Context, presented *Claims, includeCritical bool) (string, error) {
	if !presented.HasAudience(ScopeRequestTransactionToken) {
		return "", NewAuthError(CodeInvalidUserToken)
	}
	user, err := s.checkUserToken(ctx, presented)
	if err != nil {
		return "", err
	}
	if includeCritical {
		if presented.IssuedAt == nil {
			return "", NewAuthError(CodeTokenTooOldForCritical)
		}
		age := s.now().UTC().Sub(presented.IssuedAt.Time)
		if age > s.criticalTokenAge {
			return "", NewAuthError(CodeTokenTooOldForCritical)
		}
	}

	scopes, err := s.resolver.UserScopes(ctx, user, includeCritical)
	if err != nil {
		return "", err
	}
	return s.mintTransactionToken(ctx, user, scopes, includeCritical)
}

func (s *Service) mintTransactionToken(ctx context.Context, user *User, scopes ScopeSet, includeCritical bool) (string, error) {
	roles, err := s.resolver.UserRoles(ctx, user)
	if err != nil {
		return "", err
	}
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}

	token, jti, err := s.issuer.CreateToken(user, s.txnTokenValidity, scopes.Codes(), includeCritical, roleNames)
	if err != nil {
		return "", err
	}
	tokensIssuedTotal.WithLabelValues(TokenClassTransaction).Inc()
	s.publish(TopicTokenIssued, map[string]any{
		"token_id": jti,
		"user_id":  user.ID,
		"class":    TokenClassTransaction,
	})
	return token, nil
}

// IssueTransactionTokenFromAccessToken exchanges an opaque access token
// secret for a transaction token. When the access token declares a scope
// restriction the audience is the intersection of the user's resolved scopes
// with the declared set; an empty declaration means no restriction.
func (s *Service) IssueTransactionTokenFromAccessToken(ctx context.Context, secret string, includeCritical bool) (string, error) {
	rec, err := s.store.AccessTokens().FindBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrUnauthorized
		}
		return "", err
	}
	user, err := s.store.Users().Find(ctx, rec.UserID)
	if err != nil {
		return "", err
	}
	if user.Status == UserStatusTerminated {
		return "", NewAuthError(CodeUserTerminated)
	}

	scopes, err := s.resolver.UserScopes(ctx, user, includeCritical)
	if err != nil {
		return "", err
	}
	declared, err := s.store.AccessTokens().Declared(ctx, rec.ID)
	if err != nil {
		return "", err
	}
	if declared {
		declaredScopes, err := s.store.AccessTokens().DeclaredScopes(ctx, rec.ID, includeCritical)
		if err != nil {
			return "", err
		}
		restriction := make(ScopeSet, len(declaredScopes))
		for _, sc := range declaredScopes {
			restriction.Add(sc)
		}
		scopes = scopes.Intersect(restriction)
	}

	if err := s.store.AccessTokens().TouchLastUsed(ctx, rec.ID, s.now().UTC()); err != nil {
		return "", err
	}
	return s.mintTransactionToken(ctx, user, scopes, includeCritical)
}

// CreateAccessToken mints an opaque bearer credential for the user,
// optionally restricted to the given scope ids. The secret is only available
// on the returned record.
func (s *Service) CreateAccessToken(ctx context.Context, user *User, scopeIDs []string) (*UserAccessToken, error) {
	if user.Status != UserStatusActive {
		return nil, NewAuthError(CodeUserTerminated)
	}
	rec := &UserAccessToken{
		ID:         ids.NewString(AccessTokenIDLength),
		Token:      ids.NewString(AccessTokenLength),
		UserID:     user.ID,
		CreateDate: s.now().UTC(),
		IsActive:   true,
	}
	if err := s.store.AccessTokens().Create(ctx, rec, scopeIDs); err != nil {
		return nil, err
	}
	return rec, nil
}

// RequestOTP issues a new OTP for the user. The re-issue threshold is
// bypassed when the caller's verified claims carry the elevated OTP scope.
func (s *Service) RequestOTP(ctx context.Context, user *User, otpType string, req OTPRequest) (*UserOTP, error) {
	if user.Status != UserStatusActive {
		return nil, NewAuthError(CodeUserTerminated)
	}
	if claims, ok := ClaimsFromContext(ctx); ok && claims.HasAudience(ScopeCreateOTPAny) {
		req.BypassThreshold = true
	}
	otp, err := s.otps.Request(ctx, user, otpType, req)
	if err != nil {
		return nil, err
	}
	s.publishOTP(user, otp)
	return otp, nil
}

// ResetPasswordParams identifies the reset OTP either directly by id or by
// the owning user's login within a tenant.
type ResetPasswordParams struct {
	OTPID       string
	TenantID    string
	Login       string
	Value       string
	NewPassword string
}

// ResetPassword consumes a TOKEN OTP and sets a new password. Consuming the
// OTP, storing the password and revoking all existing user tokens happen in
// one transaction.
func (s *Service) ResetPassword(ctx context.Context, p ResetPasswordParams) error {
	if p.NewPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrValidation)
	}
	if p.Value == "" {
		return ErrUnauthorized
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	var userID string
	err = s.store.InTx(ctx, func(tx Store) error {
		otp, err := s.locateResetOTP(ctx, tx, p)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if otp.Used() || otp.Expired(now) || bcrypt.CompareHashAndPassword([]byte(otp.Value), []byte(p.Value)) != nil {
			return ErrUnauthorized
		}
		if err := tx.OTPs().MarkUsed(ctx, otp.ID, now); err != nil {
			return err
		}
		if err := tx.Users().SetPassword(ctx, otp.UserID, string(hash)); err != nil {
			return err
		}
		if err := tx.UserTokens().DeactivateForUser(ctx, otp.UserID); err != nil {
			return err
		}
		userID = otp.UserID
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(TopicUserPasswordChanged, map[string]any{"user_id": userID})
	return nil
}

func (s *Service) locateResetOTP(ctx context.Context, tx Store, p ResetPasswordParams) (*UserOTP, error) {
	if p.OTPID != "" {
		otp, err := tx.OTPs().Find(ctx, p.OTPID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrUnauthorized
			}
			return nil, err
		}
		if otp.Type != OTPTypeToken {
			return nil, ErrUnauthorized
		}
		return otp, nil
	}
	if p.Login == "" {
		return nil, fmt.Errorf("%w: otp id or user login is required", ErrValidation)
	}
	user, err := s.findForLogin(ctx, p.TenantID, p.Login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	unused, err := tx.OTPs().UnusedByType(ctx, user.ID, OTPTypeToken)
	if err != nil {
		return nil, err
	}
	if len(unused) == 0 {
		return nil, ErrUnauthorized
	}
	return unused[0], nil
}

// GetUser looks a user up by id.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.store.Users().Find(ctx, id)
}

// FindUser resolves a login identifier (email, number or id) to a
// non-terminated user within the tenant.
func (s *Service) FindUser(ctx context.Context, tenantID, login string) (*User, error) {
	return s.findForLogin(ctx, tenantID, login)
}

// RevokeUserToken deactivates a persisted user token by jti. Callers may
// only revoke their own tokens.
func (s *Service) RevokeUserToken(ctx context.Context, tokenID string) error {
	rec, err := s.store.UserTokens().Find(ctx, tokenID)
	if err != nil {
		return err
	}
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.Subject != rec.UserID {
		return ErrUnauthorized
	}
	if err := s.store.UserTokens().Deactivate(ctx, tokenID); err != nil {
		return err
	}
	s.publish(TopicTokenRevoked, map[string]any{"token_id": tokenID})
	return nil
}

// TerminateUser marks the user terminated and revokes all their tokens.
func (s *Service) TerminateUser(ctx context.Context, userID string) error {
	if err := s.store.Users().SetStatus(ctx, userID, UserStatusTerminated); err != nil {
		return err
	}
	return s.store.UserTokens().DeactivateForUser(ctx, userID)
}

// VerifyToken checks the JWT signature and time claims.
func (s *Service) VerifyToken(token string) (*Claims, error) {
	return s.issuer.Verify(token)
}

// JWKS exposes the issuer's public key set.
func (s *Service) JWKS() ([]byte, error) {
	return s.issuer.JWKS()
}
