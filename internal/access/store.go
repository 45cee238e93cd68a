package access

import (
	"context"
	"time"
)

// Store describes persistence operations required by the access subsystem.
// Implementations must return ErrNotFound for missing rows and ErrConstraint
// for uniqueness violations.
type Store interface {
	Tenants() TenantStore
	Scopes() ScopeStore
	Roles() RoleStore
	Users() UserStore
	UserTokens() UserTokenStore
	AccessTokens() AccessTokenStore
	OTPs() OTPStore

	// InTx runs fn against a transactional view of the store. The OTP
	// invalidate-and-create and OTP-consume-plus-password-reset flows are
	// the only callers; everything else is single-statement.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// TenantStore manages tenants.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
}

// ScopeStore manages the scope catalog.
type ScopeStore interface {
	Create(ctx context.Context, s *Scope) error
	Find(ctx context.Context, id string) (*Scope, error)
	// Ensure inserts missing scopes by their key tuple, leaving existing
	// rows untouched.
	Ensure(ctx context.Context, scopes []Scope) error
	List(ctx context.Context) ([]Scope, error)
}

// RoleStore manages roles, their scope grants and the include graph.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	// FindDefault returns the single role with is_default=true.
	FindDefault(ctx context.Context) (*Role, error)
	List(ctx context.Context) ([]Role, error)

	// DirectScopes returns the role's directly granted scopes filtered to
	// active, non-internal and, unless includeCritical, non-critical ones.
	DirectScopes(ctx context.Context, roleID string, includeCritical bool) ([]Scope, error)
	IncludedRoles(ctx context.Context, roleID string) ([]Role, error)

	SetScopes(ctx context.Context, roleID string, scopeIDs []string) error
	SetIncludedRoles(ctx context.Context, roleID string, includedIDs []string) error
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByEmail and FindByNumber only match non-terminated users.
	FindByEmail(ctx context.Context, tenantID, email string) (*User, error)
	FindByNumber(ctx context.Context, tenantID, number string) (*User, error)
	SetPassword(ctx context.Context, userID, passwordHash string) error
	SetStatus(ctx context.Context, userID, status string) error
}

// UserTokenStore manages persisted long-lived token records.
type UserTokenStore interface {
	Create(ctx context.Context, t *UserToken) error
	Find(ctx context.Context, id string) (*UserToken, error)
	Deactivate(ctx context.Context, id string) error
	DeactivateForUser(ctx context.Context, userID string) error
}

// AccessTokenStore manages opaque bearer credentials.
type AccessTokenStore interface {
	Create(ctx context.Context, t *UserAccessToken, scopeIDs []string) error
	// FindBySecret only matches active tokens.
	FindBySecret(ctx context.Context, secret string) (*UserAccessToken, error)
	// DeclaredScopes returns the token's declared scope restriction,
	// filtered by includeCritical. Empty result with no declared rows means
	// "no restriction"; callers distinguish via Declared.
	DeclaredScopes(ctx context.Context, tokenID string, includeCritical bool) ([]Scope, error)
	// Declared reports whether the token declares any scope restriction.
	Declared(ctx context.Context, tokenID string) (bool, error)
	TouchLastUsed(ctx context.Context, tokenID string, at time.Time) error
}

// OTPStore manages one-time codes.
type OTPStore interface {
	Create(ctx context.Context, otp *UserOTP) error
	Find(ctx context.Context, id string) (*UserOTP, error)
	// UnusedByType returns unused OTPs of the given type for the user,
	// newest first.
	UnusedByType(ctx context.Context, userID, otpType string) ([]*UserOTP, error)
	// LiveByUser returns unused, unexpired OTPs of any type for the user.
	LiveByUser(ctx context.Context, userID string, now time.Time) ([]*UserOTP, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
}
