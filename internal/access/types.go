package access

import (
	"strings"
	"time"
)

// ID lengths used across the schema. Values are random strings from
// ids.RandomString, not UUIDs, so column widths are fixed.
const (
	TenantIDLength      = 16
	ScopeIDLength       = 32
	RoleIDLength        = 32
	UserIDLength        = 64
	TokenIDLength       = 128
	AccessTokenIDLength = 64
	AccessTokenLength   = 128
	OTPIDLength         = 64
)

// Well-known scope codes consumed by the service itself.
const (
	ScopeRequestTransactionToken = "access.users.request_transaction_token"
	ScopeCreateOTPAny            = "access.users.create_otp.any"
)

// Tenant groups users of a single customer.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Scope is the atomic permission unit. Its identity is the tuple
// (service, resource, action, selector); selector may be absent, which is
// distinct from an empty string.
type Scope struct {
	ID         string  `json:"id"`
	Service    string  `json:"service"`
	Resource   string  `json:"resource"`
	Action     string  `json:"action"`
	Selector   *string `json:"selector,omitempty"`
	IsActive   bool    `json:"is_active"`
	IsInternal bool    `json:"is_internal"`
	IsCritical bool    `json:"is_critical"`
}

// Selector values distinguishing resource ownership.
const (
	SelectorOwn = "own"
	SelectorAny = "any"
)

// Code returns the dot-joined scope keys, used as the JWT audience string.
func (s Scope) Code() string {
	keys := make([]string, 0, 4)
	for _, k := range []string{s.Service, s.Resource, s.Action} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if s.Selector != nil && *s.Selector != "" {
		keys = append(keys, *s.Selector)
	}
	return strings.Join(keys, ".")
}

// ScopeSet is a set of scopes keyed by code.
type ScopeSet map[string]Scope

// Add inserts the scope, deduplicating by code.
func (set ScopeSet) Add(s Scope) { set[s.Code()] = s }

// Contains reports whether a scope with the given code is in the set.
func (set ScopeSet) Contains(code string) bool {
	_, ok := set[code]
	return ok
}

// Codes returns the scope codes in unspecified order.
func (set ScopeSet) Codes() []string {
	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	return out
}

// Intersect returns the scopes present in both sets.
func (set ScopeSet) Intersect(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(set))
	for code, s := range set {
		if other.Contains(code) {
			out[code] = s
		}
	}
	return out
}

// Role is a named bundle of directly granted scopes plus included roles.
// The include relation is directed and may contain cycles; resolution
// tolerates them.
type Role struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	IsActive  bool   `json:"is_active"`
}

// User statuses.
const (
	UserStatusActive     = "ACTIVE"
	UserStatusTerminated = "TERMINATED"
)

// User types.
const (
	UserTypeUser    = "USER"
	UserTypeService = "SERVICE"
)

// Login methods reported after authentication.
const (
	LoginViaPassword = "PASSWORD"
	LoginViaOTPPIN   = "OTP_PIN"
)

// User is a human or service account belonging to a tenant. RoleID may be
// nil, in which case the system-wide default role applies.
type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Email        string    `json:"email"`
	Number       *string   `json:"number,omitempty"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	Type         string    `json:"type"`
	Language     string    `json:"language"`
	RoleID       *string   `json:"role_id,omitempty"`
	FirstName    *string   `json:"first_name,omitempty"`
	LastName     *string   `json:"last_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasUsablePassword reports whether the user can authenticate with a
// password at all. Users created without one must go through a TOKEN OTP
// reset first.
func (u *User) HasUsablePassword() bool {
	return u.PasswordHash != "" && !strings.HasPrefix(u.PasswordHash, "!")
}

// Token types persisted in user_tokens.
const TokenTypeUser = "USER"

// UserToken is the persisted record of an issued long-lived token. Its id is
// the JWT jti claim; flipping IsActive revokes the token server-side even
// though the signature stays valid.
type UserToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	CreateDate time.Time `json:"create_date"`
	IsActive   bool      `json:"is_active"`
}

// UserAccessToken is an opaque bearer credential. Its declared scope set
// restricts the audience of transaction tokens minted through it; an empty
// set means no restriction.
type UserAccessToken struct {
	ID         string     `json:"id"`
	Token      string     `json:"-"`
	UserID     string     `json:"user_id"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	CreateDate time.Time  `json:"create_date"`
	IsActive   bool       `json:"is_active"`
}

// OTP types. PIN is a one-step login credential; TOKEN authorizes a
// password reset and is rejected as a login password.
const (
	OTPTypePIN   = "PIN"
	OTPTypeToken = "TOKEN"
)

// UserOTP is a single-use one-time code. Value holds the hash; the
// plaintext is only available transiently via Plain on the record returned
// from a request and is never re-derivable from storage.
type UserOTP struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Type       string     `json:"type"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpireAt   time.Time  `json:"expire_at"`
	Length     int        `json:"length"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	Value      string     `json:"-"`
	IsInternal bool       `json:"is_internal"`

	// Plain carries the generated value on the record returned from
	// RequestOTP. Never persisted.
	Plain string `json:"-"`
}

// Used reports whether the OTP has been consumed.
func (o *UserOTP) Used() bool { return o.UsedAt != nil }

// Expired reports whether the OTP is past its expiry at the given time.
func (o *UserOTP) Expired(now time.Time) bool { return now.After(o.ExpireAt) }
