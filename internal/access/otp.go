package access

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"access.org/internal/ids"
)

// OTPConfig holds per-type defaults applied when a request leaves a field
// unset.
type OTPConfig struct {
	Length             int
	Validity           time.Duration
	CreateNewThreshold time.Duration
	Charset            string
}

// DefaultOTPConfigs returns the built-in per-type configuration: short
// numeric PINs for login, long tokens for password resets.
func DefaultOTPConfigs() map[string]OTPConfig {
	return map[string]OTPConfig{
		OTPTypePIN: {
			Length:             8,
			Validity:           10 * time.Minute,
			CreateNewThreshold: 5 * time.Minute,
			Charset:            ids.Digits,
		},
		OTPTypeToken: {
			Length:             64,
			Validity:           4 * time.Hour,
			CreateNewThreshold: 5 * time.Minute,
			Charset:            ids.Alphanumeric,
		},
	}
}

// OTPRequest carries overrides for a single OTP request. Zero values fall
// back to the per-type configuration.
type OTPRequest struct {
	Length   int
	Validity time.Duration
	Charset  string
	// BypassThreshold skips the minimum re-issue threshold entirely. Set by
	// the service when the requester's token carries ScopeCreateOTPAny.
	BypassThreshold bool
	// IsInternal marks system-generated OTPs that must not be delivered to
	// the user via notification.
	IsInternal bool
}

// OTPManager issues and validates one-time codes.
type OTPManager struct {
	store Store
	cfg   map[string]OTPConfig
	now   func() time.Time
}

// NewOTPManager constructs an OTPManager. Missing per-type configuration
// falls back to DefaultOTPConfigs.
func NewOTPManager(store Store, cfg map[string]OTPConfig, now func() time.Time) *OTPManager {
	merged := DefaultOTPConfigs()
	for typ, c := range cfg {
		base := merged[typ]
		if c.Length > 0 {
			base.Length = c.Length
		}
		if c.Validity > 0 {
			base.Validity = c.Validity
		}
		if c.CreateNewThreshold > 0 {
			base.CreateNewThreshold = c.CreateNewThreshold
		}
		if c.Charset != "" {
			base.Charset = c.Charset
		}
		merged[typ] = base
	}
	if now == nil {
		now = time.Now
	}
	return &OTPManager{store: store, cfg: merged, now: now}
}

// Request invalidates prior unused OTPs of the same type and creates a new
// one, all within a single transaction. If any prior unused OTP is younger
// than the re-issue threshold the request fails with ErrConstraint, unless
// the threshold is bypassed. The returned record carries the plaintext value
// in Plain; only the hash is stored.
func (m *OTPManager) Request(ctx context.Context, user *User, otpType string, req OTPRequest) (*UserOTP, error) {
	cfg, ok := m.cfg[otpType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown otp type %s", ErrValidation, otpType)
	}
	length := req.Length
	if length <= 0 {
		length = cfg.Length
	}
	validity := req.Validity
	if validity <= 0 {
		validity = cfg.Validity
	}
	charset := req.Charset
	if charset == "" {
		charset = cfg.Charset
	}

	now := m.now().UTC()
	value := ids.RandomString(length, charset)
	hash, err := bcrypt.GenerateFromPassword([]byte(value), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	otp := &UserOTP{
		ID:         ids.NewString(OTPIDLength),
		UserID:     user.ID,
		Type:       otpType,
		CreatedAt:  now,
		ExpireAt:   now.Add(validity),
		Length:     length,
		Value:      string(hash),
		IsInternal: req.IsInternal,
		Plain:      value,
	}

	err = m.store.InTx(ctx, func(tx Store) error {
		old, err := tx.OTPs().UnusedByType(ctx, user.ID, otpType)
		if err != nil {
			return err
		}
		for _, prev := range old {
			if !req.BypassThreshold && cfg.CreateNewThreshold > 0 && prev.CreatedAt.After(now.Add(-cfg.CreateNewThreshold)) {
				return fmt.Errorf("%w: %s", ErrConstraint, CodeOTPThresholdNotReached)
			}
			if err := tx.OTPs().MarkUsed(ctx, prev.ID, now); err != nil {
				return err
			}
		}
		return tx.OTPs().Create(ctx, otp)
	})
	if err != nil {
		otpRequestsTotal.WithLabelValues(otpType, "rejected").Inc()
		return nil, err
	}
	otpRequestsTotal.WithLabelValues(otpType, "created").Inc()
	return otp, nil
}

// Validate compares the presented value against the stored hash.
func (m *OTPManager) Validate(otp *UserOTP, value string) bool {
	return bcrypt.CompareHashAndPassword([]byte(otp.Value), []byte(value)) == nil
}

// AuthenticatePIN attempts a one-step login with an OTP value. A matching
// PIN is consumed and the login succeeds. A matching TOKEN-type OTP is
// refused with a distinct error so password-reset tokens can never be used
// as login credentials. No match returns (false, nil) and the caller falls
// through to its next authentication backend.
func (m *OTPManager) AuthenticatePIN(ctx context.Context, user *User, value string) (bool, error) {
	now := m.now().UTC()
	live, err := m.store.OTPs().LiveByUser(ctx, user.ID, now)
	if err != nil {
		return false, err
	}
	for _, otp := range live {
		if !m.Validate(otp, value) {
			continue
		}
		switch otp.Type {
		case OTPTypePIN:
			if err := m.store.OTPs().MarkUsed(ctx, otp.ID, now); err != nil {
				return false, err
			}
			return true, nil
		case OTPTypeToken:
			return false, NewAuthError(CodeCannotLoginWithTokenOTP)
		}
	}
	return false, nil
}
