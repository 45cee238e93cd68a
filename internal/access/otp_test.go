package access

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestOTPRequestGeneratesHashedValue(t *testing.T) {
	store := NewMemStore()
	clock := newTestClock()
	m := NewOTPManager(store, nil, clock.Now)
	user := &User{ID: "u1"}

	otp, err := m.Request(context.Background(), user, OTPTypePIN, OTPRequest{})
	require.NoError(t, err)
	require.Len(t, otp.Plain, 8)
	require.NotEqual(t, otp.Plain, otp.Value)
	require.True(t, m.Validate(otp, otp.Plain))
	require.False(t, m.Validate(otp, "00000000"))

	for _, c := range otp.Plain {
		require.Contains(t, "0123456789", string(c))
	}

	// Only the hash reaches storage.
	stored, err := store.OTPs().Find(context.Background(), otp.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Plain)
	require.Equal(t, otp.Value, stored.Value)
}

func TestOTPRequestThreshold(t *testing.T) {
	store := NewMemStore()
	clock := newTestClock()
	m := NewOTPManager(store, nil, clock.Now)
	user := &User{ID: "u1"}

	first, err := m.Request(context.Background(), user, OTPTypePIN, OTPRequest{})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = m.Request(context.Background(), user, OTPTypePIN, OTPRequest{})
	require.ErrorIs(t, err, ErrConstraint)
	require.Contains(t, err.Error(), CodeOTPThresholdNotReached)

	clock.Advance(4 * time.Minute)
	second, err := m.Request(context.Background(), user, OTPTypePIN, OTPRequest{})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// The superseded OTP is consumed.
	old, err := store.OTPs().Find(context.Background(), first.ID)
	require.NoError(t, err)
	require.True(t, old.Used())
}

func TestOTPRequestBypassThreshold(t *testing.T) {
	store := NewMemStore()
	clock := newTestClock()
	m := NewOTPManager(store, nil, clock.Now)
	user := &User{ID: "u1"}

	first, err := m.Request(context.Background(), user, OTPTypePIN, OTPRequest{})
	require.NoError(t, err)

	second, err := m.Request(context.Background(), user, OTPTypePIN, OTPRequest{BypassThreshold: true})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	old, err := store.OTPs().Find(context.Background(), first.ID)
	require.NoError(t, err)
	require.True(t, old.Used())
}

func TestOTPThresholdIsPerType(t *testing.T) {
	store := NewMemStore()
	clock := newTestClock()
	m := NewOTPManager(store, nil, clock.Now)
	user := &User{ID: "u1"}

	_, err := m.Request(context.Background(), user, OTPTypePIN, OTPRequest{})
	require.NoError(t, err)

	// A fresh PIN does not block a TOKEN request.
	otp, err := m.Request(context.Background(), user, OTPTypeToken, OTPRequest{})
	require.NoError(t, err)
	require.Len(t, otp.Plain, 64)
}

func TestAuthenticatePINConsumesCode(t *testing.T) {
	store := NewMemStore()
	clock := newTestClock()
	m := NewOTPManager(store, nil, clock.Now)
	user := &User{ID: "u1"}

	otp, err := m.Request(context.Background(), user, OTPTypePIN, OTPRequest{})
	require.NoError(t, err)

	ok, err := m.AuthenticatePIN(context.Background(), user, otp.Plain)
	require.NoError(t, err)
	require.True(t, ok)

	// Single use.
	ok, err = m.AuthenticatePIN(context.Background(), user, otp.Plain)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthenticatePINRejectsTokenType(t *testing.T) {
	store := NewMemStore()
	clock := newTestClock()
	m := NewOTPManager(store, nil, clock.Now)
	user := &User{ID: "u1"}

	otp, err := m.Request(context.Background(), user, OTPTypeToken, OTPRequest{})
	require.NoError(t, err)

	ok, err := m.AuthenticatePIN(context.Background(), user, otp.Plain)
	require.False(t, ok)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, CodeCannotLoginWithTokenOTP, authErr.Code)

	// The reset token survives the failed login attempt.
	stored, err := store.OTPs().Find(context.Background(), otp.ID)
	require.NoError(t, err)
	require.False(t, stored.Used())
}

func TestAuthenticatePINIgnoresExpiredCodes(t *testing.T) {
	store := NewMemStore()
	clock := newTestClock()
	m := NewOTPManager(store, nil, clock.Now)
	user := &User{ID: "u1"}

	otp, err := m.Request(context.Background(), user, OTPTypePIN, OTPRequest{})
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	ok, err := m.AuthenticatePIN(context.Background(), user, otp.Plain)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOTPRequestUnknownType(t *testing.T) {
	m := NewOTPManager(NewMemStore(), nil, newTestClock().Now)
	_, err := m.Request(context.Background(), &User{ID: "u1"}, "MAGIC", OTPRequest{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestOTPConfigOverrides(t *testing.T) {
	store := NewMemStore()
	clock := newTestClock()
	m := NewOTPManager(store, map[string]OTPConfig{
		OTPTypePIN: {Length: 4, Validity: time.Minute},
	}, clock.Now)

	otp, err := m.Request(context.Background(), &User{ID: "u1"}, OTPTypePIN, OTPRequest{})
	require.NoError(t, err)
	require.Len(t, otp.Plain, 4)
	require.Equal(t, clock.Now().Add(time.Minute), otp.ExpireAt)
}

func TestOTPRequestPerRequestOverrides(t *testing.T) {
	store := NewMemStore()
	clock := newTestClock()
	m := NewOTPManager(store, nil, clock.Now)

	otp, err := m.Request(context.Background(), &User{ID: "u1"}, OTPTypePIN, OTPRequest{
		Length:  12,
		Charset: strings.ToUpper("abcdef"),
	})
	require.NoError(t, err)
	require.Len(t, otp.Plain, 12)
	for _, c := range otp.Plain {
		require.Contains(t, "ABCDEF", string(c))
	}
}

func TestErrorsIsForAuthError(t *testing.T) {
	err := NewAuthError(CodeUserTerminated)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, errors.Is(err, ErrNotFound))
}
