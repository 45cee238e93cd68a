package access

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func claimsWith(subject string, audiences ...string) *Claims {
	c := &Claims{}
	c.Subject = subject
	c.Audience = jwt.ClaimStrings(audiences)
	return c
}

func TestAuthorizeLiteralMembership(t *testing.T) {
	claims := claimsWith("u1", "access.users.get.any")

	require.NoError(t, Authorize(claims, "access.users.get.any", "u2"))
	require.ErrorIs(t, Authorize(claims, "access.users.get.own", "u1"), ErrUnauthorized)
}

func TestAuthorizeOwnSelectorRequiresOwnership(t *testing.T) {
	claims := claimsWith("u1", "access.users.get.own")

	require.NoError(t, Authorize(claims, "access.users.get.own", "u1"))
	require.ErrorIs(t, Authorize(claims, "access.users.get.own", "u2"), ErrUnauthorized)
	require.ErrorIs(t, Authorize(claims, "access.users.get.own", ""), ErrUnauthorized)
}

func TestAuthorizeNilClaims(t *testing.T) {
	require.ErrorIs(t, Authorize(nil, "access.users.get.any", ""), ErrUnauthorized)
}

func TestAuthorizeAny(t *testing.T) {
	claims := claimsWith("u1", "access.users.get.own")

	require.NoError(t, AuthorizeAny(claims, []string{"access.users.get.any", "access.users.get.own"}, "u1"))
	require.ErrorIs(t, AuthorizeAny(claims, []string{"access.users.get.any"}, "u1"), ErrUnauthorized)
	require.ErrorIs(t, AuthorizeAny(claims, nil, "u1"), ErrUnauthorized)
}
