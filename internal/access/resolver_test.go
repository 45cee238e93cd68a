package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

type fixture struct {
	store *MemStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{store: NewMemStore()}
}

func (f *fixture) scope(t *testing.T, id, resource, action string, selector *string, critical bool) Scope {
	t.Helper()
	sc := Scope{
		ID:         id,
		Service:    "access",
		Resource:   resource,
		Action:     action,
		Selector:   selector,
		IsActive:   true,
		IsCritical: critical,
	}
	require.NoError(t, f.store.Scopes().Create(context.Background(), &sc))
	return sc
}

func (f *fixture) role(t *testing.T, id, name string, isDefault bool, scopeIDs ...string) Role {
	t.Helper()
	role := Role{ID: id, Name: name, IsDefault: isDefault, IsActive: true}
	require.NoError(t, f.store.Roles().Create(context.Background(), &role))
	require.NoError(t, f.store.Roles().SetScopes(context.Background(), id, scopeIDs))
	return role
}

func (f *fixture) include(t *testing.T, roleID string, includedIDs ...string) {
	t.Helper()
	require.NoError(t, f.store.Roles().SetIncludedRoles(context.Background(), roleID, includedIDs))
}

func TestResolveScopesExpandsIncludedRoles(t *testing.T) {
	f := newFixture(t)
	f.scope(t, "s1", "users", "get", strPtr("own"), false)
	f.scope(t, "s2", "users", "get", strPtr("any"), false)
	base := f.role(t, "base", "base", true, "s1")
	admin := f.role(t, "admin", "admin", false, "s2")
	f.include(t, admin.ID, base.ID)

	r := NewResolver(f.store)
	scopes, err := r.ResolveScopes(context.Background(), &admin, false, nil)
	require.NoError(t, err)
	require.True(t, scopes.Contains("access.users.get.any"))
	require.True(t, scopes.Contains("access.users.get.own"))
	require.Len(t, scopes, 2)
}

func TestResolveScopesToleratesCycles(t *testing.T) {
	f := newFixture(t)
	f.scope(t, "s1", "users", "get", strPtr("own"), false)
	f.scope(t, "s2", "users", "get", strPtr("any"), false)
	a := f.role(t, "a", "a", false, "s1")
	b := f.role(t, "b", "b", false, "s2")
	f.include(t, a.ID, b.ID)
	f.include(t, b.ID, a.ID)

	r := NewResolver(f.store)
	scopes, err := r.ResolveScopes(context.Background(), &a, false, nil)
	require.NoError(t, err)
	require.Len(t, scopes, 2)
}

func TestResolveScopesSelfInclude(t *testing.T) {
	f := newFixture(t)
	f.scope(t, "s1", "users", "get", strPtr("own"), false)
	a := f.role(t, "a", "a", false, "s1")
	f.include(t, a.ID, a.ID)

	r := NewResolver(f.store)
	scopes, err := r.ResolveScopes(context.Background(), &a, false, nil)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
}

func TestResolveScopesFiltersCritical(t *testing.T) {
	f := newFixture(t)
	f.scope(t, "s1", "users", "get", strPtr("own"), false)
	f.scope(t, "s2", "payments", "approve", nil, true)
	role := f.role(t, "r", "r", false, "s1", "s2")

	r := NewResolver(f.store)

	scopes, err := r.ResolveScopes(context.Background(), &role, false, nil)
	require.NoError(t, err)
	require.False(t, scopes.Contains("access.payments.approve"))
	require.Len(t, scopes, 1)

	scopes, err = r.ResolveScopes(context.Background(), &role, true, nil)
	require.NoError(t, err)
	require.True(t, scopes.Contains("access.payments.approve"))
	require.Len(t, scopes, 2)
}

func TestResolveScopesFiltersCriticalThroughInclusion(t *testing.T) {
	f := newFixture(t)
	f.scope(t, "s1", "users", "get", strPtr("own"), false)
	f.scope(t, "s2", "payments", "approve", nil, true)
	inner := f.role(t, "inner", "inner", false, "s2")
	outer := f.role(t, "outer", "outer", false, "s1")
	f.include(t, outer.ID, inner.ID)

	r := NewResolver(f.store)

	// The critical grant is only reachable through the inclusion edge; the
	// filter must hold across it.
	scopes, err := r.ResolveScopes(context.Background(), &outer, false, nil)
	require.NoError(t, err)
	require.False(t, scopes.Contains("access.payments.approve"))
	require.Len(t, scopes, 1)

	scopes, err = r.ResolveScopes(context.Background(), &outer, true, nil)
	require.NoError(t, err)
	require.True(t, scopes.Contains("access.payments.approve"))
	require.Len(t, scopes, 2)
}

func TestResolveScopesSkipsInactiveAndInternal(t *testing.T) {
	f := newFixture(t)
	inactive := Scope{ID: "s1", Service: "access", Resource: "users", Action: "get", IsActive: false}
	require.NoError(t, f.store.Scopes().Create(context.Background(), &inactive))
	internal := Scope{ID: "s2", Service: "access", Resource: "users", Action: "peek", IsActive: true, IsInternal: true}
	require.NoError(t, f.store.Scopes().Create(context.Background(), &internal))
	role := f.role(t, "r", "r", false, "s1", "s2")

	r := NewResolver(f.store)
	scopes, err := r.ResolveScopes(context.Background(), &role, true, nil)
	require.NoError(t, err)
	require.Empty(t, scopes)
}

func TestResolveRolesFirstVisitOrder(t *testing.T) {
	f := newFixture(t)
	base := f.role(t, "base", "base", true)
	mid := f.role(t, "mid", "mid", false)
	admin := f.role(t, "admin", "admin", false)
	f.include(t, admin.ID, mid.ID, base.ID)
	f.include(t, mid.ID, base.ID)

	r := NewResolver(f.store)
	roles, err := r.ResolveRoles(context.Background(), &admin)
	require.NoError(t, err)

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	require.Equal(t, []string{"admin", "mid", "base"}, names)
}

func TestUserRoleDefaultFallback(t *testing.T) {
	f := newFixture(t)
	base := f.role(t, "base", "base", true)

	r := NewResolver(f.store)
	user := &User{ID: "u1"}
	role, err := r.UserRole(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, base.ID, role.ID)

	assigned := f.role(t, "other", "other", false)
	user.RoleID = &assigned.ID
	role, err = r.UserRole(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, assigned.ID, role.ID)
}

func TestRoleCreateRejectsSecondDefault(t *testing.T) {
	f := newFixture(t)
	f.role(t, "base", "base", true)

	second := Role{ID: "other", Name: "other", IsDefault: true, IsActive: true}
	err := f.store.Roles().Create(context.Background(), &second)
	require.ErrorIs(t, err, ErrConstraint)

	// Non-default roles are unaffected.
	third := Role{ID: "extra", Name: "extra", IsActive: true}
	require.NoError(t, f.store.Roles().Create(context.Background(), &third))
}

func TestUserRoleNoDefaultConfigured(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.store)
	_, err := r.UserRole(context.Background(), &User{ID: "u1"})
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestResolveScopesCacheServesStaleEntries(t *testing.T) {
	f := newFixture(t)
	f.scope(t, "s1", "users", "get", strPtr("own"), false)
	role := f.role(t, "r", "r", false, "s1")

	r := NewResolver(f.store, WithScopeCache(8, time.Minute))
	scopes, err := r.ResolveScopes(context.Background(), &role, false, nil)
	require.NoError(t, err)
	require.Len(t, scopes, 1)

	// Drop the grant; the cached resolution keeps answering until the TTL.
	require.NoError(t, f.store.Roles().SetScopes(context.Background(), role.ID, nil))
	scopes, err = r.ResolveScopes(context.Background(), &role, false, nil)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
}
