package access

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type resolverCacheKey struct {
	roleID          string
	includeCritical bool
}

// Resolver expands role include graphs into effective scope sets. Resolution
// is read-only and safe for unlimited concurrent use; the only mutable state
// is the optional cache, which is itself concurrency-safe.
type Resolver struct {
	store Store
	cache *expirable.LRU[resolverCacheKey, []Scope]
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithScopeCache enables caching of top-level resolutions. Entries expire
// after ttl, so role/scope edits become visible within that window.
func WithScopeCache(size int, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cache = expirable.NewLRU[resolverCacheKey, []Scope](size, nil, ttl)
	}
}

// NewResolver constructs a Resolver backed by the given store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveScopes returns the transitive scope set of the role. Directly
// granted scopes are filtered to active, non-internal and, unless
// includeCritical, non-critical ones; included roles are expanded
// recursively. visited carries the ids of roles already expanded and is the
// cycle guard: the current role is added before recursing, so a role
// including itself (directly or transitively) terminates and contributes its
// scopes exactly once. Pass nil to start a fresh resolution.
func (r *Resolver) ResolveScopes(ctx context.Context, role *Role, includeCritical bool, visited map[string]struct{}) (ScopeSet, error) {
	topLevel := visited == nil
	if topLevel {
		if cached := r.fromCache(role.ID, includeCritical); cached != nil {
			return cached, nil
		}
		visited = make(map[string]struct{})
	}
	visited[role.ID] = struct{}{}

	scopes := make(ScopeSet)
	direct, err := r.store.Roles().DirectScopes(ctx, role.ID, includeCritical)
	if err != nil {
		return nil, err
	}
	for _, s := range direct {
		scopes.Add(s)
	}

	included, err := r.store.Roles().IncludedRoles(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	for i := range included {
		inc := included[i]
		if _, seen := visited[inc.ID]; seen {
			continue
		}
		nested, err := r.ResolveScopes(ctx, &inc, includeCritical, visited)
		if err != nil {
			return nil, err
		}
		for code, s := range nested {
			scopes[code] = s
		}
	}

	if topLevel {
		r.toCache(role.ID, includeCritical, scopes)
	}
	return scopes, nil
}

// ResolveRoles walks the include graph and returns the reachable roles in
// first-visit order, starting with the role itself. The order feeds the
// token "rls" claim.
func (r *Resolver) ResolveRoles(ctx context.Context, role *Role) ([]Role, error) {
	visited := map[string]struct{}{role.ID: {}}
	ordered := []Role{*role}

	var walk func(roleID string) error
	walk = func(roleID string) error {
		included, err := r.store.Roles().IncludedRoles(ctx, roleID)
		if err != nil {
			return err
		}
		for _, inc := range included {
			if _, seen := visited[inc.ID]; seen {
				continue
			}
			visited[inc.ID] = struct{}{}
			ordered = append(ordered, inc)
			if err := walk(inc.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(role.ID); err != nil {
		return nil, err
	}
	return ordered, nil
}

// UserRole returns the user's effective role: the explicitly assigned one,
// or the system-wide default. A missing default role is a deployment
// misconfiguration and surfaces as ErrNoDefaultRole.
func (r *Resolver) UserRole(ctx context.Context, user *User) (*Role, error) {
	if user.RoleID != nil {
		return r.store.Roles().Find(ctx, *user.RoleID)
	}
	role, err := r.store.Roles().FindDefault(ctx)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNoDefaultRole
		}
		return nil, err
	}
	return role, nil
}

// UserScopes resolves the user's effective scope set via their role.
func (r *Resolver) UserScopes(ctx context.Context, user *User, includeCritical bool) (ScopeSet, error) {
	role, err := r.UserRole(ctx, user)
	if err != nil {
		return nil, err
	}
	return r.ResolveScopes(ctx, role, includeCritical, nil)
}

// UserRoles resolves the user's transitive role list via their role.
func (r *Resolver) UserRoles(ctx context.Context, user *User) ([]Role, error) {
	role, err := r.UserRole(ctx, user)
	if err != nil {
		return nil, err
	}
	return r.ResolveRoles(ctx, role)
}

func (r *Resolver) fromCache(roleID string, includeCritical bool) ScopeSet {
	if r.cache == nil {
		return nil
	}
	scopes, ok := r.cache.Get(resolverCacheKey{roleID: roleID, includeCritical: includeCritical})
	if !ok {
		return nil
	}
	resolverCacheHits.Inc()
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set.Add(s)
	}
	return set
}

func (r *Resolver) toCache(roleID string, includeCritical bool, set ScopeSet) {
	if r.cache == nil {
		return
	}
	scopes := make([]Scope, 0, len(set))
	for _, s := range set {
		scopes = append(scopes, s)
	}
	r.cache.Add(resolverCacheKey{roleID: roleID, includeCritical: includeCritical}, scopes)
}
