package access

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store used by tests and local tooling. All state
// lives behind a single mutex; InTx provides no rollback, matching the
// single-writer test usage it exists for.
type MemStore struct {
	mu sync.Mutex

	tenants      map[string]Tenant
	scopes       map[string]Scope
	roles        map[string]Role
	roleScopes   map[string][]string
	roleIncludes map[string][]string
	users        map[string]User
	userTokens   map[string]UserToken
	accessTokens map[string]UserAccessToken
	tokenScopes  map[string][]string
	otps         map[string]UserOTP
}

func NewMemStore() *MemStore {
	return &MemStore{
		tenants:      make(map[string]Tenant),
		scopes:       make(map[string]Scope),
		roles:        make(map[string]Role),
		roleScopes:   make(map[string][]string),
		roleIncludes: make(map[string][]string),
		users:        make(map[string]User),
		userTokens:   make(map[string]UserToken),
		accessTokens: make(map[string]UserAccessToken),
		tokenScopes:  make(map[string][]string),
		otps:         make(map[string]UserOTP),
	}
}

func (s *MemStore) Tenants() TenantStore           { return &memTenantStore{s} }
func (s *MemStore) Scopes() ScopeStore             { return &memScopeStore{s} }
func (s *MemStore) Roles() RoleStore               { return &memRoleStore{s} }
func (s *MemStore) Users() UserStore               { return &memUserStore{s} }
func (s *MemStore) UserTokens() UserTokenStore     { return &memUserTokenStore{s} }
func (s *MemStore) AccessTokens() AccessTokenStore { return &memAccessTokenStore{s} }
func (s *MemStore) OTPs() OTPStore                 { return &memOTPStore{s} }

func (s *MemStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(s)
}

type memTenantStore struct{ s *MemStore }

func (m *memTenantStore) Create(ctx context.Context, t *Tenant) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.tenants[t.ID]; ok {
		return ErrConstraint
	}
	m.s.tenants[t.ID] = *t
	return nil
}

func (m *memTenantStore) Find(ctx context.Context, id string) (*Tenant, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

type memScopeStore struct{ s *MemStore }

func (m *memScopeStore) Create(ctx context.Context, sc *Scope) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.scopes {
		if existing.Code() == sc.Code() {
			return ErrConstraint
		}
	}
	m.s.scopes[sc.ID] = *sc
	return nil
}

func (m *memScopeStore) Find(ctx context.Context, id string) (*Scope, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sc, ok := m.s.scopes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sc, nil
}

func (m *memScopeStore) Ensure(ctx context.Context, scopes []Scope) error {
	for i := range scopes {
		if err := m.Create(ctx, &scopes[i]); err != nil && err != ErrConstraint {
			return err
		}
	}
	return nil
}

func (m *memScopeStore) List(ctx context.Context) ([]Scope, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	res := make([]Scope, 0, len(m.s.scopes))
	for _, sc := range m.s.scopes {
		res = append(res, sc)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Code() < res[j].Code() })
	return res, nil
}

type memRoleStore struct{ s *MemStore }

func (m *memRoleStore) Create(ctx context.Context, role *Role) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if role.IsDefault {
		for _, existing := range m.s.roles {
			if existing.IsDefault {
				return ErrConstraint
			}
		}
	}
	m.s.roles[role.ID] = *role
	return nil
}

func (m *memRoleStore) Find(ctx context.Context, id string) (*Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memRoleStore) FindDefault(ctx context.Context) (*Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, r := range m.s.roles {
		if r.IsDefault {
			role := r
			return &role, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoleStore) List(ctx context.Context) ([]Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	res := make([]Role, 0, len(m.s.roles))
	for _, r := range m.s.roles {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *memRoleStore) DirectScopes(ctx context.Context, roleID string, includeCritical bool) ([]Scope, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var res []Scope
	for _, scopeID := range m.s.roleScopes[roleID] {
		sc, ok := m.s.scopes[scopeID]
		if !ok || !sc.IsActive || sc.IsInternal {
			continue
		}
		if sc.IsCritical && !includeCritical {
			continue
		}
		res = append(res, sc)
	}
	return res, nil
}

func (m *memRoleStore) IncludedRoles(ctx context.Context, roleID string) ([]Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var res []Role
	for _, includedID := range m.s.roleIncludes[roleID] {
		r, ok := m.s.roles[includedID]
		if !ok || !r.IsActive {
			continue
		}
		res = append(res, r)
	}
	return res, nil
}

func (m *memRoleStore) SetScopes(ctx context.Context, roleID string, scopeIDs []string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.roleScopes[roleID] = append([]string(nil), scopeIDs...)
	return nil
}

func (m *memRoleStore) SetIncludedRoles(ctx context.Context, roleID string, includedIDs []string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.roleIncludes[roleID] = append([]string(nil), includedIDs...)
	return nil
}

type memUserStore struct{ s *MemStore }

func (m *memUserStore) Create(ctx context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.users {
		if existing.TenantID == u.TenantID && existing.Email == u.Email &&
			existing.Status != UserStatusTerminated && u.Status != UserStatusTerminated {
			return ErrConstraint
		}
	}
	m.s.users[u.ID] = *u
	return nil
}

func (m *memUserStore) Find(ctx context.Context, id string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *memUserStore) FindByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.TenantID == tenantID && u.Email == email && u.Status != UserStatusTerminated {
			user := u
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUserStore) FindByNumber(ctx context.Context, tenantID, number string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.TenantID == tenantID && u.Number != nil && *u.Number == number &&
			u.Status != UserStatusTerminated {
			user := u
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUserStore) SetPassword(ctx context.Context, userID, passwordHash string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	m.s.users[userID] = u
	return nil
}

func (m *memUserStore) SetStatus(ctx context.Context, userID, status string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	m.s.users[userID] = u
	return nil
}

type memUserTokenStore struct{ s *MemStore }

func (m *memUserTokenStore) Create(ctx context.Context, t *UserToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.userTokens[t.ID]; ok {
		return ErrConstraint
	}
	m.s.userTokens[t.ID] = *t
	return nil
}

func (m *memUserTokenStore) Find(ctx context.Context, id string) (*UserToken, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.userTokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *memUserTokenStore) Deactivate(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.userTokens[id]
	if !ok {
		return ErrNotFound
	}
	t.IsActive = false
	m.s.userTokens[id] = t
	return nil
}

func (m *memUserTokenStore) DeactivateForUser(ctx context.Context, userID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for id, t := range m.s.userTokens {
		if t.UserID == userID && t.IsActive {
			t.IsActive = false
			m.s.userTokens[id] = t
		}
	}
	return nil
}

type memAccessTokenStore struct{ s *MemStore }

func (m *memAccessTokenStore) Create(ctx context.Context, t *UserAccessToken, scopeIDs []string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.accessTokens[t.ID]; ok {
		return ErrConstraint
	}
	m.s.accessTokens[t.ID] = *t
	m.s.tokenScopes[t.ID] = append([]string(nil), scopeIDs...)
	return nil
}

func (m *memAccessTokenStore) FindBySecret(ctx context.Context, secret string) (*UserAccessToken, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, t := range m.s.accessTokens {
		if t.Token == secret && t.IsActive {
			token := t
			return &token, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAccessTokenStore) DeclaredScopes(ctx context.Context, tokenID string, includeCritical bool) ([]Scope, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var res []Scope
	for _, scopeID := range m.s.tokenScopes[tokenID] {
		sc, ok := m.s.scopes[scopeID]
		if !ok || !sc.IsActive || sc.IsInternal {
			continue
		}
		if sc.IsCritical && !includeCritical {
			continue
		}
		res = append(res, sc)
	}
	return res, nil
}

func (m *memAccessTokenStore) Declared(ctx context.Context, tokenID string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return len(m.s.tokenScopes[tokenID]) > 0, nil
}

func (m *memAccessTokenStore) TouchLastUsed(ctx context.Context, tokenID string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.accessTokens[tokenID]
	if !ok {
		return ErrNotFound
	}
	t.LastUsed = &at
	m.s.accessTokens[tokenID] = t
	return nil
}

type memOTPStore struct{ s *MemStore }

func (m *memOTPStore) Create(ctx context.Context, otp *UserOTP) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.otps[otp.ID]; ok {
		return ErrConstraint
	}
	stored := *otp
	stored.Plain = ""
	m.s.otps[otp.ID] = stored
	return nil
}

func (m *memOTPStore) Find(ctx context.Context, id string) (*UserOTP, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.otps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *memOTPStore) UnusedByType(ctx context.Context, userID, otpType string) ([]*UserOTP, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var res []*UserOTP
	for _, o := range m.s.otps {
		if o.UserID == userID && o.Type == otpType && !o.Used() {
			otp := o
			res = append(res, &otp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *memOTPStore) LiveByUser(ctx context.Context, userID string, now time.Time) ([]*UserOTP, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var res []*UserOTP
	for _, o := range m.s.otps {
		if o.UserID == userID && !o.Used() && !o.Expired(now) {
			otp := o
			res = append(res, &otp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *memOTPStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.otps[id]
	if !ok || o.Used() {
		return ErrNotFound
	}
	o.UsedAt = &at
	m.s.otps[id] = o
	return nil
}
