package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// the same sub-stores serve both transactional and plain access.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
	q  querier
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, q: db}
}

func (s *PGStore) Tenants() TenantStore           { return &pgTenantStore{q: s.q} }
func (s *PGStore) Scopes() ScopeStore             { return &pgScopeStore{q: s.q} }
func (s *PGStore) Roles() RoleStore               { return &pgRoleStore{q: s.q} }
func (s *PGStore) Users() UserStore               { return &pgUserStore{q: s.q} }
func (s *PGStore) UserTokens() UserTokenStore     { return &pgUserTokenStore{q: s.q} }
func (s *PGStore) AccessTokens() AccessTokenStore { return &pgAccessTokenStore{q: s.q} }
func (s *PGStore) OTPs() OTPStore                 { return &pgOTPStore{q: s.q} }

// InTx runs fn in a database transaction. Nested calls reuse the enclosing
// transaction.
func (s *PGStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&PGStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// mapPGError translates uniqueness violations to ErrConstraint.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
	}
	return err
}

// Tenant store --------------------------------------------------------------

type pgTenantStore struct{ q querier }

func (s *pgTenantStore) Create(ctx context.Context, t *Tenant) error {
	_, err := s.q.ExecContext(ctx,
		`insert into tenants(id, name, created_at) values($1,$2,$3)`,
		t.ID, t.Name, t.CreatedAt,
	)
	return mapPGError(err)
}

func (s *pgTenantStore) Find(ctx context.Context, id string) (*Tenant, error) {
	row := s.q.QueryRowContext(ctx,
		`select id, name, created_at from tenants where id=$1`, id)
	var t Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Scope store ---------------------------------------------------------------

type pgScopeStore struct{ q querier }

const scopeColumns = `id, service, resource, action, selector, is_active, is_internal, is_critical`

func scanScope(row interface{ Scan(...any) error }) (Scope, error) {
	var sc Scope
	err := row.Scan(&sc.ID, &sc.Service, &sc.Resource, &sc.Action, &sc.Selector,
		&sc.IsActive, &sc.IsInternal, &sc.IsCritical)
	return sc, err
}

func (s *pgScopeStore) Create(ctx context.Context, sc *Scope) error {
	_, err := s.q.ExecContext(ctx,
		`insert into scopes(`+scopeColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8)`,
		sc.ID, sc.Service, sc.Resource, sc.Action, sc.Selector,
		sc.IsActive, sc.IsInternal, sc.IsCritical,
	)
	return mapPGError(err)
}

func (s *pgScopeStore) Find(ctx context.Context, id string) (*Scope, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+scopeColumns+` from scopes where id=$1`, id)
	sc, err := scanScope(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sc, nil
}

func (s *pgScopeStore) Ensure(ctx context.Context, scopes []Scope) error {
	for _, sc := range scopes {
		_, err := s.q.ExecContext(ctx,
			`insert into scopes(`+scopeColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8)
			 on conflict do nothing`,
			sc.ID, sc.Service, sc.Resource, sc.Action, sc.Selector,
			sc.IsActive, sc.IsInternal, sc.IsCritical,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *pgScopeStore) List(ctx context.Context) ([]Scope, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+scopeColumns+` from scopes order by service, resource, action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Scope
	for rows.Next() {
		sc, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sc)
	}
	return res, rows.Err()
}

// Role store ----------------------------------------------------------------

type pgRoleStore struct{ q querier }

func (s *pgRoleStore) Create(ctx context.Context, role *Role) error {
	_, err := s.q.ExecContext(ctx,
		`insert into roles(id, name, is_default, is_active) values($1,$2,$3,$4)`,
		role.ID, role.Name, role.IsDefault, role.IsActive,
	)
	return mapPGError(err)
}

func (s *pgRoleStore) Find(ctx context.Context, id string) (*Role, error) {
	row := s.q.QueryRowContext(ctx,
		`select id, name, is_default, is_active from roles where id=$1`, id)
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.IsDefault, &r.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *pgRoleStore) FindDefault(ctx context.Context) (*Role, error) {
	row := s.q.QueryRowContext(ctx,
		`select id, name, is_default, is_active from roles where is_default=true`)
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.IsDefault, &r.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *pgRoleStore) List(ctx context.Context) ([]Role, error) {
	rows, err := s.q.QueryContext(ctx,
		`select id, name, is_default, is_active from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.IsDefault, &r.IsActive); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *pgRoleStore) DirectScopes(ctx context.Context, roleID string, includeCritical bool) ([]Scope, error) {
	rows, err := s.q.QueryContext(ctx,
		`select s.id, s.service, s.resource, s.action, s.selector, s.is_active, s.is_internal, s.is_critical
		 from scopes s
		 join role_scopes rs on rs.scope_id = s.id
		 where rs.role_id=$1 and s.is_active=true and s.is_internal=false
		   and (s.is_critical=false or $2)`,
		roleID, includeCritical,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Scope
	for rows.Next() {
		sc, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sc)
	}
	return res, rows.Err()
}

func (s *pgRoleStore) IncludedRoles(ctx context.Context, roleID string) ([]Role, error) {
	rows, err := s.q.QueryContext(ctx,
		`select r.id, r.name, r.is_default, r.is_active
		 from roles r
		 join role_includes ri on ri.included_role_id = r.id
		 where ri.role_id=$1 and r.is_active=true`,
		roleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.IsDefault, &r.IsActive); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *pgRoleStore) SetScopes(ctx context.Context, roleID string, scopeIDs []string) error {
	if _, err := s.q.ExecContext(ctx,
		`delete from role_scopes where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, scopeID := range scopeIDs {
		if _, err := s.q.ExecContext(ctx,
			`insert into role_scopes(role_id, scope_id) values($1,$2)`,
			roleID, scopeID); err != nil {
			return mapPGError(err)
		}
	}
	return nil
}

func (s *pgRoleStore) SetIncludedRoles(ctx context.Context, roleID string, includedIDs []string) error {
	if _, err := s.q.ExecContext(ctx,
		`delete from role_includes where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, includedID := range includedIDs {
		if _, err := s.q.ExecContext(ctx,
			`insert into role_includes(role_id, included_role_id) values($1,$2)`,
			roleID, includedID); err != nil {
			return mapPGError(err)
		}
	}
	return nil
}

// User store ----------------------------------------------------------------

type pgUserStore struct{ q querier }

const userColumns = `id, tenant_id, email, number, password_hash, status, type, language, role_id, first_name, last_name, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Number, &u.PasswordHash,
		&u.Status, &u.Type, &u.Language, &u.RoleID, &u.FirstName, &u.LastName,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *pgUserStore) Create(ctx context.Context, u *User) error {
	_, err := s.q.ExecContext(ctx,
		`insert into users(`+userColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		u.ID, u.TenantID, u.Email, u.Number, u.PasswordHash, u.Status, u.Type,
		u.Language, u.RoleID, u.FirstName, u.LastName, u.CreatedAt, u.UpdatedAt,
	)
	return mapPGError(err)
}

func (s *pgUserStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUserStore) FindByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users
		 where tenant_id=$1 and email=$2 and status<>$3`,
		tenantID, email, UserStatusTerminated))
}

func (s *pgUserStore) FindByNumber(ctx context.Context, tenantID, number string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users
		 where tenant_id=$1 and number=$2 and status<>$3`,
		tenantID, number, UserStatusTerminated))
}

func (s *pgUserStore) SetPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.q.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgUserStore) SetStatus(ctx context.Context, userID, status string) error {
	res, err := s.q.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`,
		userID, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// User token store ----------------------------------------------------------

type pgUserTokenStore struct{ q querier }

func (s *pgUserTokenStore) Create(ctx context.Context, t *UserToken) error {
	_, err := s.q.ExecContext(ctx,
		`insert into user_tokens(id, user_id, type, create_date, is_active)
		 values($1,$2,$3,$4,$5)`,
		t.ID, t.UserID, t.Type, t.CreateDate, t.IsActive,
	)
	return mapPGError(err)
}

func (s *pgUserTokenStore) Find(ctx context.Context, id string) (*UserToken, error) {
	row := s.q.QueryRowContext(ctx,
		`select id, user_id, type, create_date, is_active from user_tokens where id=$1`, id)
	var t UserToken
	if err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.CreateDate, &t.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *pgUserTokenStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`update user_tokens set is_active=false where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgUserTokenStore) DeactivateForUser(ctx context.Context, userID string) error {
	_, err := s.q.ExecContext(ctx,
		`update user_tokens set is_active=false where user_id=$1 and is_active=true`, userID)
	return err
}

// Access token store --------------------------------------------------------

type pgAccessTokenStore struct{ q querier }

func (s *pgAccessTokenStore) Create(ctx context.Context, t *UserAccessToken, scopeIDs []string) error {
	_, err := s.q.ExecContext(ctx,
		`insert into user_access_tokens(id, token, user_id, last_used, create_date, is_active)
		 values($1,$2,$3,$4,$5,$6)`,
		t.ID, t.Token, t.UserID, t.LastUsed, t.CreateDate, t.IsActive,
	)
	if err != nil {
		return mapPGError(err)
	}
	for _, scopeID := range scopeIDs {
		if _, err := s.q.ExecContext(ctx,
			`insert into user_access_token_scopes(token_id, scope_id) values($1,$2)`,
			t.ID, scopeID); err != nil {
			return mapPGError(err)
		}
	}
	return nil
}

func (s *pgAccessTokenStore) FindBySecret(ctx context.Context, secret string) (*UserAccessToken, error) {
	row := s.q.QueryRowContext(ctx,
		`select id, token, user_id, last_used, create_date, is_active
		 from user_access_tokens where token=$1 and is_active=true`, secret)
	var t UserAccessToken
	if err := row.Scan(&t.ID, &t.Token, &t.UserID, &t.LastUsed, &t.CreateDate, &t.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *pgAccessTokenStore) DeclaredScopes(ctx context.Context, tokenID string, includeCritical bool) ([]Scope, error) {
	rows, err := s.q.QueryContext(ctx,
		`select s.id, s.service, s.resource, s.action, s.selector, s.is_active, s.is_internal, s.is_critical
		 from scopes s
		 join user_access_token_scopes ts on ts.scope_id = s.id
		 where ts.token_id=$1 and s.is_active=true and s.is_internal=false
		   and (s.is_critical=false or $2)`,
		tokenID, includeCritical,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Scope
	for rows.Next() {
		sc, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sc)
	}
	return res, rows.Err()
}

func (s *pgAccessTokenStore) Declared(ctx context.Context, tokenID string) (bool, error) {
	row := s.q.QueryRowContext(ctx,
		`select exists(select 1 from user_access_token_scopes where token_id=$1)`, tokenID)
	var declared bool
	if err := row.Scan(&declared); err != nil {
		return false, err
	}
	return declared, nil
}

func (s *pgAccessTokenStore) TouchLastUsed(ctx context.Context, tokenID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`update user_access_tokens set last_used=$2 where id=$1`, tokenID, at)
	return err
}

// OTP store -----------------------------------------------------------------

type pgOTPStore struct{ q querier }

const otpColumns = `id, user_id, type, created_at, expire_at, length, used_at, value, is_internal`

func scanOTP(row interface{ Scan(...any) error }) (*UserOTP, error) {
	var o UserOTP
	err := row.Scan(&o.ID, &o.UserID, &o.Type, &o.CreatedAt, &o.ExpireAt,
		&o.Length, &o.UsedAt, &o.Value, &o.IsInternal)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *pgOTPStore) Create(ctx context.Context, otp *UserOTP) error {
	_, err := s.q.ExecContext(ctx,
		`insert into user_otps(`+otpColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		otp.ID, otp.UserID, otp.Type, otp.CreatedAt, otp.ExpireAt,
		otp.Length, otp.UsedAt, otp.Value, otp.IsInternal,
	)
	return mapPGError(err)
}

func (s *pgOTPStore) Find(ctx context.Context, id string) (*UserOTP, error) {
	return scanOTP(s.q.QueryRowContext(ctx,
		`select `+otpColumns+` from user_otps where id=$1`, id))
}

func (s *pgOTPStore) UnusedByType(ctx context.Context, userID, otpType string) ([]*UserOTP, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+otpColumns+` from user_otps
		 where user_id=$1 and type=$2 and used_at is null
		 order by created_at desc`,
		userID, otpType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*UserOTP
	for rows.Next() {
		o, err := scanOTP(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (s *pgOTPStore) LiveByUser(ctx context.Context, userID string, now time.Time) ([]*UserOTP, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+otpColumns+` from user_otps
		 where user_id=$1 and used_at is null and expire_at > $2
		 order by created_at desc`,
		userID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*UserOTP
	for rows.Next() {
		o, err := scanOTP(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (s *pgOTPStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`update user_otps set used_at=$2 where id=$1 and used_at is null`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}
