package access

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPGUserFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "email", "number", "password_hash", "status", "type",
		"language", "role_id", "first_name", "last_name", "created_at", "updated_at",
	}).AddRow("u1", "t1", "a@example.com", nil, "hash", "ACTIVE", "USER", "en", nil, nil, nil, now, now)
	mock.ExpectQuery("select id, tenant_id, email").WithArgs("u1").WillReturnRows(rows)

	store := NewPGStore(db)
	user, err := store.Users().Find(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if user.Email != "a@example.com" || user.TenantID != "t1" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.RoleID != nil {
		t.Fatalf("expected nil role id, got %v", *user.RoleID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUserFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, tenant_id, email").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewPGStore(db)
	if _, err := store.Users().Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGUserCreateUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "users_tenant_email_uniq"}
	mock.ExpectExec("insert into users").WillReturnError(pgErr)

	store := NewPGStore(db)
	u := &User{ID: "u1", TenantID: "t1", Email: "a@example.com", Status: UserStatusActive, Type: UserTypeUser, Language: "en"}
	err = store.Users().Create(context.Background(), u)
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
}

func TestPGRoleCreateSecondDefaultViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "roles_default_uniq"}
	mock.ExpectExec("insert into roles").WillReturnError(pgErr)

	store := NewPGStore(db)
	role := &Role{ID: "r2", Name: "second", IsDefault: true, IsActive: true}
	err = store.Roles().Create(context.Background(), role)
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
	if !strings.Contains(err.Error(), "roles_default_uniq") {
		t.Fatalf("expected constraint name in error, got %v", err)
	}
}

func TestPGDirectScopesCriticalFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "service", "resource", "action", "selector", "is_active", "is_internal", "is_critical",
	}).AddRow("s1", "access", "users", "get", "own", true, false, false)
	mock.ExpectQuery("from scopes s").WithArgs("r1", false).WillReturnRows(rows)

	store := NewPGStore(db)
	scopes, err := store.Roles().DirectScopes(context.Background(), "r1", false)
	if err != nil {
		t.Fatalf("DirectScopes: %v", err)
	}
	if len(scopes) != 1 || scopes[0].Code() != "access.users.get.own" {
		t.Fatalf("unexpected scopes: %+v", scopes)
	}
}

func TestPGOTPMarkUsedNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update user_otps set used_at").
		WithArgs("o1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	if err := store.OTPs().MarkUsed(context.Background(), "o1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGInTxCommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update user_otps set used_at").
		WithArgs("o1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPGStore(db)
	err = store.InTx(context.Background(), func(tx Store) error {
		return tx.OTPs().MarkUsed(context.Background(), "o1", time.Now())
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGInTxRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update user_otps set used_at").
		WithArgs("o1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewPGStore(db)
	err = store.InTx(context.Background(), func(tx Store) error {
		return tx.OTPs().MarkUsed(context.Background(), "o1", time.Now())
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGAccessTokenDeclared(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select exists").WithArgs("at1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewPGStore(db)
	declared, err := store.AccessTokens().Declared(context.Background(), "at1")
	if err != nil {
		t.Fatalf("Declared: %v", err)
	}
	if !declared {
		t.Fatal("expected declared restriction")
	}
}
