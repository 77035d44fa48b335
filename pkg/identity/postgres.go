package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresUserStore implements UserStore on Postgres.
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a Postgres-backed user store.
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// Schema is the DDL for the users table.
const Schema = `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		full_name VARCHAR(255),
		role VARCHAR(64) NOT NULL,
		tenant_id VARCHAR(64),
		password_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login_at TIMESTAMPTZ
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));
	CREATE INDEX IF NOT EXISTS idx_users_tenant_id ON users(tenant_id);
`

// Migrate creates the users table if it does not exist.
func (s *PostgresUserStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

const userColumns = `id, email, full_name, role, tenant_id, password_hash, is_active, created_at, updated_at, last_login_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var fullName, tenantID sql.NullString
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &fullName, &u.Role, &tenantID, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.FullName = fullName.String
	u.TenantID = tenantID.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// FindByEmail returns the user for an email, or (nil, nil) on a miss.
func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

// FindByID returns the user for an id, or (nil, nil) on a miss.
func (s *PostgresUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// Create inserts a new account.
func (s *PostgresUserStore) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, email, full_name, role, tenant_id, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.FullName, user.Role, user.TenantID,
		user.PasswordHash, user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("email already registered: %s", user.Email)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (s *PostgresUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// TouchLastLogin records a successful login time.
func (s *PostgresUserStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET last_login_at = $2 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to record login time: %w", err)
	}
	return nil
}
