package identity

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresUserStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresUserStore(db), mock
}

func userRows(u *User) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "email", "full_name", "role", "tenant_id", "password_hash",
		"is_active", "created_at", "updated_at", "last_login_at",
	})
	rows.AddRow(u.ID, u.Email, u.FullName, u.Role, u.TenantID, u.PasswordHash,
		u.IsActive, u.CreatedAt, u.UpdatedAt, u.LastLoginAt)
	return rows
}

func TestPostgresUserStore_FindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	seeded := &User{
		ID: "u-1", Email: "kim@example.com", Role: "student", TenantID: "school-1",
		PasswordHash: "hash", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email, full_name, role, tenant_id, password_hash, is_active, created_at, updated_at, last_login_at FROM users WHERE LOWER(email) = LOWER($1)`)).
		WithArgs("kim@example.com").
		WillReturnRows(userRows(seeded))

	user, err := store.FindByEmail(context.Background(), "kim@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "school-1", user.TenantID)
	assert.Nil(t, user.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserStore_FindByID_Miss(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "full_name", "role", "tenant_id", "password_hash",
			"is_active", "created_at", "updated_at", "last_login_at",
		}))

	user, err := store.FindByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, user, "miss is (nil, nil), not an error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserStore_Create_DuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Create(context.Background(), &User{
		ID: "u-2", Email: "kim@example.com", Role: "student",
		PasswordHash: "hash", IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserStore_UpdatePassword_Missing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET password_hash = $2`)).
		WithArgs("nope", "newhash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdatePassword(context.Background(), "nope", "newhash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryUserStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	user := &User{ID: "u-1", Email: "Kim@Example.com", Role: "student", PasswordHash: "hash", IsActive: true}
	require.NoError(t, store.Create(ctx, user))

	t.Run("email lookup is case-insensitive", func(t *testing.T) {
		got, err := store.FindByEmail(ctx, "kim@example.COM")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "u-1", got.ID)
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		err := store.Create(ctx, &User{ID: "u-2", Email: "KIM@example.com", Role: "student"})
		assert.Error(t, err)
	})

	t.Run("miss returns nil nil", func(t *testing.T) {
		got, err := store.FindByID(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("returned user is a copy", func(t *testing.T) {
		got, err := store.FindByID(ctx, "u-1")
		require.NoError(t, err)
		got.PasswordHash = "scribbled"

		again, err := store.FindByID(ctx, "u-1")
		require.NoError(t, err)
		assert.Equal(t, "hash", again.PasswordHash)
	})

	t.Run("update password", func(t *testing.T) {
		require.NoError(t, store.UpdatePassword(ctx, "u-1", "newhash"))
		got, err := store.FindByID(ctx, "u-1")
		require.NoError(t, err)
		assert.Equal(t, "newhash", got.PasswordHash)
	})

	t.Run("touch last login", func(t *testing.T) {
		at := time.Now()
		require.NoError(t, store.TouchLastLogin(ctx, "u-1", at))
		got, err := store.FindByID(ctx, "u-1")
		require.NoError(t, err)
		require.NotNil(t, got.LastLoginAt)
		assert.WithinDuration(t, at, *got.LastLoginAt, time.Second)
	})
}
