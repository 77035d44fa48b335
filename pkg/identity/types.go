// Package identity holds the user account model and the authenticated
// principal attached to requests.
package identity

import (
	"context"
	"time"
)

// User represents a platform account. PasswordHash is opaque to everything
// except the password hasher.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name,omitempty"`
	Role         string     `json:"role"`
	TenantID     string     `json:"tenant_id,omitempty"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// UserStore is the persistence contract for user accounts.
type UserStore interface {
	// FindByEmail returns the user for an email, or (nil, nil) on a miss.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindByID returns the user for an id, or (nil, nil) on a miss.
	FindByID(ctx context.Context, id string) (*User, error)

	// Create inserts a new account.
	Create(ctx context.Context, user *User) error

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// TouchLastLogin records a successful login time.
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// Principal is the authenticated identity attached to a request. It is
// rebuilt from verified token claims on every request and never persisted.
type Principal struct {
	UserID    string
	Email     string
	Role      string
	TenantID  string
	TokenID   string
	TokenKind string
}
