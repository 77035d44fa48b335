package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryUserStore is an in-memory UserStore for tests and local development.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

// FindByEmail returns the user for an email, or (nil, nil) on a miss.
func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	clone := *s.byID[id]
	return &clone, nil
}

// FindByID returns the user for an id, or (nil, nil) on a miss.
func (s *MemoryUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	clone := *user
	return &clone, nil
}

// Create inserts a new account; emails are unique case-insensitively.
func (s *MemoryUserStore) Create(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(user.Email)
	if _, exists := s.byEmail[email]; exists {
		return fmt.Errorf("email already registered: %s", user.Email)
	}
	if _, exists := s.byID[user.ID]; exists {
		return fmt.Errorf("duplicate user id: %s", user.ID)
	}
	clone := *user
	s.byID[user.ID] = &clone
	s.byEmail[email] = user.ID
	return nil
}

// UpdatePassword replaces the stored password hash.
func (s *MemoryUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now()
	return nil
}

// TouchLastLogin records a successful login time.
func (s *MemoryUserStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	user.LastLoginAt = &at
	return nil
}
