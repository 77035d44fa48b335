package tokenstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drivelinehq/driveline/pkg/autherr"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
// The mutex makes MarkUsed the same atomic check-and-flip the Postgres
// conditional UPDATE provides.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// WithClock overrides the store's time source, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Create inserts a new record.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.TokenID]; exists {
		return fmt.Errorf("%w: %s", autherr.ErrDuplicateTokenID, rec.TokenID)
	}
	clone := *rec
	s.records[rec.TokenID] = &clone
	return nil
}

// FindByID returns a copy of the record, or (nil, nil) on a miss.
func (s *MemoryStore) FindByID(ctx context.Context, tokenID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenID]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

// MarkUsed flips used to true for exactly one caller.
func (s *MemoryStore) MarkUsed(ctx context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenID]
	if !ok || rec.Used {
		return false, nil
	}
	rec.Used = true
	return true, nil
}

// RevokeChain marks every record in a rotation chain as used.
func (s *MemoryStore) RevokeChain(ctx context.Context, chainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ChainID == chainID {
			rec.Used = true
		}
	}
	return nil
}

// RevokeAllForUser marks every record belonging to a user as used.
func (s *MemoryStore) RevokeAllForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.UserID == userID {
			rec.Used = true
		}
	}
	return nil
}

// CountActive counts unused, unexpired records for a user.
func (s *MemoryStore) CountActive(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, rec := range s.records {
		if rec.UserID == userID && !rec.Used && rec.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

// Delete removes a single record.
func (s *MemoryStore) Delete(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, tokenID)
	return nil
}

// DeleteExpiredOrUsed removes expired records and used records created
// before usedCutoff.
func (s *MemoryStore) DeleteExpiredOrUsed(ctx context.Context, usedCutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var deleted int64
	for id, rec := range s.records {
		if !rec.ExpiresAt.After(now) || (rec.Used && !rec.CreatedAt.After(usedCutoff)) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}
