// Package tokenstore persists refresh-token records: one row per issued
// refresh token, keyed by its unique token id and linked to its rotation
// chain. It is the only durable state the token lifecycle keeps.
package tokenstore

import (
	"context"
	"time"
)

// Record is the durable state for one refresh token.
//
// Used is monotonic: it moves false to true exactly once and never resets.
// Records are created by the authentication service (initial login) or the
// rotation service (each rotation) and retired only by the rotation service
// or the janitor sweep.
type Record struct {
	TokenID   string
	UserID    string
	ChainID   string
	TokenHash string
	Used      bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Store is the persistence contract for refresh-token records. All methods
// must be safe under concurrent invocation for the same user or token.
type Store interface {
	// Create inserts a new record. It fails with autherr.ErrDuplicateTokenID
	// if the token id already exists; uniqueness is enforced atomically.
	Create(ctx context.Context, rec *Record) error

	// FindByID returns the record for a token id, or (nil, nil) when no
	// record exists.
	FindByID(ctx context.Context, tokenID string) (*Record, error)

	// MarkUsed conditionally flips Used to true. It returns true only for
	// the single caller that performed the flip; callers observing false on
	// a nil error are seeing a token that was already consumed, which the
	// rotation protocol treats as replay.
	MarkUsed(ctx context.Context, tokenID string) (bool, error)

	// RevokeChain marks every record in a rotation chain as used. Replay
	// containment: once any token in a lineage is replayed, the whole
	// lineage dies.
	RevokeChain(ctx context.Context, chainID string) error

	// RevokeAllForUser marks every record belonging to a user as used.
	RevokeAllForUser(ctx context.Context, userID string) error

	// CountActive returns the number of unused, unexpired records for a user.
	CountActive(ctx context.Context, userID string) (int, error)

	// Delete removes a single record.
	Delete(ctx context.Context, tokenID string) error

	// DeleteExpiredOrUsed removes expired records and used records created
	// before usedCutoff, returning how many rows went away. Used records are
	// retained for a grace window so replay of a recently rotated token
	// still hits a record and trips chain revocation.
	DeleteExpiredOrUsed(ctx context.Context, usedCutoff time.Time) (int64, error)
}
