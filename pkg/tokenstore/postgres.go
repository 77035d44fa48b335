package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/drivelinehq/driveline/pkg/autherr"
)

// uniqueViolation is the Postgres error code for a unique-constraint breach.
const uniqueViolation = "23505"

// PostgresStore implements Store on top of a Postgres database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed token store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new refresh-token record. The primary key on token_id
// makes duplicate detection atomic.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO refresh_tokens (token_id, user_id, chain_id, token_hash, used, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.TokenID,
		rec.UserID,
		rec.ChainID,
		rec.TokenHash,
		rec.Used,
		rec.ExpiresAt,
		rec.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("%w: %s", autherr.ErrDuplicateTokenID, rec.TokenID)
		}
		return fmt.Errorf("failed to create refresh token record: %w", err)
	}
	return nil
}

// FindByID returns the record for a token id, or (nil, nil) on a miss.
func (s *PostgresStore) FindByID(ctx context.Context, tokenID string) (*Record, error) {
	query := `
		SELECT token_id, user_id, chain_id, token_hash, used, expires_at, created_at
		FROM refresh_tokens
		WHERE token_id = $1
	`
	var rec Record
	err := s.db.QueryRowContext(ctx, query, tokenID).Scan(
		&rec.TokenID,
		&rec.UserID,
		&rec.ChainID,
		&rec.TokenHash,
		&rec.Used,
		&rec.ExpiresAt,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	return &rec, nil
}

// MarkUsed flips used to true for exactly one caller. The conditional UPDATE
// is the synchronization point for concurrent rotation attempts: the row
// lock serializes them and RowsAffected tells each caller whether it won.
func (s *PostgresStore) MarkUsed(ctx context.Context, tokenID string) (bool, error) {
	query := `UPDATE refresh_tokens SET used = TRUE WHERE token_id = $1 AND used = FALSE`
	res, err := s.db.ExecContext(ctx, query, tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to mark refresh token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// RevokeChain marks every record sharing a rotation chain id as used.
func (s *PostgresStore) RevokeChain(ctx context.Context, chainID string) error {
	query := `UPDATE refresh_tokens SET used = TRUE WHERE chain_id = $1 AND used = FALSE`
	if _, err := s.db.ExecContext(ctx, query, chainID); err != nil {
		return fmt.Errorf("failed to revoke rotation chain: %w", err)
	}
	return nil
}

// RevokeAllForUser marks every record belonging to a user as used.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string) error {
	query := `UPDATE refresh_tokens SET used = TRUE WHERE user_id = $1 AND used = FALSE`
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}
	return nil
}

// CountActive counts unused, unexpired records for a user.
func (s *PostgresStore) CountActive(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND used = FALSE AND expires_at > NOW()`
	var n int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active refresh tokens: %w", err)
	}
	return n, nil
}

// Delete removes a single record.
func (s *PostgresStore) Delete(ctx context.Context, tokenID string) error {
	query := `DELETE FROM refresh_tokens WHERE token_id = $1`
	if _, err := s.db.ExecContext(ctx, query, tokenID); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteExpiredOrUsed removes expired records and used records created
// before usedCutoff.
func (s *PostgresStore) DeleteExpiredOrUsed(ctx context.Context, usedCutoff time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at <= NOW() OR (used = TRUE AND created_at <= $1)`
	res, err := s.db.ExecContext(ctx, query, usedCutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}
