package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresSink persists audit events to the audit_events table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a Postgres-backed audit sink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Schema is the DDL for the audit_events table.
const Schema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		actor_user_id VARCHAR(64),
		tenant_id VARCHAR(64),
		token_id VARCHAR(64),
		message TEXT,
		details JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_occurred_at ON audit_events(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor_user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
`

// Migrate creates the audit_events table if it does not exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}
	return nil
}

// Record inserts one event.
func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (occurred_at, event_type, severity, actor_user_id, tenant_id, token_id, message, details)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.Timestamp,
		string(event.Type),
		string(event.Severity),
		event.ActorUserID,
		event.TenantID,
		event.TokenID,
		event.Message,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}
