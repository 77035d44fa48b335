// Package directory provides tenant-membership and scoping lookups backed
// by the relational store. The authorization engine consumes it as a
// read-only oracle; writes happen through administrative flows.
package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Schema holds the directory DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS tenant_members (
	user_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	role TEXT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, tenant_id)
);

CREATE TABLE IF NOT EXISTS scope_assignments (
	user_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	assigned_by TEXT,
	assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, tenant_id, resource_id)
);

CREATE INDEX IF NOT EXISTS idx_scope_assignments_user_tenant
	ON scope_assignments(user_id, tenant_id);
`

// PostgresDirectory implements authz.Directory over PostgreSQL.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Migrate applies the directory schema.
func (d *PostgresDirectory) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply directory schema: %w", err)
	}
	return nil
}

// TenantRole returns the member's role within the tenant, or "" when the
// user holds no membership there.
func (d *PostgresDirectory) TenantRole(ctx context.Context, userID, tenantID string) (string, error) {
	var role string
	err := d.db.QueryRowContext(ctx,
		`SELECT role FROM tenant_members WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query tenant role: %w", err)
	}
	return role, nil
}

// ScopedResourceIDs returns the resource ids assigned to the user within
// the tenant, ordered for deterministic grants.
func (d *PostgresDirectory) ScopedResourceIDs(ctx context.Context, userID, tenantID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT resource_id FROM scope_assignments
		 WHERE user_id = $1 AND tenant_id = $2
		 ORDER BY resource_id`,
		userID, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query scope assignments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan scope assignment: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scope assignments: %w", err)
	}
	return ids, nil
}

func (d *PostgresDirectory) IsTenantMember(ctx context.Context, userID, tenantID string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM tenant_members WHERE user_id = $1 AND tenant_id = $2)`,
		userID, tenantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query tenant membership: %w", err)
	}
	return exists, nil
}

// AddMember enrolls a user in a tenant with the given role. Re-adding an
// existing member updates the role.
func (d *PostgresDirectory) AddMember(ctx context.Context, userID, tenantID, role string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO tenant_members (user_id, tenant_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, tenant_id) DO UPDATE SET role = EXCLUDED.role`,
		userID, tenantID, role,
	)
	if err != nil {
		return fmt.Errorf("add tenant member: %w", err)
	}
	return nil
}

// RemoveMember drops a user's membership and all their scope assignments
// within the tenant.
func (d *PostgresDirectory) RemoveMember(ctx context.Context, userID, tenantID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove member: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM scope_assignments WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID,
	); err != nil {
		return fmt.Errorf("delete scope assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tenant_members WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID,
	); err != nil {
		return fmt.Errorf("delete tenant member: %w", err)
	}
	return tx.Commit()
}

// AssignScope grants a user access to a specific resource id, typically an
// instructor to a student. Duplicate assignment is a no-op.
func (d *PostgresDirectory) AssignScope(ctx context.Context, userID, tenantID, resourceID, assignedBy string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO scope_assignments (user_id, tenant_id, resource_id, assigned_by)
		 VALUES ($1, $2, $3, NULLIF($4, ''))
		 ON CONFLICT (user_id, tenant_id, resource_id) DO NOTHING`,
		userID, tenantID, resourceID, assignedBy,
	)
	if err != nil {
		return fmt.Errorf("assign scope: %w", err)
	}
	return nil
}

// RemoveScope revokes a single resource assignment.
func (d *PostgresDirectory) RemoveScope(ctx context.Context, userID, tenantID, resourceID string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM scope_assignments
		 WHERE user_id = $1 AND tenant_id = $2 AND resource_id = $3`,
		userID, tenantID, resourceID,
	)
	if err != nil {
		return fmt.Errorf("remove scope: %w", err)
	}
	return nil
}

// ReplaceScopes swaps a user's full assignment set in one transaction,
// used when an admin reassigns an instructor's roster.
func (d *PostgresDirectory) ReplaceScopes(ctx context.Context, userID, tenantID string, resourceIDs []string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace scopes: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM scope_assignments WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID,
	); err != nil {
		return fmt.Errorf("clear scope assignments: %w", err)
	}
	if len(resourceIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scope_assignments (user_id, tenant_id, resource_id)
			 SELECT $1, $2, UNNEST($3::text[])`,
			userID, tenantID, pq.Array(resourceIDs),
		); err != nil {
			return fmt.Errorf("insert scope assignments: %w", err)
		}
	}
	return tx.Commit()
}
