// Package authz decides whether an authenticated principal may perform an
// operation. Decisions combine a static role to capability table with
// per-resource scoping for roles that only see an assigned slice of the
// tenant, plus an independent tenant-boundary guard.
package authz

import (
	"context"
	"fmt"

	"github.com/drivelinehq/driveline/pkg/audit"
	"github.com/drivelinehq/driveline/pkg/autherr"
	"github.com/drivelinehq/driveline/pkg/identity"
	"github.com/drivelinehq/driveline/pkg/observability"
)

// Directory is the read-only tenant oracle the engine consults for
// membership and scoping data. Implementations live outside this package.
type Directory interface {
	// TenantRole returns the principal's role within the tenant, or ""
	// if they hold none.
	TenantRole(ctx context.Context, userID, tenantID string) (string, error)

	// ScopedResourceIDs returns the resource ids a scoped role may touch,
	// e.g. an instructor's assigned student ids.
	ScopedResourceIDs(ctx context.Context, userID, tenantID string) ([]string, error)

	IsTenantMember(ctx context.Context, userID, tenantID string) (bool, error)
}

// ResourceLocator carries the target-resource id as extracted by the
// transport layer. Precedence is fixed: a path id wins over a query id,
// which wins over a body id.
type ResourceLocator struct {
	PathID  string
	QueryID string
	BodyID  string
}

// Resolve returns the effective target resource id, or "" when the request
// does not address a specific resource.
func (l ResourceLocator) Resolve() string {
	switch {
	case l.PathID != "":
		return l.PathID
	case l.QueryID != "":
		return l.QueryID
	default:
		return l.BodyID
	}
}

// Grant is the resolved outcome of an allow decision. For scoped roles it
// carries the allow-list so handlers can filter collection queries. It is
// recomputed per decision and never cached across requests.
type Grant struct {
	Role     string
	Unscoped bool
	// ScopeSet is nil for unscoped roles and the full allow-list for
	// scoped ones, even when the request targeted a single resource.
	ScopeSet []string
}

// Allows reports whether the grant covers the given resource id. Unscoped
// grants cover everything.
func (g *Grant) Allows(resourceID string) bool {
	if g.Unscoped {
		return true
	}
	for _, id := range g.ScopeSet {
		if id == resourceID {
			return true
		}
	}
	return false
}

// Engine evaluates capability and tenant checks for principals.
type Engine struct {
	directory Directory
	audit     *audit.Emitter
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(directory Directory, emitter *audit.Emitter, logger *observability.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		directory: directory,
		audit:     emitter,
		logger:    logger,
		metrics:   observability.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize decides whether the principal may perform the operation guarded
// by the required capability set. On allow it returns the resolved Grant;
// scoped roles additionally have their allow-list checked against the
// locator's target resource. Every decision, either way, is audited.
func (e *Engine) Authorize(ctx context.Context, principal *identity.Principal, required []Capability, locator ResourceLocator) (*Grant, error) {
	if len(required) == 0 {
		grant := &Grant{Role: principal.Role, Unscoped: !RoleScoped(principal.Role)}
		e.record(ctx, principal, required, "allow", "no_capabilities_required")
		return grant, nil
	}

	if !RoleKnown(principal.Role) {
		e.record(ctx, principal, required, "deny", "unknown_role")
		return nil, fmt.Errorf("%w: unknown role %q", autherr.ErrInsufficientPermissions, principal.Role)
	}

	if missing := missingCapabilities(principal.Role, required); len(missing) > 0 {
		e.record(ctx, principal, required, "deny", "insufficient_permissions")
		return nil, fmt.Errorf("%w: missing %v", autherr.ErrInsufficientPermissions, missing)
	}

	if !RoleScoped(principal.Role) {
		e.record(ctx, principal, required, "allow", "unscoped_role")
		return &Grant{Role: principal.Role, Unscoped: true}, nil
	}

	scope, err := e.directory.ScopedResourceIDs(ctx, principal.UserID, principal.TenantID)
	if err != nil {
		e.record(ctx, principal, required, "deny", "directory_error")
		return nil, fmt.Errorf("fetch scope set: %w", err)
	}
	grant := &Grant{Role: principal.Role, ScopeSet: scope}

	if target := locator.Resolve(); target != "" && !grant.Allows(target) {
		e.record(ctx, principal, required, "deny", "out_of_scope")
		return nil, fmt.Errorf("%w: resource %s", autherr.ErrOutOfScope, target)
	}

	e.record(ctx, principal, required, "allow", "in_scope")
	return grant, nil
}

// CheckTenant is the tenant-boundary guard. It is independent of capability
// checking and runs first when both apply: a cross-tenant request must be
// rejected before any capability reasoning leaks information about it.
// Superadmins cross tenant boundaries freely.
func (e *Engine) CheckTenant(ctx context.Context, principal *identity.Principal, tenantID string) error {
	if tenantID == "" || principal.Role == RoleSuperadmin {
		return nil
	}

	if principal.TenantID != tenantID {
		e.audit.Emit(ctx, audit.Event{
			Type:        audit.EventTypeAuthzTenantRejected,
			Severity:    audit.SeverityWarning,
			ActorUserID: principal.UserID,
			TenantID:    tenantID,
			Message:     "request tenant does not match token tenant",
			Details: map[string]interface{}{
				"token_tenant_id": principal.TenantID,
			},
		})
		return fmt.Errorf("%w: token tenant %q, request tenant %q", autherr.ErrTenantMismatch, principal.TenantID, tenantID)
	}

	member, err := e.directory.IsTenantMember(ctx, principal.UserID, tenantID)
	if err != nil {
		return fmt.Errorf("check tenant membership: %w", err)
	}
	if !member {
		e.audit.Emit(ctx, audit.Event{
			Type:        audit.EventTypeAuthzTenantRejected,
			Severity:    audit.SeverityWarning,
			ActorUserID: principal.UserID,
			TenantID:    tenantID,
			Message:     "principal is not a member of the tenant",
		})
		return fmt.Errorf("%w: user %s in tenant %s", autherr.ErrNotATenantMember, principal.UserID, tenantID)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, principal *identity.Principal, required []Capability, decision, reason string) {
	e.metrics.AuthzDecisionsTotal.WithLabelValues(decision, reason).Inc()

	eventType := audit.EventTypeAuthzAccessGranted
	severity := audit.SeverityInfo
	if decision == "deny" {
		eventType = audit.EventTypeAuthzAccessDenied
		severity = audit.SeverityWarning
	}
	e.audit.Emit(ctx, audit.Event{
		Type:        eventType,
		Severity:    severity,
		ActorUserID: principal.UserID,
		TenantID:    principal.TenantID,
		TokenID:     principal.TokenID,
		Details: map[string]interface{}{
			"role":     principal.Role,
			"required": joinCapabilities(required),
			"decision": decision,
			"reason":   reason,
		},
	})
}
