// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/drivelinehq/driveline/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.PrincipalKey, principal)
//   p := ctx.Value(contextkeys.PrincipalKey).(*identity.Principal)
package contextkeys

import (
	"context"

	"github.com/drivelinehq/driveline/pkg/authz"
	"github.com/drivelinehq/driveline/pkg/identity"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *identity.Principal
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: All protected endpoints, authorization middleware
	// Type: *identity.Principal
	PrincipalKey Key = "principal"

	// GrantKey contains *authz.Grant
	// Set by: middleware.RequireCapabilities (pkg/middleware/authz.go)
	// Used by: Handlers filtering collection queries by scope set
	// Type: *authz.Grant
	GrantKey Key = "grant"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware, observability layer
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal *identity.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetPrincipal retrieves the authenticated principal from context
func GetPrincipal(ctx context.Context) *identity.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*identity.Principal); ok {
		return p
	}
	return nil
}

// WithGrant adds the resolved authorization grant to the context
func WithGrant(ctx context.Context, grant *authz.Grant) context.Context {
	return context.WithValue(ctx, GrantKey, grant)
}

// GetGrant retrieves the authorization grant from context
func GetGrant(ctx context.Context) *authz.Grant {
	if g, ok := ctx.Value(GrantKey).(*authz.Grant); ok {
		return g
	}
	return nil
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
