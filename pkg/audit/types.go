// Package audit defines the structured security-event contract produced by
// the auth core. Delivery is fire-and-forget: a sink failure degrades to a
// fallback log and never fails the operation that produced the event.
package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin          EventType = "auth.login"
	EventTypeAuthLoginFailed    EventType = "auth.login_failed"
	EventTypeAuthLogout         EventType = "auth.logout"
	EventTypeAuthLogoutAll      EventType = "auth.logout_all"
	EventTypeAuthRegister       EventType = "auth.register"
	EventTypeAuthPasswordChange EventType = "auth.password_change"
	EventTypeAuthTokenRefresh   EventType = "auth.token_refresh"

	// Authorization events
	EventTypeAuthzAccessGranted  EventType = "authz.access_granted"
	EventTypeAuthzAccessDenied   EventType = "authz.access_denied"
	EventTypeAuthzTenantRejected EventType = "authz.tenant_rejected"

	// Security events
	EventTypeSecurityReplayDetected EventType = "security.replay_detected"
	EventTypeSecurityTokenTampered  EventType = "security.token_tampered"
	EventTypeSecurityChainRevoked   EventType = "security.chain_revoked"
	EventTypeSecurityTokenRevoked   EventType = "security.token_revoked"
	EventTypeSecurityRotationError  EventType = "security.rotation_error"
)

// Severity grades an event for downstream alerting
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single audit log entry
type Event struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        EventType              `json:"event_type"`
	Severity    Severity               `json:"severity"`
	ActorUserID string                 `json:"actor_user_id,omitempty"`
	TenantID    string                 `json:"tenant_id,omitempty"`
	TokenID     string                 `json:"token_id,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}
