// Package authn orchestrates credential-based flows: login, registration,
// logout, and password changes. It owns no token state of its own; it
// drives the codec, token store, and revocation registry and reports every
// outcome to the audit trail.
package authn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drivelinehq/driveline/pkg/audit"
	"github.com/drivelinehq/driveline/pkg/autherr"
	"github.com/drivelinehq/driveline/pkg/identity"
	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/revocation"
	"github.com/drivelinehq/driveline/pkg/rotation"
	"github.com/drivelinehq/driveline/pkg/token"
	"github.com/drivelinehq/driveline/pkg/tokenstore"
)

// MinPasswordLength is the floor enforced at registration and password
// change.
const MinPasswordLength = 8

// dummyBcryptHash keeps login timing uniform when the email is unknown.
// bcrypt hash of an unguessable throwaway value.
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ClientContext mirrors rotation.ClientContext for audit detail.
type ClientContext = rotation.ClientContext

// Service implements the credential flows.
type Service struct {
	codec    *token.Codec
	users    identity.UserStore
	store    tokenstore.Store
	registry revocation.Registry
	rotator  *rotation.Service
	hasher   PasswordHasher
	audit    *audit.Emitter
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithHasher(h PasswordHasher) Option {
	return func(s *Service) { s.hasher = h }
}

func NewService(
	codec *token.Codec,
	users identity.UserStore,
	store tokenstore.Store,
	registry revocation.Registry,
	rotator *rotation.Service,
	emitter *audit.Emitter,
	logger *observability.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		codec:    codec,
		users:    users,
		store:    store,
		registry: registry,
		rotator:  rotator,
		hasher:   NewBcryptHasher(0),
		audit:    emitter,
		logger:   logger,
		metrics:  observability.NewNopMetrics(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies credentials and issues a fresh token pair opening a new
// rotation lineage. All credential failures collapse to
// ErrInvalidCredentials so callers cannot distinguish an unknown email
// from a wrong password.
func (s *Service) Login(ctx context.Context, email, password string, client ClientContext) (*token.Pair, *identity.User, error) {
	email = normalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil || !user.IsActive {
		// Burn a comparison anyway so response timing does not reveal
		// whether the account exists.
		_ = s.hasher.Compare(dummyBcryptHash, password)
		s.recordLoginFailure(ctx, email, client, "unknown_or_inactive")
		return nil, nil, fmt.Errorf("%w", autherr.ErrInvalidCredentials)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.recordLoginFailure(ctx, email, client, "bad_password")
		return nil, nil, fmt.Errorf("%w", autherr.ErrInvalidCredentials)
	}

	pair, err := s.rotator.Issuer().IssuePair(ctx, user, "")
	if err != nil {
		return nil, nil, fmt.Errorf("issue token pair: %w", err)
	}

	if err := s.users.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to record last login")
	}

	s.metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.audit.Emit(ctx, audit.Event{
		Type:        audit.EventTypeAuthLogin,
		Severity:    audit.SeverityInfo,
		ActorUserID: user.ID,
		TenantID:    user.TenantID,
		TokenID:     pair.AccessTokenID,
		Message:     "user logged in",
		Details: map[string]interface{}{
			"chain_id":   pair.ChainID,
			"ip_address": client.IPAddress,
			"user_agent": client.UserAgent,
		},
	})
	return pair, user, nil
}

// Register creates a new account. The caller supplies the role and tenant;
// role validity is the authorization layer's concern, not enforced here.
func (s *Service) Register(ctx context.Context, email, password, fullName, role, tenantID string) (*identity.User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", autherr.ErrInvalidCredentials)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password shorter than %d characters", autherr.ErrInvalidCredentials, MinPasswordLength)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &identity.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     fullName,
		Role:         role,
		TenantID:     tenantID,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.metrics.RegistrationsTotal.Inc()
	s.audit.Emit(ctx, audit.Event{
		Type:        audit.EventTypeAuthRegister,
		Severity:    audit.SeverityInfo,
		ActorUserID: user.ID,
		TenantID:    tenantID,
		Message:     "user registered",
		Details:     map[string]interface{}{"role": role},
	})
	return user, nil
}

// Logout revokes the presented access token for its remaining lifetime and
// retires the refresh token if one accompanies it. It is deliberately
// lenient: an already-expired access token or an already-used refresh
// token still results in a logged-out client.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string, client ClientContext) error {
	// The access token may already be expired, but it must carry our
	// signature: the claims feed blacklist entries, and a forged token
	// would let an unauthenticated caller grow the registry at will.
	claims, err := s.codec.VerifyIgnoringExpiry(accessToken)
	if err != nil {
		return fmt.Errorf("logout access token: %w", err)
	}

	if claims.ExpiresAt != nil {
		ttl := claims.ExpiresAt.Time.Sub(s.now())
		// A well-signed token can still carry an oversized expiry when
		// codecs disagree on TTLs; the entry never outlives the longest
		// access token this service would issue.
		if max := s.codec.AccessTTL(); ttl > max {
			ttl = max
		}
		if ttl > 0 {
			if err := s.registry.RevokeAccessToken(ctx, claims.TokenID(), "logout", ttl); err != nil {
				return fmt.Errorf("revoke access token: %w", err)
			}
		}
	}

	if refreshToken != "" {
		if rc, verr := s.rotator.ValidateWithoutRotating(ctx, refreshToken); verr == nil {
			if _, merr := s.store.MarkUsed(ctx, rc.TokenID()); merr != nil {
				s.logger.WithError(merr).WithField("token_id", rc.TokenID()).Warn("failed to retire refresh token on logout")
			}
		}
	}

	s.metrics.LogoutsTotal.Inc()
	s.audit.Emit(ctx, audit.Event{
		Type:        audit.EventTypeAuthLogout,
		Severity:    audit.SeverityInfo,
		ActorUserID: claims.UserID(),
		TenantID:    claims.TenantID,
		TokenID:     claims.TokenID(),
		Message:     "user logged out",
		Details:     map[string]interface{}{"ip_address": client.IPAddress},
	})
	return nil
}

// LogoutAll revokes every token the user holds: all refresh records are
// retired durably and a wildcard blacklist entry covers any access token
// still in flight. The wildcard's ttl is the full access lifetime, which
// bounds the newest token the user could possibly hold.
func (s *Service) LogoutAll(ctx context.Context, userID, reason string) error {
	if reason == "" {
		reason = "logout_all"
	}

	if err := s.store.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if err := s.registry.RevokeAllForUser(ctx, userID, reason, s.codec.AccessTTL()); err != nil {
		return fmt.Errorf("blacklist user: %w", err)
	}

	s.metrics.LogoutsTotal.Inc()
	s.audit.Emit(ctx, audit.Event{
		Type:        audit.EventTypeAuthLogoutAll,
		Severity:    audit.SeverityWarning,
		ActorUserID: userID,
		Message:     "all sessions revoked",
		Details:     map[string]interface{}{"reason": reason},
	})
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every outstanding token so stolen sessions do not survive the
// change.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return fmt.Errorf("%w: password shorter than %d characters", autherr.ErrInvalidCredentials, MinPasswordLength)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if user == nil || !user.IsActive {
		return fmt.Errorf("%w", autherr.ErrInvalidCredentials)
	}
	if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		return fmt.Errorf("%w", autherr.ErrInvalidCredentials)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.LogoutAll(ctx, userID, "password_change"); err != nil {
		return err
	}

	s.metrics.PasswordChangesTotal.Inc()
	s.audit.Emit(ctx, audit.Event{
		Type:        audit.EventTypeAuthPasswordChange,
		Severity:    audit.SeverityInfo,
		ActorUserID: userID,
		TenantID:    user.TenantID,
		Message:     "password changed, all sessions revoked",
	})
	return nil
}

func (s *Service) recordLoginFailure(ctx context.Context, email string, client ClientContext, reason string) {
	s.metrics.LoginsTotal.WithLabelValues("failure").Inc()
	s.audit.Emit(ctx, audit.Event{
		Type:     audit.EventTypeAuthLoginFailed,
		Severity: audit.SeverityWarning,
		Message:  "login failed",
		Details: map[string]interface{}{
			"email":      email,
			"reason":     reason,
			"ip_address": client.IPAddress,
		},
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
