package rotation

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/drivelinehq/driveline/pkg/audit"
	"github.com/drivelinehq/driveline/pkg/autherr"
	"github.com/drivelinehq/driveline/pkg/identity"
	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/token"
	"github.com/drivelinehq/driveline/pkg/tokenstore"
)

// ClientContext carries transport-level request metadata into audit events.
type ClientContext struct {
	IPAddress string
	UserAgent string
}

// Service implements the rotation protocol. The rotation-chain id persists
// across a whole refresh lineage: every descendant of the login-time refresh
// token shares one chain id, and replaying any historical token in that
// lineage revokes all currently-valid descendants in one chain update.
type Service struct {
	codec     *token.Codec
	store     tokenstore.Store
	users     identity.UserStore
	issuer    *Issuer
	audit     *audit.Emitter
	logger    *observability.Logger
	metrics   *observability.Metrics
	maxActive int
	now       func() time.Time
}

// Option customizes the rotation service.
type Option func(*Service)

// WithMaxActiveTokens sets the advisory per-user ceiling on active refresh
// tokens. Exceeding it logs a warning; it never blocks rotation.
func WithMaxActiveTokens(n int) Option {
	return func(s *Service) { s.maxActive = n }
}

// WithMetrics attaches metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the service's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a rotation service.
func NewService(codec *token.Codec, store tokenstore.Store, users identity.UserStore, emitter *audit.Emitter, logger *observability.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if emitter == nil {
		emitter = audit.NewEmitter(nil, logger)
	}
	s := &Service{
		codec:     codec,
		store:     store,
		users:     users,
		issuer:    NewIssuer(codec, store),
		audit:     emitter,
		logger:    logger,
		metrics:   observability.NewNopMetrics(),
		maxActive: 10,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.issuer.WithClock(s.now)
	return s
}

// Issuer returns the pair issuer sharing this service's codec and store.
func (s *Service) Issuer() *Issuer {
	return s.issuer
}

// Rotate exchanges a valid, unused refresh token for a fresh access/refresh
// pair and retires the presented one. Exactly one concurrent attempt on the
// same token succeeds; every other caller takes the replay path. Any error
// is reported as a security event before it propagates.
func (s *Service) Rotate(ctx context.Context, presented string, client ClientContext) (pair *token.Pair, err error) {
	start := s.now()
	var claims *token.Claims
	defer func() {
		s.metrics.RotationDuration.Observe(s.now().Sub(start).Seconds())
		if err != nil {
			s.metrics.RotationsTotal.WithLabelValues("failure").Inc()
			s.emitRotationFailure(ctx, claims, client, err)
		} else {
			s.metrics.RotationsTotal.WithLabelValues("success").Inc()
		}
	}()

	claims, err = s.codec.Verify(presented)
	if err != nil {
		return nil, err
	}
	if claims.Kind != token.KindRefresh {
		return nil, fmt.Errorf("%w: rotation requires a refresh token", autherr.ErrInvalidTokenType)
	}

	rec, err := s.store.FindByID(ctx, claims.TokenID())
	if err != nil {
		return nil, fmt.Errorf("look up refresh record: %w", err)
	}

	switch {
	case rec == nil:
		// A signed refresh token with no record is either foreign or already
		// swept. Contain the lineage before failing.
		s.revokeChain(ctx, claims.ChainID, claims.UserID(), "record_missing")
		return nil, fmt.Errorf("%w: %s", autherr.ErrNotFoundOrRotated, claims.TokenID())

	case rec.Used:
		s.metrics.ReplaysDetectedTotal.Inc()
		s.revokeChain(ctx, rec.ChainID, rec.UserID, "replay")
		s.audit.Emit(ctx, audit.Event{
			Type:        audit.EventTypeSecurityReplayDetected,
			Severity:    audit.SeverityCritical,
			ActorUserID: rec.UserID,
			TokenID:     rec.TokenID,
			Message:     "refresh token presented after consumption, chain revoked",
			Details: map[string]interface{}{
				"chain_id":   rec.ChainID,
				"ip_address": client.IPAddress,
			},
		})
		return nil, fmt.Errorf("%w: %s", autherr.ErrReplayDetected, rec.TokenID)

	case !rec.ExpiresAt.After(s.now()):
		if derr := s.store.Delete(ctx, rec.TokenID); derr != nil {
			s.logger.WithError(derr).WithField("token_id", rec.TokenID).Warn("failed to delete expired refresh record")
		}
		return nil, fmt.Errorf("%w: refresh token", autherr.ErrExpired)
	}

	if subtle.ConstantTimeCompare([]byte(s.codec.Hash(presented)), []byte(rec.TokenHash)) != 1 {
		s.revokeChain(ctx, rec.ChainID, rec.UserID, "tampered")
		s.audit.Emit(ctx, audit.Event{
			Type:        audit.EventTypeSecurityTokenTampered,
			Severity:    audit.SeverityCritical,
			ActorUserID: rec.UserID,
			TokenID:     rec.TokenID,
			Message:     "presented refresh token does not match stored digest, chain revoked",
			Details:     map[string]interface{}{"chain_id": rec.ChainID},
		})
		return nil, fmt.Errorf("%w: %s", autherr.ErrTamperedToken, rec.TokenID)
	}

	user, err := s.users.FindByID(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve token owner: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("%w: %s", autherr.ErrUserNotFound, rec.UserID)
	}

	if s.maxActive > 0 {
		if n, cerr := s.store.CountActive(ctx, user.ID); cerr != nil {
			s.logger.WithError(cerr).Warn("failed to count active refresh tokens")
		} else if n > s.maxActive {
			s.logger.WithFields(map[string]interface{}{
				"user_id": user.ID,
				"active":  n,
				"ceiling": s.maxActive,
			}).Warn("user exceeds active refresh-token ceiling")
		}
	}

	// Retire the presented token before its replacement exists. A crash
	// between these two steps strands the user with zero valid refresh
	// tokens, never two.
	won, err := s.store.MarkUsed(ctx, rec.TokenID)
	if err != nil {
		return nil, fmt.Errorf("mark refresh token used: %w", err)
	}
	if !won {
		// A concurrent attempt consumed the token between lookup and
		// mark-used. Indistinguishable from replay, treated identically.
		s.metrics.ReplaysDetectedTotal.Inc()
		s.revokeChain(ctx, rec.ChainID, rec.UserID, "replay")
		return nil, fmt.Errorf("%w: %s", autherr.ErrReplayDetected, rec.TokenID)
	}

	pair, err = s.issuer.IssuePair(ctx, user, rec.ChainID)
	if err != nil {
		return nil, fmt.Errorf("issue replacement pair: %w", err)
	}

	s.audit.Emit(ctx, audit.Event{
		Type:        audit.EventTypeAuthTokenRefresh,
		Severity:    audit.SeverityInfo,
		ActorUserID: user.ID,
		TenantID:    user.TenantID,
		TokenID:     pair.RefreshTokenID,
		Message:     "refresh token rotated",
		Details: map[string]interface{}{
			"chain_id":   rec.ChainID,
			"retired_id": rec.TokenID,
			"ip_address": client.IPAddress,
			"user_agent": client.UserAgent,
		},
	})
	return pair, nil
}

// ValidateWithoutRotating runs the read-only half of the protocol: verify
// the token, confirm its record is live and its digest matches. It never
// mutates the store and never revokes, which makes it safe for logout.
func (s *Service) ValidateWithoutRotating(ctx context.Context, presented string) (*token.Claims, error) {
	claims, err := s.codec.Verify(presented)
	if err != nil {
		return nil, err
	}
	if claims.Kind != token.KindRefresh {
		return nil, fmt.Errorf("%w: expected a refresh token", autherr.ErrInvalidTokenType)
	}

	rec, err := s.store.FindByID(ctx, claims.TokenID())
	if err != nil {
		return nil, fmt.Errorf("look up refresh record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", autherr.ErrNotFoundOrRotated, claims.TokenID())
	}
	if rec.Used {
		return nil, fmt.Errorf("%w: %s", autherr.ErrReplayDetected, rec.TokenID)
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: refresh token", autherr.ErrExpired)
	}
	if subtle.ConstantTimeCompare([]byte(s.codec.Hash(presented)), []byte(rec.TokenHash)) != 1 {
		return nil, fmt.Errorf("%w: %s", autherr.ErrTamperedToken, rec.TokenID)
	}
	return claims, nil
}

// revokeChain contains a suspicious lineage. Revocation failures are logged
// but do not mask the original security error.
func (s *Service) revokeChain(ctx context.Context, chainID, userID, cause string) {
	if chainID == "" {
		return
	}
	s.metrics.ChainsRevokedTotal.WithLabelValues(cause).Inc()
	if err := s.store.RevokeChain(ctx, chainID); err != nil {
		s.logger.WithError(err).WithField("chain_id", chainID).
			Error("failed to revoke rotation chain")
		return
	}
	s.audit.Emit(ctx, audit.Event{
		Type:        audit.EventTypeSecurityChainRevoked,
		Severity:    audit.SeverityWarning,
		ActorUserID: userID,
		Message:     "rotation chain revoked",
		Details:     map[string]interface{}{"chain_id": chainID, "cause": cause},
	})
}

// emitRotationFailure reports a failed rotation with a redacted structural
// summary of the presented token. Raw token material never reaches audit.
func (s *Service) emitRotationFailure(ctx context.Context, claims *token.Claims, client ClientContext, cause error) {
	details := map[string]interface{}{
		"error_class": errorClass(cause),
		"ip_address":  client.IPAddress,
	}
	event := audit.Event{
		Type:     audit.EventTypeSecurityRotationError,
		Severity: audit.SeverityWarning,
		Message:  "refresh-token rotation failed",
		Details:  details,
	}
	if claims != nil {
		event.ActorUserID = claims.UserID()
		event.TokenID = claims.TokenID()
		details["token_kind"] = string(claims.Kind)
		details["chain_id"] = claims.ChainID
	}
	if autherr.IsSuspicious(cause) {
		event.Severity = audit.SeverityCritical
	}
	s.audit.Emit(ctx, event)
}

func errorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case autherr.IsSuspicious(err):
		return "suspicious"
	case autherr.IsAuthentication(err):
		return "authentication"
	default:
		return "internal"
	}
}
