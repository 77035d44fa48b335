package revocation

import (
	"context"
	"time"

	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/tokenstore"
)

// RefreshChecker answers "is this refresh token revoked?" off the durable
// token store. There is no separate blacklist for refresh tokens: absence of
// a record, a used record, or an expired record all mean revoked.
type RefreshChecker struct {
	store  tokenstore.Store
	logger *observability.Logger
	now    func() time.Time
}

// NewRefreshChecker creates a checker over the token store.
func NewRefreshChecker(store tokenstore.Store, logger *observability.Logger) *RefreshChecker {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RefreshChecker{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the checker's time source, for tests.
func (c *RefreshChecker) WithClock(now func() time.Time) *RefreshChecker {
	c.now = now
	return c
}

// IsRefreshRevoked reports whether the refresh token may no longer be used.
// A failed lookup answers revoked=true: when the store cannot be consulted,
// denying a possibly-valid token is recoverable, honoring a possibly-revoked
// one is not.
func (c *RefreshChecker) IsRefreshRevoked(ctx context.Context, tokenID string) bool {
	rec, err := c.store.FindByID(ctx, tokenID)
	if err != nil {
		c.logger.WithError(err).WithField("token_id", tokenID).
			Warn("refresh revocation lookup failed, failing closed")
		return true
	}
	if rec == nil || rec.Used || !rec.ExpiresAt.After(c.now()) {
		return true
	}
	return false
}
