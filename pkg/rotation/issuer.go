// Package rotation implements single-use refresh-token rotation with replay
// detection. A refresh token is consumed by exactly one successful rotation;
// presenting it again revokes its entire rotation chain.
package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/drivelinehq/driveline/pkg/identity"
	"github.com/drivelinehq/driveline/pkg/token"
	"github.com/drivelinehq/driveline/pkg/tokenstore"
)

// Issuer mints access/refresh pairs and persists the refresh record. It is
// the only writer of new refresh-token records: login and rotation both go
// through it.
type Issuer struct {
	codec *token.Codec
	store tokenstore.Store
	now   func() time.Time
}

// NewIssuer creates an issuer over the codec and token store.
func NewIssuer(codec *token.Codec, store tokenstore.Store) *Issuer {
	return &Issuer{codec: codec, store: store, now: time.Now}
}

// WithClock overrides the issuer's time source, for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// IssuePair signs a new access/refresh pair for the user and persists the
// refresh record. An empty chainID starts a fresh rotation chain; otherwise
// the new refresh token joins the existing lineage.
func (i *Issuer) IssuePair(ctx context.Context, user *identity.User, chainID string) (*token.Pair, error) {
	if chainID == "" {
		chainID = token.NewChainID()
	}

	access, accessClaims, err := i.codec.IssueAccess(user.ID, user.Role, user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshClaims, err := i.codec.IssueRefresh(user.ID, user.Role, user.TenantID, chainID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	rec := &tokenstore.Record{
		TokenID:   refreshClaims.TokenID(),
		UserID:    user.ID,
		ChainID:   chainID,
		TokenHash: i.codec.Hash(refresh),
		ExpiresAt: refreshClaims.ExpiresAt.Time,
		CreatedAt: i.now().UTC(),
	}
	if err := i.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist refresh record: %w", err)
	}

	return &token.Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessTokenID:    accessClaims.TokenID(),
		RefreshTokenID:   refreshClaims.TokenID(),
		ChainID:          chainID,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}
