package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelinehq/driveline/pkg/audit"
	"github.com/drivelinehq/driveline/pkg/autherr"
	"github.com/drivelinehq/driveline/pkg/identity"
	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/token"
	"github.com/drivelinehq/driveline/pkg/tokenstore"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// captureSink records audit events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Record(ctx context.Context, event audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) byType(t audit.EventType) []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc   *Service
	codec *token.Codec
	store *tokenstore.MemoryStore
	users *identity.MemoryUserStore
	sink  *captureSink
	user  *identity.User
	now   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now()
	clock := func() time.Time { return now }

	codec, err := token.NewCodec(testSecret, 15*time.Minute, 7*24*time.Hour, token.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	store := tokenstore.NewMemoryStore().WithClock(clock)
	users := identity.NewMemoryUserStore()
	user := &identity.User{
		ID:       "user-1",
		Email:    "kim@example.com",
		Role:     "instructor",
		TenantID: "school-1",
		IsActive: true,
	}
	require.NoError(t, users.Create(context.Background(), user))

	sink := &captureSink{}
	emitter := audit.NewEmitter(sink, observability.NewNopLogger())

	f := &fixture{codec: codec, store: store, users: users, sink: sink, user: user, now: &now}
	f.svc = NewService(codec, store, users, emitter, observability.NewNopLogger(),
		WithClock(func() time.Time { return *f.now }),
	)
	return f
}

func (f *fixture) login(t *testing.T) *token.Pair {
	t.Helper()
	pair, err := f.svc.Issuer().IssuePair(context.Background(), f.user, "")
	require.NoError(t, err)
	return pair
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func TestRotate_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	pair, err := f.svc.Rotate(ctx, first.RefreshToken, ClientContext{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, pair)

	assert.NotEqual(t, first.RefreshToken, pair.RefreshToken)
	assert.Equal(t, first.ChainID, pair.ChainID, "lineage keeps one chain id across rotations")

	// The presented token's record is retired.
	rec, err := f.store.FindByID(ctx, first.RefreshTokenID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Used)

	// The replacement is live.
	rec, err = f.store.FindByID(ctx, pair.RefreshTokenID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Used)

	assert.Len(t, f.sink.byType(audit.EventTypeAuthTokenRefresh), 1)
}

func TestRotate_NewAccessTokenVerifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	pair, err := f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	require.NoError(t, err)

	claims, err := f.codec.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, token.KindAccess, claims.Kind)
	assert.Equal(t, "school-1", claims.TenantID)
}

func TestRotate_ReplayDetected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	second, err := f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	require.NoError(t, err)

	// Scenario B: presenting the original token again is replay.
	_, err = f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	assert.ErrorIs(t, err, autherr.ErrReplayDetected)

	// Replay containment: the chain revocation killed the fresh token too.
	_, err = f.svc.Rotate(ctx, second.RefreshToken, ClientContext{})
	assert.ErrorIs(t, err, autherr.ErrReplayDetected)

	assert.NotEmpty(t, f.sink.byType(audit.EventTypeSecurityReplayDetected))
	assert.NotEmpty(t, f.sink.byType(audit.EventTypeSecurityChainRevoked))
}

func TestRotate_RotateWithNewTokenSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	second, err := f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	require.NoError(t, err)

	third, err := f.svc.Rotate(ctx, second.RefreshToken, ClientContext{})
	require.NoError(t, err)
	assert.Equal(t, first.ChainID, third.ChainID)
}

func TestRotate_ConcurrentAttemptsSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	// Scenario C: many goroutines present the same refresh token.
	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners, replays := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, autherr.ErrReplayDetected), errors.Is(err, autherr.ErrNotFoundOrRotated):
			replays++
		default:
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent rotation may succeed")
	assert.Equal(t, attempts-1, replays)
}

func TestRotate_ExpiredRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	f.advance(8 * 24 * time.Hour)

	_, err := f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	assert.ErrorIs(t, err, autherr.ErrExpired)
}

func TestRotate_ExpiredRecordDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	// Shrink the record expiry under the JWT expiry so the record path, not
	// the signature path, reports expiry.
	rec, err := f.store.FindByID(ctx, first.RefreshTokenID)
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, rec.TokenID))
	rec.ExpiresAt = f.now.Add(-time.Minute)
	require.NoError(t, f.store.Create(ctx, rec))

	_, err = f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	assert.ErrorIs(t, err, autherr.ErrExpired)

	gone, err := f.store.FindByID(ctx, first.RefreshTokenID)
	require.NoError(t, err)
	assert.Nil(t, gone, "expired record should be deleted on encounter")
}

func TestRotate_AccessTokenRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	_, err := f.svc.Rotate(ctx, first.AccessToken, ClientContext{})
	assert.ErrorIs(t, err, autherr.ErrInvalidTokenType)
}

func TestRotate_MissingRecordRevokesChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	second, err := f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	require.NoError(t, err)

	// Simulate a swept or foreign record.
	require.NoError(t, f.store.Delete(ctx, second.RefreshTokenID))

	_, err = f.svc.Rotate(ctx, second.RefreshToken, ClientContext{})
	assert.ErrorIs(t, err, autherr.ErrNotFoundOrRotated)

	// Precautionary containment revokes the remainder of the lineage.
	assert.NotEmpty(t, f.sink.byType(audit.EventTypeSecurityChainRevoked))
}

func TestRotate_TamperedHashRevokesChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	// Corrupt the stored digest.
	rec, err := f.store.FindByID(ctx, first.RefreshTokenID)
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, rec.TokenID))
	rec.TokenHash = "0000000000000000000000000000000000000000000000000000000000000000"
	require.NoError(t, f.store.Create(ctx, rec))

	_, err = f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	assert.ErrorIs(t, err, autherr.ErrTamperedToken)
	assert.NotEmpty(t, f.sink.byType(audit.EventTypeSecurityTokenTampered))
}

func TestRotate_UnknownUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	// Orphan the record by pointing it at a user that no longer exists.
	rec, err := f.store.FindByID(ctx, first.RefreshTokenID)
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, rec.TokenID))
	rec.UserID = "gone"
	require.NoError(t, f.store.Create(ctx, rec))

	_, err = f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	assert.ErrorIs(t, err, autherr.ErrUserNotFound)
}

func TestRotate_GarbageToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Rotate(context.Background(), "garbage", ClientContext{})
	assert.ErrorIs(t, err, autherr.ErrMalformed)
}

func TestRotate_FailureEmitsSecurityEvent(t *testing.T) {
	f := newFixture(t)
	first := f.login(t)

	_, err := f.svc.Rotate(context.Background(), first.RefreshToken, ClientContext{})
	require.NoError(t, err)
	_, err = f.svc.Rotate(context.Background(), first.RefreshToken, ClientContext{})
	require.Error(t, err)

	events := f.sink.byType(audit.EventTypeSecurityRotationError)
	require.NotEmpty(t, events)
	assert.Equal(t, "suspicious", events[0].Details["error_class"])
	// The event carries structure, never the raw token.
	assert.NotContains(t, events[0].Details, "token")
}

func TestValidateWithoutRotating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	claims, err := f.svc.ValidateWithoutRotating(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, first.RefreshTokenID, claims.TokenID())

	// Validation must not consume the token.
	_, err = f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	assert.NoError(t, err)
}

func TestValidateWithoutRotating_UsedToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.login(t)

	_, err := f.svc.Rotate(ctx, first.RefreshToken, ClientContext{})
	require.NoError(t, err)

	_, err = f.svc.ValidateWithoutRotating(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrReplayDetected)

	// Read-only: no chain revocation happened.
	assert.Empty(t, f.sink.byType(audit.EventTypeSecurityChainRevoked))
}

func TestIssuePair_DistinctChainsPerLogin(t *testing.T) {
	f := newFixture(t)
	a := f.login(t)
	b := f.login(t)
	assert.NotEqual(t, a.ChainID, b.ChainID, "each login starts its own lineage")
}
