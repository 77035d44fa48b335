package revocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelinehq/driveline/pkg/observability"
)

func TestMemoryRegistry_RevokeAndLookup(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry(observability.NewNopLogger())

	require.NoError(t, r.RevokeAccessToken(ctx, "tok-1", "logout", time.Minute))

	hit, err := r.IsBlacklisted(ctx, "tok-1", "u1")
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = r.IsBlacklisted(ctx, "tok-2", "u1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryRegistry_UserWildcard(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry(observability.NewNopLogger())

	require.NoError(t, r.RevokeAllForUser(ctx, "u1", "password_change", time.Minute))

	// Any token id for that user is denied.
	hit, err := r.IsBlacklisted(ctx, "never-seen-token", "u1")
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = r.IsBlacklisted(ctx, "never-seen-token", "u2")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryRegistry_WildcardTTLElapses(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	r := NewMemoryRegistry(observability.NewNopLogger(), WithClock(func() time.Time { return now }))

	require.NoError(t, r.RevokeAllForUser(ctx, "u1", "admin_revoke", 15*time.Minute))

	hit, _ := r.IsBlacklisted(ctx, "any", "u1")
	assert.True(t, hit)

	now = now.Add(16 * time.Minute)
	hit, _ = r.IsBlacklisted(ctx, "any", "u1")
	assert.False(t, hit, "wildcard must stop matching after its TTL")
}

func TestMemoryRegistry_ExpiredEntryPurgedLazily(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	r := NewMemoryRegistry(observability.NewNopLogger(), WithClock(func() time.Time { return now }))

	require.NoError(t, r.RevokeAccessToken(ctx, "tok-1", "logout", time.Minute))
	assert.Equal(t, 1, r.Len())

	now = now.Add(2 * time.Minute)
	hit, err := r.IsBlacklisted(ctx, "tok-1", "")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0, r.Len(), "lookup should drop the expired entry")
}

func TestMemoryRegistry_ZeroTTLIgnored(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry(observability.NewNopLogger())

	require.NoError(t, r.RevokeAccessToken(ctx, "tok-1", "logout", 0))
	assert.Equal(t, 0, r.Len(), "a token past its natural expiry needs no entry")
}

func TestMemoryRegistry_WildcardNeverShortened(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	r := NewMemoryRegistry(observability.NewNopLogger(), WithClock(func() time.Time { return now }))

	require.NoError(t, r.RevokeAllForUser(ctx, "u1", "first", time.Hour))
	require.NoError(t, r.RevokeAllForUser(ctx, "u1", "second", time.Minute))

	now = now.Add(30 * time.Minute)
	hit, _ := r.IsBlacklisted(ctx, "any", "u1")
	assert.True(t, hit, "the longer wildcard must survive a shorter re-insert")
}

func TestMemoryRegistry_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	r := NewMemoryRegistry(observability.NewNopLogger(), WithClock(func() time.Time { return now }))

	require.NoError(t, r.RevokeAccessToken(ctx, "short", "a", time.Minute))
	require.NoError(t, r.RevokeAccessToken(ctx, "long", "b", time.Hour))
	require.NoError(t, r.RevokeAllForUser(ctx, "u1", "c", time.Minute))

	now = now.Add(10 * time.Minute)
	removed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, r.Len())
}

func TestMemoryRegistry_ConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry(observability.NewNopLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.RevokeAccessToken(ctx, "tok", "race", time.Minute)
			}
		}(i)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = r.IsBlacklisted(ctx, "tok", "u1")
			}
		}(i)
	}
	wg.Wait()

	hit, err := r.IsBlacklisted(ctx, "tok", "")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestMemoryRegistry_StartStop(t *testing.T) {
	r := NewMemoryRegistry(observability.NewNopLogger(), WithSweepInterval(time.Millisecond))
	r.Start()
	time.Sleep(5 * time.Millisecond)
	r.Stop()

	// Stop without Start must not hang.
	NewMemoryRegistry(observability.NewNopLogger()).Stop()
}
