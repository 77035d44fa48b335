// Package revocation provides the fast-path denial of tokens ahead of their
// natural expiry: an access-token blacklist with TTL-bounded entries and a
// fail-closed refresh-token revocation check backed by the token store.
package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/drivelinehq/driveline/pkg/observability"
)

// Entry is one blacklist record. TokenID is empty for a user-wildcard entry.
type Entry struct {
	TokenID   string
	UserID    string
	Reason    string
	ExpiresAt time.Time
}

// Registry is the access-token blacklist. Entries are always bounded by the
// revoked token's remaining lifetime, so the structure cannot grow past the
// set of currently-live tokens.
type Registry interface {
	// RevokeAccessToken blacklists a single token id for ttl.
	RevokeAccessToken(ctx context.Context, tokenID, reason string, ttl time.Duration) error

	// RevokeAllForUser inserts a user-wildcard entry covering every access
	// token the user currently holds.
	RevokeAllForUser(ctx context.Context, userID, reason string, ttl time.Duration) error

	// IsBlacklisted reports whether the token id, or a wildcard for its
	// user, is present and unexpired. Expired entries are treated as absent
	// and purged lazily.
	IsBlacklisted(ctx context.Context, tokenID, userID string) (bool, error)

	// Sweep removes expired entries and returns how many were dropped. The
	// lazy purge in IsBlacklisted keeps lookups correct even if Sweep never
	// runs; Sweep only reclaims memory.
	Sweep(ctx context.Context) (int, error)
}

// MemoryRegistry is a single-process Registry. Readers take the read lock;
// lazy purging of expired entries is deferred to writers and the sweep so a
// lookup never blocks behind map surgery.
type MemoryRegistry struct {
	mu       sync.RWMutex
	byToken  map[string]Entry
	byUser   map[string]Entry
	now      func() time.Time
	interval time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// MemoryOption customizes a MemoryRegistry.
type MemoryOption func(*MemoryRegistry)

// WithClock overrides the registry's time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRegistry) { r.now = now }
}

// WithSweepInterval sets how often the background sweep runs.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(r *MemoryRegistry) { r.interval = d }
}

// WithMetrics attaches metrics.
func WithMetrics(m *observability.Metrics) MemoryOption {
	return func(r *MemoryRegistry) { r.metrics = m }
}

// NewMemoryRegistry creates an in-memory registry. Call Start to run the
// background sweep and Stop on shutdown; the registry is fully usable
// without either.
func NewMemoryRegistry(logger *observability.Logger, opts ...MemoryOption) *MemoryRegistry {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	r := &MemoryRegistry{
		byToken:  make(map[string]Entry),
		byUser:   make(map[string]Entry),
		now:      time.Now,
		interval: time.Minute,
		logger:   logger,
		metrics:  observability.NewNopMetrics(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RevokeAccessToken blacklists a single token id.
func (r *MemoryRegistry) RevokeAccessToken(ctx context.Context, tokenID, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil // token already past its natural expiry
	}
	entry := Entry{TokenID: tokenID, Reason: reason, ExpiresAt: r.now().Add(ttl)}
	r.mu.Lock()
	r.byToken[tokenID] = entry
	r.metrics.BlacklistSize.Set(float64(len(r.byToken) + len(r.byUser)))
	r.mu.Unlock()
	return nil
}

// RevokeAllForUser inserts a user-wildcard entry. A later wildcard never
// shortens an earlier one's coverage.
func (r *MemoryRegistry) RevokeAllForUser(ctx context.Context, userID, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	expires := r.now().Add(ttl)
	r.mu.Lock()
	if existing, ok := r.byUser[userID]; !ok || expires.After(existing.ExpiresAt) {
		r.byUser[userID] = Entry{UserID: userID, Reason: reason, ExpiresAt: expires}
	}
	r.metrics.BlacklistSize.Set(float64(len(r.byToken) + len(r.byUser)))
	r.mu.Unlock()
	return nil
}

// IsBlacklisted checks the specific-token entry and the user wildcard.
func (r *MemoryRegistry) IsBlacklisted(ctx context.Context, tokenID, userID string) (bool, error) {
	now := r.now()

	r.mu.RLock()
	tokenEntry, tokenOK := r.byToken[tokenID]
	var userEntry Entry
	var userOK bool
	if userID != "" {
		userEntry, userOK = r.byUser[userID]
	}
	r.mu.RUnlock()

	// Hit counting happens at the middleware layer so every backend
	// reports the same way.
	if tokenOK && tokenEntry.ExpiresAt.After(now) {
		return true, nil
	}
	if userOK && userEntry.ExpiresAt.After(now) {
		return true, nil
	}

	// Opportunistically drop whatever we just saw expired.
	if (tokenOK && !tokenEntry.ExpiresAt.After(now)) || (userOK && !userEntry.ExpiresAt.After(now)) {
		r.mu.Lock()
		if e, ok := r.byToken[tokenID]; ok && !e.ExpiresAt.After(now) {
			delete(r.byToken, tokenID)
		}
		if userID != "" {
			if e, ok := r.byUser[userID]; ok && !e.ExpiresAt.After(now) {
				delete(r.byUser, userID)
			}
		}
		r.metrics.BlacklistSize.Set(float64(len(r.byToken) + len(r.byUser)))
		r.mu.Unlock()
	}
	return false, nil
}

// Sweep removes every expired entry.
func (r *MemoryRegistry) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	removed := 0
	r.mu.Lock()
	for id, e := range r.byToken {
		if !e.ExpiresAt.After(now) {
			delete(r.byToken, id)
			removed++
		}
	}
	for id, e := range r.byUser {
		if !e.ExpiresAt.After(now) {
			delete(r.byUser, id)
			removed++
		}
	}
	r.metrics.BlacklistSize.Set(float64(len(r.byToken) + len(r.byUser)))
	r.mu.Unlock()
	return removed, nil
}

// Len returns the current number of entries.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken) + len(r.byUser)
}

// Start launches the background sweep goroutine.
func (r *MemoryRegistry) Start() {
	r.started = true
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, _ := r.Sweep(context.Background())
				if removed > 0 {
					r.logger.WithField("removed", removed).Debug("blacklist sweep")
					r.metrics.SweepDeletionsTotal.WithLabelValues("blacklist").Add(float64(removed))
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweep and waits for it to exit. Safe to
// call when Start never ran.
func (r *MemoryRegistry) Stop() {
	if !r.started {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
