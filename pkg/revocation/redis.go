package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	tokenKeyPrefix = "revoked:token:"
	userKeyPrefix  = "revoked:user:"
)

// RedisRegistry implements Registry on Redis for multi-node deployments.
// Entry expiry rides on Redis key TTLs, so Sweep has nothing to reclaim and
// lookups see entries disappear at exactly their natural expiry.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry creates a Redis-backed registry from a Redis URL.
func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRegistry{client: client}, nil
}

// NewRedisRegistryFromClient wraps an existing client, for tests.
func NewRedisRegistryFromClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// RevokeAccessToken blacklists a single token id until its natural expiry.
func (r *RedisRegistry) RevokeAccessToken(ctx context.Context, tokenID, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, tokenKeyPrefix+tokenID, reason, ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// RevokeAllForUser inserts a user-wildcard entry. A later wildcard never
// shortens an earlier one's coverage, matching the in-memory backend.
func (r *RedisRegistry) RevokeAllForUser(ctx context.Context, userID, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := userKeyPrefix + userID
	// TTL returns a negative duration for a missing key, so any live entry
	// with more coverage wins.
	if current, err := r.client.TTL(ctx, key).Result(); err == nil && current > ttl {
		return nil
	}
	if err := r.client.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist user tokens: %w", err)
	}
	return nil
}

// IsBlacklisted checks the specific-token key and the user wildcard in one
// round trip.
func (r *RedisRegistry) IsBlacklisted(ctx context.Context, tokenID, userID string) (bool, error) {
	keys := []string{tokenKeyPrefix + tokenID}
	if userID != "" {
		keys = append(keys, userKeyPrefix+userID)
	}
	n, err := r.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist lookup failed: %w", err)
	}
	return n > 0, nil
}

// Sweep is a no-op: Redis evicts expired keys itself.
func (r *RedisRegistry) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}

// Ping checks Redis connectivity.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
