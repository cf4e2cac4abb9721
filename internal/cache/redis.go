package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	respKeyPrefix  = "extdist:resp:"
	scopeKeyPrefix = "extdist:scope:"
)

// Redis is a response cache backed by a Redis instance, for deployments
// running more than one service replica. Alongside each payload it maintains
// a per-scope index set so Invalidate can drop all entries for a
// (slug, license key) pair without scanning the keyspace.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed cache and verifies connectivity.
func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

// Get retrieves a cached payload. Expiry is enforced by Redis key TTLs.
func (c *Redis) Get(ctx context.Context, f Fingerprint) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, respKeyPrefix+f.String()).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return payload, true, nil
}

// Put stores the payload and records its key in the scope index. The index
// TTL is pushed out to at least the entry TTL so it outlives its members.
func (c *Redis) Put(ctx context.Context, f Fingerprint, payload []byte, ttl time.Duration) error {
	respKey := respKeyPrefix + f.String()
	scopeKey := scopeKey(Scope{Slug: f.Slug, LicenseKey: f.LicenseKey})

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, respKey, payload, ttl)
	pipe.SAdd(ctx, scopeKey, respKey)
	pipe.Expire(ctx, scopeKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Invalidate drops every entry recorded under the scope's index set.
func (c *Redis) Invalidate(ctx context.Context, scope Scope) error {
	key := scopeKey(scope)
	members, err := c.client.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	if len(members) == 0 {
		return nil
	}
	keys := append(members, key)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

// Close releases the client connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}

func scopeKey(s Scope) string {
	// Fingerprint the scope members so slug values cannot forge another
	// scope's key via separator injection.
	return scopeKeyPrefix + NewFingerprint("scope", s.Slug, s.LicenseKey).String()
}
