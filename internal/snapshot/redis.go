package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultSessionTTL bounds how long an abandoned session's snapshots survive in redis.
const DefaultSessionTTL = 30 * time.Minute

// RedisBackend scopes session values to one browsing session in a shared redis.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisBackend returns a backend storing keys under "nav:{session}:". Every write refreshes
// the key's TTL.
func NewRedisBackend(client redis.UniversalClient, session string, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisBackend{client: client, prefix: "nav:" + session + ":", ttl: ttl}
}

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

// Set implements Backend.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.prefix+key, value, r.ttl).Err()
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
