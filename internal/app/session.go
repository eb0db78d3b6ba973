package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/freemedia/storefront/internal/platform/config"
	"github.com/freemedia/storefront/internal/snapshot"
)

// Session is one browsing session's snapshot storage.
type Session struct {
	ID     string
	Store  *snapshot.Store
	client *redis.Client
	writes *snapshot.WriteBehind
}

// NewSessionID returns a fresh sortable session identifier.
func NewSessionID() string {
	return ulid.Make().String()
}

// OpenSession builds the snapshot store selected by cfg. Redis-backed sessions are pinged up front
// so a misconfigured address fails at startup. Their writes go through a write-behind mirror and
// never block the caller on redis.
func OpenSession(ctx context.Context, cfg config.SnapshotConfig, id string, logger *zap.Logger) (*Session, error) {
	if id == "" {
		id = NewSessionID()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session_id", id))
	switch cfg.Backend {
	case "", config.SnapshotBackendMemory:
		return &Session{ID: id, Store: snapshot.NewStore(snapshot.NewMemoryBackend(), logger)}, nil
	case config.SnapshotBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("app: connect snapshot redis %s: %w", cfg.RedisAddr, err)
		}
		writes := snapshot.NewWriteBehind(snapshot.NewRedisBackend(client, id, cfg.TTL), logger)
		return &Session{ID: id, Store: snapshot.NewStore(writes, logger), client: client, writes: writes}, nil
	default:
		return nil, fmt.Errorf("app: unknown snapshot backend %q", cfg.Backend)
	}
}

// Close flushes queued snapshot writes and releases the backend connection.
func (s *Session) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	s.writes.Close()
	return s.client.Close()
}
