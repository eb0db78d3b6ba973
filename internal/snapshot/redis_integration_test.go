//go:build integration

package snapshot

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"

	"github.com/freemedia/storefront/internal/nav"
)

func TestRedisBackendRoundTrip(t *testing.T) {
	addr := os.Getenv("NAV_REDIS_ADDR")
	if addr == "" {
		t.Skip("NAV_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	backend := NewRedisBackend(client, ulid.Make().String(), time.Minute)
	store := NewStore(backend, nil)
	fp := FingerprintOf(nav.Filters{Category: "video"})

	if err := store.Save(ctx, fp, PageSnapshot{Page: 3, HasMore: true, ScrollPosition: 12}); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, ok := store.Load(ctx, fp)
	if !ok || snap.Page != 3 || snap.ScrollPosition != 12 {
		t.Fatalf("unexpected snapshot %+v (ok=%t)", snap, ok)
	}
	if err := store.Delete(ctx, fp); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := backend.Get(ctx, fp.Key()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
