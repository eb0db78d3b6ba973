package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Listing.PageSize != defaultPageSize {
		t.Errorf("unexpected page size: %d", cfg.Listing.PageSize)
	}
	if cfg.Detail.HistoryThreshold != 2 {
		t.Errorf("unexpected history threshold: %d", cfg.Detail.HistoryThreshold)
	}
	if cfg.Snapshots.Backend != SnapshotBackendMemory {
		t.Errorf("expected memory snapshots, got %s", cfg.Snapshots.Backend)
	}
	if len(cfg.Download.PopoutURLs) != 0 {
		t.Errorf("expected no pop-out urls, got %v", cfg.Download.PopoutURLs)
	}
	if cfg.API.BareArray {
		t.Errorf("expected enveloped listings by default")
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"NAV_SERVER_PORT":              "9090",
		"NAV_API_BASE_URL":             "http://media.internal:8081/",
		"NAV_API_BARE_ARRAY":           "yes",
		"NAV_SITE_NAME":                "Free Stock",
		"NAV_LISTING_PAGE_SIZE":        "24",
		"NAV_LISTING_SETTLE_DELAY":     "450ms",
		"NAV_DETAIL_HISTORY_THRESHOLD": "3",
		"NAV_DOWNLOAD_POPOUT_URLS":     "https://a.example/1, https://b.example/2,",
		"NAV_SNAPSHOT_BACKEND":         "Redis",
		"NAV_REDIS_ADDR":               "redis:6379",
		"NAV_REDIS_DB":                 "4",
		"NAV_REDIS_PASSWORD":           "secret://redis/password",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://redis/password" {
			return "hunter2", nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port %s", cfg.Server.Port)
	}
	if cfg.API.BaseURL != "http://media.internal:8081" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.API.BaseURL)
	}
	if !cfg.API.BareArray {
		t.Errorf("expected bare array mode")
	}
	if cfg.Site.Name != "Free Stock" {
		t.Errorf("unexpected site name %s", cfg.Site.Name)
	}
	if cfg.Listing.PageSize != 24 || cfg.Listing.SettleDelay != 450*time.Millisecond {
		t.Errorf("unexpected listing config %+v", cfg.Listing)
	}
	if cfg.Detail.HistoryThreshold != 3 {
		t.Errorf("unexpected threshold %d", cfg.Detail.HistoryThreshold)
	}
	if len(cfg.Download.PopoutURLs) != 2 || cfg.Download.PopoutURLs[1] != "https://b.example/2" {
		t.Errorf("unexpected pop-out urls %v", cfg.Download.PopoutURLs)
	}
	if cfg.Snapshots.Backend != SnapshotBackendRedis || cfg.Snapshots.RedisDB != 4 {
		t.Errorf("unexpected snapshot config %+v", cfg.Snapshots)
	}
	if cfg.Snapshots.RedisPassword != "hunter2" {
		t.Errorf("expected resolved password, got %q", cfg.Snapshots.RedisPassword)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport NAV_SERVER_PORT=7070\nNAV_SITE_NAME=\"Dot Env\"\nNAV_LISTING_PAGE_SIZE=6\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"NAV_LISTING_PAGE_SIZE": "9"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from .env, got %s", cfg.Server.Port)
	}
	if cfg.Site.Name != "Dot Env" {
		t.Errorf("expected quoted value unwrapped, got %q", cfg.Site.Name)
	}
	if cfg.Listing.PageSize != 9 {
		t.Errorf("expected env map to win over .env, got %d", cfg.Listing.PageSize)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	env := map[string]string{
		"NAV_LISTING_PAGE_SIZE":        "0",
		"NAV_DETAIL_HISTORY_THRESHOLD": "0",
		"NAV_SNAPSHOT_BACKEND":         "dynamo",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := verr.Fields()
	want := []string{"Listing.PageSize", "Detail.HistoryThreshold", "Snapshots.Backend"}
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields %v", fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("unexpected fields %v", fields)
		}
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{"NAV_REDIS_PASSWORD": "secret://redis/password"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected unwrap to resolver error, got %v", serr.Err)
	}
}
