package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultAPIBaseURL       = "http://localhost:8080"
	defaultAPITimeout       = 10 * time.Second
	defaultCatalogSize      = 60
	defaultSiteURL          = "https://freemedia.example"
	defaultSiteName         = "FreeMedia"
	defaultPageSize         = 12
	defaultScrollTolerance  = 24
	defaultSettleDelay      = 300 * time.Millisecond
	defaultScrollThrottle   = 150 * time.Millisecond
	defaultHistoryThreshold = 2
	defaultTransferDelay    = 800 * time.Millisecond
	defaultPopoutGrace      = 3 * time.Second
	defaultSnapshotBackend  = SnapshotBackendMemory
	defaultRedisAddr        = "localhost:6379"
	defaultSnapshotTTL      = 30 * time.Minute

	// SnapshotBackendMemory keeps listing snapshots in process memory.
	SnapshotBackendMemory = "memory"
	// SnapshotBackendRedis keeps listing snapshots in redis, scoped per session.
	SnapshotBackendRedis = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	API       APIConfig
	Site      SiteConfig
	Listing   ListingConfig
	Detail    DetailConfig
	Download  DownloadConfig
	Snapshots SnapshotConfig
}

// ServerConfig configures the development media API server.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// APIConfig points the engine at a media API and configures the dev catalog.
type APIConfig struct {
	BaseURL     string
	Timeout     time.Duration
	CatalogFile string
	CatalogSize int
	// BareArray makes the dev server answer listings with a bare JSON array.
	BareArray bool
}

// SiteConfig is used for canonical links and page metadata.
type SiteConfig struct {
	BaseURL string
	Name    string
}

// ListingConfig tunes pagination and scroll restoration.
type ListingConfig struct {
	PageSize        int
	ScrollTolerance int
	SettleDelay     time.Duration
	ScrollThrottle  time.Duration
}

// DetailConfig tunes canonical URL rewriting.
type DetailConfig struct {
	// HistoryThreshold is the history depth at or below which a redirect replaces instead of pushes.
	HistoryThreshold int
}

// DownloadConfig configures the download gate.
type DownloadConfig struct {
	TransferDelay time.Duration
	PopoutGrace   time.Duration
	PopoutURLs    []string
}

// SnapshotConfig selects the listing snapshot backend.
type SnapshotConfig struct {
	Backend       string
	RedisAddr     string
	RedisDB       int
	RedisPassword string
	TTL           time.Duration
}

// SecretResolver resolves references to external secrets.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration by combining defaults, .env overrides, environment
// variables and explicit overrides.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "NAV_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "NAV_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "NAV_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "NAV_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		API: APIConfig{
			BaseURL:     strings.TrimRight(stringWithDefault(lookup, "NAV_API_BASE_URL", defaultAPIBaseURL), "/"),
			Timeout:     durationWithDefault(lookup, "NAV_API_TIMEOUT", defaultAPITimeout),
			CatalogFile: stringWithDefault(lookup, "NAV_API_CATALOG_FILE", ""),
			CatalogSize: intWithDefault(lookup, "NAV_API_CATALOG_SIZE", defaultCatalogSize),
			BareArray:   boolWithDefault(lookup, "NAV_API_BARE_ARRAY", false),
		},
		Site: SiteConfig{
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "NAV_SITE_BASE_URL", defaultSiteURL), "/"),
			Name:    stringWithDefault(lookup, "NAV_SITE_NAME", defaultSiteName),
		},
		Listing: ListingConfig{
			PageSize:        intWithDefault(lookup, "NAV_LISTING_PAGE_SIZE", defaultPageSize),
			ScrollTolerance: intWithDefault(lookup, "NAV_LISTING_SCROLL_TOLERANCE", defaultScrollTolerance),
			SettleDelay:     durationWithDefault(lookup, "NAV_LISTING_SETTLE_DELAY", defaultSettleDelay),
			ScrollThrottle:  durationWithDefault(lookup, "NAV_LISTING_SCROLL_THROTTLE", defaultScrollThrottle),
		},
		Detail: DetailConfig{
			HistoryThreshold: intWithDefault(lookup, "NAV_DETAIL_HISTORY_THRESHOLD", defaultHistoryThreshold),
		},
		Download: DownloadConfig{
			TransferDelay: durationWithDefault(lookup, "NAV_DOWNLOAD_TRANSFER_DELAY", defaultTransferDelay),
			PopoutGrace:   durationWithDefault(lookup, "NAV_DOWNLOAD_POPOUT_GRACE", defaultPopoutGrace),
			PopoutURLs:    csvWithDefault(lookup, "NAV_DOWNLOAD_POPOUT_URLS"),
		},
		Snapshots: SnapshotConfig{
			Backend:       strings.ToLower(stringWithDefault(lookup, "NAV_SNAPSHOT_BACKEND", defaultSnapshotBackend)),
			RedisAddr:     stringWithDefault(lookup, "NAV_REDIS_ADDR", defaultRedisAddr),
			RedisDB:       intWithDefault(lookup, "NAV_REDIS_DB", 0),
			RedisPassword: stringWithDefault(lookup, "NAV_REDIS_PASSWORD", ""),
			TTL:           durationWithDefault(lookup, "NAV_SNAPSHOT_TTL", defaultSnapshotTTL),
		},
	}

	password, err := resolveSecret(ctx, cfg.Snapshots.RedisPassword, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Snapshots.RedisPassword = password

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: trimmed, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, trimmed)
	if err != nil {
		return "", &SecretError{Ref: trimmed, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.API.BaseURL == "" {
		missing = append(missing, "API.BaseURL")
	}
	if cfg.API.CatalogSize < 0 {
		missing = append(missing, "API.CatalogSize")
	}
	if cfg.Listing.PageSize <= 0 {
		missing = append(missing, "Listing.PageSize")
	}
	if cfg.Listing.ScrollTolerance < 0 {
		missing = append(missing, "Listing.ScrollTolerance")
	}
	if cfg.Listing.SettleDelay <= 0 {
		missing = append(missing, "Listing.SettleDelay")
	}
	if cfg.Detail.HistoryThreshold < 1 {
		missing = append(missing, "Detail.HistoryThreshold")
	}
	if cfg.Download.TransferDelay < 0 {
		missing = append(missing, "Download.TransferDelay")
	}
	switch cfg.Snapshots.Backend {
	case SnapshotBackendMemory:
	case SnapshotBackendRedis:
		if strings.TrimSpace(cfg.Snapshots.RedisAddr) == "" {
			missing = append(missing, "Snapshots.RedisAddr")
		}
	default:
		missing = append(missing, "Snapshots.Backend")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
