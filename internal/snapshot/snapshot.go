// Package snapshot persists listing page state per filter fingerprint for the lifetime of a
// browsing session.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/nav"
)

// RestoreMarkerKey holds the fingerprint of the listing the user left by activating an item.
const RestoreMarkerKey = "listing:shouldRestore"

const keyPrefix = "listing:"

var (
	// ErrNotFound is returned by backends when a key has no value.
	ErrNotFound = errors.New("snapshot: not found")

	folder = cases.Fold()
)

// Fingerprint identifies a listing view. Two filter sets that differ only in letter case or
// surrounding whitespace share a fingerprint.
type Fingerprint struct {
	Category string `json:"category"`
	Search   string `json:"search"`
	Sort     string `json:"sort"`
}

// FingerprintOf normalizes filters into a fingerprint.
func FingerprintOf(f nav.Filters) Fingerprint {
	f = f.Normalized()
	return Fingerprint{
		Category: folder.String(f.Category),
		Search:   folder.String(f.Search),
		Sort:     folder.String(string(f.Sort)),
	}
}

// Key is the session storage key for the fingerprint. Fields are query-escaped so a ':' inside
// one of them cannot collide with another fingerprint.
func (fp Fingerprint) Key() string {
	return keyPrefix + url.QueryEscape(fp.Category) + ":" + url.QueryEscape(fp.Search) + ":" + url.QueryEscape(fp.Sort)
}

func (fp Fingerprint) String() string { return fp.Key() }

// PageSnapshot is the persisted state of a listing view. Page is the next page to request.
type PageSnapshot struct {
	Items          []domain.MediaItem `json:"items"`
	Page           int                `json:"page"`
	HasMore        bool               `json:"hasMore"`
	ScrollPosition int                `json:"scrollPosition"`
}

// Backend stores raw session values.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store reads and writes listing snapshots and the restore marker.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// NewStore wraps a backend.
func NewStore(backend Backend, logger *zap.Logger) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// Load returns the snapshot for fp. Unreadable entries are dropped and reported as absent.
func (s *Store) Load(ctx context.Context, fp Fingerprint) (PageSnapshot, bool) {
	raw, err := s.backend.Get(ctx, fp.Key())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("snapshot load failed", zap.String("key", fp.Key()), zap.Error(err))
		}
		return PageSnapshot{}, false
	}
	var snap PageSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.logger.Warn("discarding corrupt snapshot", zap.String("key", fp.Key()), zap.Error(err))
		_ = s.backend.Delete(ctx, fp.Key())
		return PageSnapshot{}, false
	}
	if snap.Items == nil {
		snap.Items = []domain.MediaItem{}
	}
	return snap, true
}

// Save replaces the snapshot for fp.
func (s *Store) Save(ctx context.Context, fp Fingerprint, snap PageSnapshot) error {
	if snap.Items == nil {
		snap.Items = []domain.MediaItem{}
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", fp.Key(), err)
	}
	if err := s.backend.Set(ctx, fp.Key(), raw); err != nil {
		return fmt.Errorf("snapshot: save %s: %w", fp.Key(), err)
	}
	return nil
}

// SaveScroll updates only the scroll offset of an existing snapshot. It is a no-op when no
// snapshot exists for fp.
func (s *Store) SaveScroll(ctx context.Context, fp Fingerprint, y int) error {
	snap, ok := s.Load(ctx, fp)
	if !ok {
		return nil
	}
	if snap.ScrollPosition == y {
		return nil
	}
	snap.ScrollPosition = y
	return s.Save(ctx, fp, snap)
}

// Delete removes the snapshot for fp.
func (s *Store) Delete(ctx context.Context, fp Fingerprint) error {
	if err := s.backend.Delete(ctx, fp.Key()); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("snapshot: delete %s: %w", fp.Key(), err)
	}
	return nil
}

// MarkRestore records that the listing for fp was left towards a detail page.
func (s *Store) MarkRestore(ctx context.Context, fp Fingerprint) error {
	raw, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("snapshot: encode marker: %w", err)
	}
	if err := s.backend.Set(ctx, RestoreMarkerKey, raw); err != nil {
		return fmt.Errorf("snapshot: save marker: %w", err)
	}
	return nil
}

// ConsumeRestore returns the restore marker and clears it when it names fp. A marker for other
// filters stays in place for the listing it belongs to.
func (s *Store) ConsumeRestore(ctx context.Context, fp Fingerprint) (Fingerprint, bool) {
	raw, err := s.backend.Get(ctx, RestoreMarkerKey)
	if err != nil {
		return Fingerprint{}, false
	}

	var marker Fingerprint
	if err := json.Unmarshal(raw, &marker); err != nil || strings.TrimSpace(marker.Sort) == "" {
		s.logger.Warn("discarding corrupt restore marker", zap.Error(err))
		_ = s.backend.Delete(ctx, RestoreMarkerKey)
		return Fingerprint{}, false
	}
	if marker == fp {
		if err := s.backend.Delete(ctx, RestoreMarkerKey); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("restore marker not cleared", zap.Error(err))
		}
	}
	return marker, true
}
