package mediaapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freemedia/storefront/internal/domain"
)

func TestServerRejectsInvalidPagination(t *testing.T) {
	handler := NewServer(GenerateCatalog(5, 1), ServerOptions{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media?pageSize=abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "invalid_query", payload["error"])
	assert.Equal(t, "pageSize", payload["param"])
	assert.NotEmpty(t, payload["request_id"])
}

func TestServerReportsUnknownMedia(t *testing.T) {
	handler := NewServer(GenerateCatalog(5, 1), ServerOptions{})
	for _, path := range []string{"/media/404", "/media/404/download"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		assert.Equal(t, "media_not_found", payload["error"], path)
		assert.Equal(t, "404", payload["media_id"], path)
	}
}

func TestServerHealthAndMetrics(t *testing.T) {
	handler := NewServer(GenerateCatalog(5, 1), ServerOptions{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":5`)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/media/1/download", nil))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `mediaapi_downloads_total{category="video"} 1`)
	assert.Contains(t, body, "mediaapi_http_requests_total")
}

func TestCatalogQueryFiltersAndSorts(t *testing.T) {
	catalog := NewCatalog([]domain.MediaItem{
		{ID: "a", Title: "Rain Loop", Category: "audio", Downloads: 5, Views: 100},
		{ID: "b", Title: "Rain Timelapse", Category: "video", Downloads: 50, Views: 10},
		{ID: "c", Title: "Forest Ambience", Category: "Audio", Downloads: 20, Views: 300},
		{ID: "a", Title: "duplicate"},
	})
	assert.Equal(t, 3, catalog.Len())

	items, total := catalog.Query(domain.MediaQuery{Category: "audio", Sort: domain.MediaSortPopular, Page: 1, PageSize: 10})
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"c", "a"}, ids(items))

	items, total = catalog.Query(domain.MediaQuery{Search: "RAIN", Sort: domain.MediaSortViews, Page: 1, PageSize: 1})
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"a"}, ids(items))
}

func TestGenerateCatalogIsDeterministic(t *testing.T) {
	a := GenerateCatalog(22, 42)
	b := GenerateCatalog(22, 42)
	for _, id := range []string{"1", "11", "22"} {
		x, ok := a.Item(id)
		require.True(t, ok)
		y, _ := b.Item(id)
		assert.Equal(t, x, y)
	}
	uncategorized, _ := a.Item("11")
	assert.Empty(t, uncategorized.Category)
}

func TestLoadCatalogYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := strings.Join([]string{
		"items:",
		"  - id: sea-1",
		"    title: Sea Waves",
		"    category: video",
		"    created_at: 2024-03-01T10:00:00Z",
		"  - id: legacy-2",
		"    title: Old Upload",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())
	item, ok := catalog.Item("sea-1")
	require.True(t, ok)
	assert.Equal(t, "video", item.Category)
	assert.Equal(t, 2024, item.CreatedAt.Year())
}

func ids(items []domain.MediaItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}
