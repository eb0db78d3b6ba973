package mediaapi

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/platform/pagination"
)

// Catalog is the in-memory media collection behind the development API.
type Catalog struct {
	mu    sync.RWMutex
	items []domain.MediaItem
	byID  map[string]int
}

// NewCatalog indexes items. Later duplicates of an id are ignored.
func NewCatalog(items []domain.MediaItem) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(items))}
	for _, item := range items {
		if _, dup := c.byID[item.ID]; dup || strings.TrimSpace(item.ID) == "" {
			continue
		}
		c.byID[item.ID] = len(c.items)
		c.items = append(c.items, item)
	}
	return c
}

type catalogFile struct {
	Items []domain.MediaItem `yaml:"items"`
}

// LoadCatalog reads a YAML catalog file of the form `items: [...]`.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mediaapi: read catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("mediaapi: parse catalog %s: %w", path, err)
	}
	return NewCatalog(file.Items), nil
}

var (
	generatedCategories = []string{"video", "audio", "images", "sound-effects"}
	generatedSubjects   = []string{"Ocean", "Forest", "City", "Rain", "Desert", "Mountain", "River", "Night Sky", "Market", "Harbor"}
	generatedKinds      = map[string][]string{
		"video":         {"Timelapse", "Drone Footage", "Slow Motion"},
		"audio":         {"Ambience", "Loop", "Theme"},
		"images":        {"Panorama", "Close-up", "Aerial Photo"},
		"sound-effects": {"Whoosh", "Footsteps", "Impact"},
	}
	generatedCreators = []string{"Mika", "Jonas", "Aiyana", "Ravi", "Lea"}
)

// GenerateCatalog builds n deterministic items. Every eleventh item has no category, which
// keeps a legacy-only URL around for testing.
func GenerateCatalog(n int, seed uint64) *Catalog {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]domain.MediaItem, 0, n)
	for i := 1; i <= n; i++ {
		category := generatedCategories[(i-1)%len(generatedCategories)]
		subject := generatedSubjects[rng.IntN(len(generatedSubjects))]
		kinds := generatedKinds[category]
		kind := kinds[rng.IntN(len(kinds))]
		id := fmt.Sprintf("%d", i)
		item := domain.MediaItem{
			ID:           id,
			Title:        fmt.Sprintf("%s %s", subject, kind),
			Category:     category,
			Description:  fmt.Sprintf("A free **%s** %s.\n\nLicensed for personal and commercial use.", strings.ToLower(subject), strings.ToLower(kind)),
			ThumbnailURL: fmt.Sprintf("https://cdn.freemedia.example/thumbs/%s.jpg", id),
			Creator:      generatedCreators[rng.IntN(len(generatedCreators))],
			Views:        int64(rng.IntN(50000)),
			Downloads:    int64(rng.IntN(5000)),
			CreatedAt:    base.Add(time.Duration(i) * 6 * time.Hour),
		}
		if i%11 == 0 {
			item.Category = ""
		}
		items = append(items, item)
	}
	return NewCatalog(items)
}

// Len reports the number of items.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Item looks an item up by id.
func (c *Catalog) Item(id string) (domain.MediaItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byID[id]
	if !ok {
		return domain.MediaItem{}, false
	}
	return c.items[idx], true
}

// Query filters, sorts and pages the catalog. It returns the page items and the total match count.
func (c *Catalog) Query(q domain.MediaQuery) ([]domain.MediaItem, int) {
	c.mu.RLock()
	matches := make([]domain.MediaItem, 0, len(c.items))
	category := strings.ToLower(strings.TrimSpace(q.Category))
	search := strings.ToLower(strings.TrimSpace(q.Search))
	for _, item := range c.items {
		if category != "" && category != domain.CategoryAll && strings.ToLower(item.Category) != category {
			continue
		}
		if search != "" && !matchesSearch(item, search) {
			continue
		}
		matches = append(matches, item)
	}
	c.mu.RUnlock()

	sortItems(matches, domain.ParseMediaSort(string(q.Sort)))
	params := pagination.Params{Page: q.Page, PageSize: q.PageSize}
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = pagination.DefaultPageSize
	}
	start, end := params.Window(len(matches))
	page := make([]domain.MediaItem, end-start)
	copy(page, matches[start:end])
	return page, len(matches)
}

func matchesSearch(item domain.MediaItem, needle string) bool {
	for _, field := range []string{item.Title, item.Description, item.Creator} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func sortItems(items []domain.MediaItem, order domain.MediaSort) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch order {
		case domain.MediaSortPopular:
			if a.Downloads != b.Downloads {
				return a.Downloads > b.Downloads
			}
		case domain.MediaSortViews:
			if a.Views != b.Views {
				return a.Views > b.Views
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
