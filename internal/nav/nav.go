package nav

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/freemedia/storefront/internal/domain"
)

const (
	browsePrefix = "/browse"
	legacyPrefix = "/media"
)

// ErrUnknownRoute is returned when a URL maps to neither the listing nor the detail page.
var ErrUnknownRoute = errors.New("nav: unknown route")

// Filters are the listing query-string parameters.
type Filters struct {
	Category string
	Search   string
	Sort     domain.MediaSort
}

// Normalized applies defaults: category "all", empty search, sort "latest".
func (f Filters) Normalized() Filters {
	category := strings.TrimSpace(f.Category)
	if category == "" {
		category = domain.CategoryAll
	}
	return Filters{
		Category: category,
		Search:   strings.TrimSpace(f.Search),
		Sort:     domain.ParseMediaSort(strings.TrimSpace(string(f.Sort))),
	}
}

// RouteKind identifies the page a URL renders.
type RouteKind int

const (
	RouteUnknown RouteKind = iota
	RouteListing
	RouteDetail
)

func (k RouteKind) String() string {
	switch k {
	case RouteListing:
		return "listing"
	case RouteDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// Route is a parsed application location.
type Route struct {
	Kind    RouteKind
	Filters Filters
	// ItemID and Category are populated for detail routes. Category is empty for the legacy form.
	ItemID   string
	Category string
	Path     string
}

// Legacy reports whether a detail route uses the flat /media/:id form.
func (r Route) Legacy() bool {
	return r.Kind == RouteDetail && r.Category == ""
}

// Target is the logical page identity: every listing view shares one target, detail pages are
// keyed by item.
func (r Route) Target() string {
	switch r.Kind {
	case RouteListing:
		return "listing"
	case RouteDetail:
		return "detail:" + r.ItemID
	default:
		return "unknown:" + r.Path
	}
}

// Parse maps a URL (absolute or path+query) onto a route.
//
//	/browse, /browse/:category            listing (query: category, q, sort)
//	/browse/:category/:id                 canonical detail
//	/media/:id                            legacy detail
func Parse(raw string) (Route, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Route{}, fmt.Errorf("nav: parse %q: %w", raw, err)
	}
	clean := path.Clean("/" + strings.TrimPrefix(u.Path, "/"))
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	query := u.Query()

	switch {
	case clean == browsePrefix || (len(parts) == 2 && parts[0] == "browse"):
		f := Filters{
			Category: query.Get("category"),
			Search:   query.Get("q"),
			Sort:     domain.MediaSort(query.Get("sort")),
		}
		if len(parts) == 2 {
			f.Category = unescape(parts[1])
		}
		return Route{Kind: RouteListing, Filters: f.Normalized(), Path: clean}, nil
	case len(parts) == 3 && parts[0] == "browse" && parts[2] != "":
		return Route{Kind: RouteDetail, ItemID: unescape(parts[2]), Category: unescape(parts[1]), Path: clean}, nil
	case len(parts) == 2 && parts[0] == "media" && parts[1] != "":
		return Route{Kind: RouteDetail, ItemID: unescape(parts[1]), Path: clean}, nil
	}
	return Route{Path: clean}, fmt.Errorf("%w: %s", ErrUnknownRoute, clean)
}

// ListingURL renders the listing URL for the filters. Defaults are omitted from the query.
func ListingURL(f Filters) string {
	f = f.Normalized()
	p := browsePrefix
	if f.Category != domain.CategoryAll {
		p += "/" + url.PathEscape(f.Category)
	}
	values := url.Values{}
	if f.Search != "" {
		values.Set("q", f.Search)
	}
	if f.Sort != domain.MediaSortLatest {
		values.Set("sort", string(f.Sort))
	}
	if encoded := values.Encode(); encoded != "" {
		return p + "?" + encoded
	}
	return p
}

// CategoryURL is the listing URL for a single category, or the generic listing when empty.
func CategoryURL(category string) string {
	return ListingURL(Filters{Category: category})
}

// LegacyDetailURL renders the flat /media/:id form.
func LegacyDetailURL(id string) string {
	return legacyPrefix + "/" + url.PathEscape(id)
}

// CanonicalDetailURL renders the hierarchical /browse/:category/:id form.
func CanonicalDetailURL(category, id string) string {
	return browsePrefix + "/" + url.PathEscape(category) + "/" + url.PathEscape(id)
}

// DetailURL prefers the canonical form and falls back to the legacy one when the category is unknown.
func DetailURL(item domain.MediaItem) string {
	if strings.TrimSpace(item.Category) == "" {
		return LegacyDetailURL(item.ID)
	}
	return CanonicalDetailURL(item.Category, item.ID)
}

func unescape(seg string) string {
	if v, err := url.PathUnescape(seg); err == nil {
		return v
	}
	return seg
}
