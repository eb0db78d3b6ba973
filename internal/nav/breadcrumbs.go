package nav

import (
	"strings"

	"github.com/freemedia/storefront/internal/domain"
)

// Crumb represents a breadcrumb entry.
type Crumb struct {
	Href   string
	Label  string
	Active bool
}

// Breadcrumbs builds the trail Home > Browse > Category > Item for a detail page.
// Rules:
// - Always start with Home and Browse
// - The category crumb is omitted when the item carries none
// - The item crumb is the active one
func Breadcrumbs(item domain.MediaItem) []Crumb {
	crumbs := []Crumb{
		{Href: "/", Label: "Home"},
		{Href: browsePrefix, Label: "Browse"},
	}
	if category := strings.TrimSpace(item.Category); category != "" {
		crumbs = append(crumbs, Crumb{Href: CategoryURL(category), Label: titleFromSegment(category)})
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = item.ID
	}
	crumbs = append(crumbs, Crumb{Href: DetailURL(item), Label: title, Active: true})
	return crumbs
}

func titleFromSegment(seg string) string {
	if seg == "" {
		return seg
	}
	// replace hyphens/underscores with spaces and capitalize first letter
	s := strings.ReplaceAll(seg, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	r := []rune(s)
	r[0] = toUpper(r[0])
	return string(r)
}

func toUpper(r rune) rune {
	// ASCII only is sufficient for slugs here
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

// CategoryLabel is the display label of a category slug.
func CategoryLabel(category string) string {
	if category == "" || category == "all" {
		return "All media"
	}
	return titleFromSegment(category)
}
