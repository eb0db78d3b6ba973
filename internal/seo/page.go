package seo

import (
	"fmt"
	"strings"

	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/nav"
)

const descriptionLimit = 160

// Site identifies the storefront in page metadata.
type Site struct {
	BaseURL     string
	Name        string
	TwitterSite string
}

func (s Site) abs(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(s.BaseURL, "/") + path
}

// ForItem builds the metadata of an item detail page. The canonical link always points at the
// hierarchical URL when the item has a category.
func ForItem(site Site, item domain.MediaItem) Meta {
	canonical := site.abs(nav.DetailURL(item))
	description := Summarize(item.Description, descriptionLimit)
	if description == "" {
		description = fmt.Sprintf("Download %s for free on %s.", item.Title, site.Name)
	}
	crumbs := nav.Breadcrumbs(item)
	items := make([]BreadcrumbItem, 0, len(crumbs))
	for _, c := range crumbs {
		items = append(items, BreadcrumbItem{Name: c.Label, Item: site.abs(c.Href)})
	}

	twitterCard := "summary"
	if item.ThumbnailURL != "" {
		twitterCard = "summary_large_image"
	}
	return Meta{
		Title:       fmt.Sprintf("%s | %s", item.Title, site.Name),
		Description: description,
		Canonical:   canonical,
		OG: OpenGraph{
			Title:       item.Title,
			Description: description,
			Image:       item.ThumbnailURL,
			Type:        openGraphType(item.Category),
			URL:         canonical,
			SiteName:    site.Name,
		},
		Twitter: Twitter{Card: twitterCard, Site: site.TwitterSite, Image: item.ThumbnailURL},
		JSONLD: []string{
			JSON(MediaObject(MediaObjectInput{
				Name:         item.Title,
				Description:  description,
				URL:          canonical,
				ThumbnailURL: item.ThumbnailURL,
				ContentURL:   item.DownloadURL,
				Creator:      item.Creator,
				Category:     item.Category,
				Published:    item.CreatedAt,
				Downloads:    item.Downloads,
			})),
			JSON(BreadcrumbList(items)),
		},
	}
}

// ForListing builds the metadata of a listing view. Filtered views canonicalize to the
// category page and are kept out of the index when a search is applied.
func ForListing(site Site, f nav.Filters) Meta {
	f = f.Normalized()
	title := "Free media"
	if f.Category != domain.CategoryAll {
		title = "Free " + strings.ToLower(nav.CategoryLabel(f.Category))
	}
	if f.Search != "" {
		title = fmt.Sprintf("%q in %s", f.Search, strings.ToLower(title))
	}
	meta := Meta{
		Title:       fmt.Sprintf("%s | %s", title, site.Name),
		Description: fmt.Sprintf("Browse and download %s on %s.", strings.ToLower(title), site.Name),
		Canonical:   site.abs(nav.CategoryURL(f.Category)),
		OG: OpenGraph{
			Title:    title,
			Type:     "website",
			URL:      site.abs(nav.ListingURL(f)),
			SiteName: site.Name,
		},
		Twitter: Twitter{Card: "summary", Site: site.TwitterSite},
		JSONLD:  []string{JSON(WebSite(site.Name, site.abs("/"), site.abs("/browse?q=")))},
	}
	if f.Search != "" {
		meta.Robots = "noindex,follow"
	}
	return meta
}

func openGraphType(category string) string {
	switch mediaSchemaType(category) {
	case "VideoObject":
		return "video.other"
	case "AudioObject":
		return "music.song"
	default:
		return "website"
	}
}
