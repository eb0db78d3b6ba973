package domain

import (
	"time"
)

// MediaSort indicates the ordering used for media listings.
type MediaSort string

const (
	// MediaSortLatest orders media by creation time (newest first).
	MediaSortLatest MediaSort = "latest"
	// MediaSortPopular orders media by download count (higher first).
	MediaSortPopular MediaSort = "popular"
	// MediaSortViews orders media by view count (higher first).
	MediaSortViews MediaSort = "views"
)

// ParseMediaSort maps a raw query value onto a supported sort, falling back to latest.
func ParseMediaSort(raw string) MediaSort {
	switch MediaSort(raw) {
	case MediaSortPopular, MediaSortViews:
		return MediaSort(raw)
	default:
		return MediaSortLatest
	}
}

// CategoryAll is the listing category that matches every item.
const CategoryAll = "all"

// MediaItem is a downloadable media entry as exposed by the media API.
type MediaItem struct {
	ID           string    `json:"id" yaml:"id"`
	Title        string    `json:"title" yaml:"title"`
	Category     string    `json:"category,omitempty" yaml:"category"`
	Description  string    `json:"description,omitempty" yaml:"description"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty" yaml:"thumbnail_url"`
	DownloadURL  string    `json:"downloadUrl,omitempty" yaml:"download_url"`
	Creator      string    `json:"creator,omitempty" yaml:"creator"`
	Views        int64     `json:"views" yaml:"views"`
	Downloads    int64     `json:"downloads" yaml:"downloads"`
	CreatedAt    time.Time `json:"createdAt" yaml:"created_at"`
}

// MediaQuery captures listing filters plus the requested page.
type MediaQuery struct {
	Category string
	Search   string
	Sort     MediaSort
	Page     int
	PageSize int
}

// MediaPage packages one page of listing results.
type MediaPage struct {
	Items    []MediaItem
	Page     int
	PageSize int
	Total    int
	HasMore  bool
}
