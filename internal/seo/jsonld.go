package seo

import (
	"encoding/json"
	"time"
)

// JSON marshals v to a compact JSON string. It returns an empty string on error.
func JSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// WebSite returns a minimal WebSite schema with optional SearchAction.
func WebSite(name, url, searchActionURL string) map[string]any {
	m := map[string]any{
		"@context": "https://schema.org",
		"@type":    "WebSite",
		"name":     name,
	}
	if url != "" {
		m["url"] = url
	}
	if searchActionURL != "" {
		m["potentialAction"] = map[string]any{
			"@type":       "SearchAction",
			"target":      searchActionURL + "{search_term_string}",
			"query-input": "required name=search_term_string",
		}
	}
	return m
}

// BreadcrumbItem maps name and absolute item URL.
type BreadcrumbItem struct {
	Name string
	Item string
}

// BreadcrumbList builds schema.org BreadcrumbList.
func BreadcrumbList(items []BreadcrumbItem) map[string]any {
	el := make([]map[string]any, 0, len(items))
	for i, it := range items {
		entry := map[string]any{
			"@type":    "ListItem",
			"position": i + 1,
			"name":     it.Name,
		}
		if it.Item != "" {
			entry["item"] = it.Item
		}
		el = append(el, entry)
	}
	return map[string]any{
		"@context":        "https://schema.org",
		"@type":           "BreadcrumbList",
		"itemListElement": el,
	}
}

// MediaObjectInput carries the fields of a media schema payload.
type MediaObjectInput struct {
	Name         string
	Description  string
	URL          string
	ThumbnailURL string
	ContentURL   string
	Creator      string
	Category     string
	Published    time.Time
	Downloads    int64
}

// MediaObject returns a schema.org media payload typed after the category.
func MediaObject(in MediaObjectInput) map[string]any {
	m := map[string]any{
		"@context": "https://schema.org",
		"@type":    mediaSchemaType(in.Category),
		"name":     in.Name,
	}
	if in.Description != "" {
		m["description"] = in.Description
	}
	if in.URL != "" {
		m["url"] = in.URL
	}
	if in.ThumbnailURL != "" {
		m["thumbnailUrl"] = in.ThumbnailURL
	}
	if in.ContentURL != "" {
		m["contentUrl"] = in.ContentURL
	}
	if in.Creator != "" {
		m["creator"] = map[string]any{"@type": "Person", "name": in.Creator}
	}
	if !in.Published.IsZero() {
		m["uploadDate"] = in.Published.UTC().Format(time.RFC3339)
	}
	if in.Downloads > 0 {
		m["interactionStatistic"] = map[string]any{
			"@type":                "InteractionCounter",
			"interactionType":      "https://schema.org/DownloadAction",
			"userInteractionCount": in.Downloads,
		}
	}
	m["isAccessibleForFree"] = true
	return m
}

func mediaSchemaType(category string) string {
	switch category {
	case "video", "videos":
		return "VideoObject"
	case "audio", "music", "sound-effects":
		return "AudioObject"
	case "images", "photos", "image", "photo", "vectors", "illustrations":
		return "ImageObject"
	default:
		return "MediaObject"
	}
}
