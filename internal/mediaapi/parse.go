package mediaapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/freemedia/storefront/internal/domain"
)

// parseListing accepts both the enveloped form {data, total, pageSize} and a bare item array.
// For the envelope hasMore is page*pageSize < total; for a bare array a full page implies more.
func parseListing(body []byte, q domain.MediaQuery) (domain.MediaPage, error) {
	if !gjson.ValidBytes(body) {
		return domain.MediaPage{}, fmt.Errorf("%w: listing is not JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(body)

	var (
		rows      gjson.Result
		enveloped bool
	)
	switch {
	case root.IsArray():
		rows = root
	case root.IsObject() && root.Get("data").IsArray():
		rows = root.Get("data")
		enveloped = true
	default:
		return domain.MediaPage{}, fmt.Errorf("%w: listing has neither data nor array body", ErrMalformed)
	}

	items := make([]domain.MediaItem, 0, len(rows.Array()))
	for _, row := range rows.Array() {
		item, ok := itemFromResult(row)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	page := domain.MediaPage{Items: items, Page: q.Page, PageSize: q.PageSize}
	if enveloped {
		if ps := root.Get("pageSize"); ps.Exists() && ps.Int() > 0 {
			page.PageSize = int(ps.Int())
		}
		if total := root.Get("total"); total.Exists() {
			page.Total = int(total.Int())
			page.HasMore = page.Page*page.PageSize < page.Total
			return page, nil
		}
	}
	page.Total = (page.Page-1)*page.PageSize + len(items)
	page.HasMore = len(rows.Array()) >= page.PageSize
	return page, nil
}

// parseItem accepts a bare item or one wrapped in {data}.
func parseItem(body []byte) (domain.MediaItem, error) {
	if !gjson.ValidBytes(body) {
		return domain.MediaItem{}, fmt.Errorf("%w: item is not JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(body)
	if data := root.Get("data"); data.IsObject() {
		root = data
	}
	item, ok := itemFromResult(root)
	if !ok {
		return domain.MediaItem{}, fmt.Errorf("%w: item without id", ErrMalformed)
	}
	return item, nil
}

func itemFromResult(r gjson.Result) (domain.MediaItem, bool) {
	if !r.IsObject() {
		return domain.MediaItem{}, false
	}
	id := strings.TrimSpace(firstString(r, "id", "_id"))
	if id == "" {
		return domain.MediaItem{}, false
	}
	category := r.Get("category")
	if category.IsObject() {
		category = category.Get("slug")
	}
	return domain.MediaItem{
		ID:           id,
		Title:        strings.TrimSpace(r.Get("title").String()),
		Category:     strings.TrimSpace(category.String()),
		Description:  r.Get("description").String(),
		ThumbnailURL: firstString(r, "thumbnailUrl", "thumbnail"),
		DownloadURL:  firstString(r, "downloadUrl", "fileUrl"),
		Creator:      firstString(r, "creator", "creator.name", "author"),
		Views:        r.Get("views").Int(),
		Downloads:    r.Get("downloads").Int(),
		CreatedAt:    parseTime(firstString(r, "createdAt", "created_at")),
	}, true
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.JSON && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func parseTime(val string) time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, val); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
