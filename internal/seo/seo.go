// Package seo builds page metadata and applies it to the document head for the lifetime of a
// rendered page.
package seo

import "strconv"

// Head entry keys.
const (
	KeyCanonical   = "link:canonical"
	KeyDescription = "name:description"
	KeyRobots      = "name:robots"
	keyJSONLD      = "script:ld+json#"
)

type OpenGraph struct {
	Title       string
	Description string
	Image       string
	Type        string
	URL         string
	SiteName    string
}

type Twitter struct {
	Card  string
	Site  string
	Image string
}

type Meta struct {
	Title       string
	Description string
	Canonical   string
	Robots      string
	OG          OpenGraph
	Twitter     Twitter
	// JSONLD holds serialized schema.org documents.
	JSONLD []string
}

// Tags flattens the metadata into keyed head entries. Empty values are omitted.
func (m Meta) Tags() map[string]string {
	tags := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			tags[key] = value
		}
	}
	set(KeyCanonical, m.Canonical)
	set(KeyDescription, m.Description)
	set(KeyRobots, m.Robots)
	set("property:og:title", m.OG.Title)
	set("property:og:description", m.OG.Description)
	set("property:og:image", m.OG.Image)
	set("property:og:type", m.OG.Type)
	set("property:og:url", m.OG.URL)
	set("property:og:site_name", m.OG.SiteName)
	set("name:twitter:card", m.Twitter.Card)
	set("name:twitter:site", m.Twitter.Site)
	set("name:twitter:image", m.Twitter.Image)
	for i, doc := range m.JSONLD {
		set(keyJSONLD+strconv.Itoa(i), doc)
	}
	return tags
}
