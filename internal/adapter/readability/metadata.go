package readability

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Metadata is the page level information found in <head>.
type Metadata struct {
	Title       string
	Description string
	SiteName    string
	Type        string
	Image       string
	FeedURLs    []string
}

// ParseMetadata reads title, description and site name from Open Graph,
// Twitter and plain meta tags, in that order of preference.
func ParseMetadata(doc *goquery.Document) Metadata {
	tags := make(map[string]string)
	doc.Find("meta").Each(func(i int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		property, _ := s.Attr("property")
		content, _ := s.Attr("content")
		key := strings.ToLower(name)
		if property != "" {
			key = strings.ToLower(property)
		}
		content = strings.TrimSpace(content)
		if key != "" && content != "" {
			if _, exists := tags[key]; !exists {
				tags[key] = content
			}
		}
	})

	md := Metadata{
		Title:       pick(tags["og:title"], tags["twitter:title"], strings.TrimSpace(doc.Find("title").First().Text())),
		Description: pick(tags["og:description"], tags["twitter:description"], tags["description"]),
		SiteName:    pick(tags["og:site_name"], tags["application-name"]),
		Type:        tags["og:type"],
		Image:       pick(tags["og:image"], tags["twitter:image"]),
	}

	doc.Find(`link[rel="alternate"]`).Each(func(i int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		href, _ := s.Attr("href")
		typ = strings.ToLower(strings.TrimSpace(typ))
		if href != "" && (typ == "application/rss+xml" || typ == "application/atom+xml") {
			md.FeedURLs = append(md.FeedURLs, strings.TrimSpace(href))
		}
	})
	return md
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
