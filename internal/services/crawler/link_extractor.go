package crawler

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/gleaner/internal/models"
)

// skippedExtensions are links to binary assets that are never crawled
var skippedExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico",
	".css", ".js", ".zip", ".gz", ".mp3", ".mp4", ".mov", ".avi",
	".woff", ".woff2", ".ttf", ".xml", ".json",
}

// ExtractLinks returns the deduplicated absolute http(s) links of doc in document order
func ExtractLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if shouldSkipLink(href) {
			return
		}
		resolved := resolveURL(href, base)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	})
	return links
}

// shouldSkipLink determines if a link should be skipped during extraction
func shouldSkipLink(href string) bool {
	href = strings.ToLower(strings.TrimSpace(href))
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:", "sms:"} {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	return false
}

// resolveURL resolves href against base, dropping the fragment
func resolveURL(href string, base *url.URL) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}

// SameSiteLinks filters links to crawlable pages on the host of root
func SameSiteLinks(links []string, root *url.URL) []string {
	host := models.NormalizeHost(root.Host)
	var out []string
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil || models.NormalizeHost(u.Host) != host {
			continue
		}
		if hasSkippedExtension(u.Path) {
			continue
		}
		out = append(out, link)
	}
	return out
}

func hasSkippedExtension(path string) bool {
	path = strings.ToLower(path)
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
