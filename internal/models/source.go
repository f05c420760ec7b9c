package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SourceKind distinguishes websites (crawled breadth-first) from social profiles (fetched as one page)
type SourceKind string

const (
	SourceKindWebsite SourceKind = "website"
	SourceKindSocial  SourceKind = "social"
)

// Source is an entity the pipeline crawls. Websites are unique by host, social
// profiles by platform and handle.
type Source struct {
	ID            string     `json:"id"`
	Kind          SourceKind `json:"kind"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Host          string     `json:"host"`
	Platform      string     `json:"platform,omitempty"`
	Handle        string     `json:"handle,omitempty"`
	UniqueKey     string     `json:"unique_key" badgerhold:"index"`
	Active        bool       `json:"active"`
	DiscoveredBy  string     `json:"discovered_by"` // search query, or "manual"
	CreatedAt     time.Time  `json:"created_at"`
	LastCrawledAt time.Time  `json:"last_crawled_at,omitempty"`
}

// socialHosts maps profile hosts to platform names
var socialHosts = map[string]string{
	"facebook.com":   "facebook",
	"m.facebook.com": "facebook",
	"instagram.com":  "instagram",
	"x.com":          "x",
	"twitter.com":    "x",
	"linkedin.com":   "linkedin",
}

// reservedPaths are first path segments that never name a profile
var reservedPaths = map[string]bool{
	"search": true, "hashtag": true, "explore": true, "share": true, "sharer": true,
	"login": true, "intent": true, "home": true, "p": true, "reel": true, "watch": true,
	"groups": true, "events": true, "i": true,
}

// NormalizeHost lower-cases a host and strips a leading "www."
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// DetectSocialProfile reports whether u points at a social profile and returns its platform and handle
func DetectSocialProfile(u *url.URL) (platform, handle string, ok bool) {
	platform, ok = socialHosts[NormalizeHost(u.Host)]
	if !ok {
		return "", "", false
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return "", "", false
	}

	// linkedin.com/company/<handle> and linkedin.com/in/<handle>
	if platform == "linkedin" {
		if len(segments) < 2 || (segments[0] != "company" && segments[0] != "in") {
			return "", "", false
		}
		return platform, segments[0] + "/" + segments[1], true
	}

	first := strings.TrimPrefix(segments[0], "@")
	if reservedPaths[strings.ToLower(first)] || first == "" {
		return "", "", false
	}
	return platform, first, true
}

// NewSourceFromURL builds a website or social source for rawURL
func NewSourceFromURL(id, rawURL, discoveredBy string) (*Source, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("source url %q has no host", rawURL)
	}

	source := &Source{
		ID:           id,
		Host:         NormalizeHost(u.Host),
		Active:       true,
		DiscoveredBy: discoveredBy,
		CreatedAt:    time.Now(),
	}

	if platform, handle, ok := DetectSocialProfile(u); ok {
		source.Kind = SourceKindSocial
		source.Platform = platform
		source.Handle = handle
		source.Name = platform + ":" + handle
		source.URL = fmt.Sprintf("https://%s/%s", u.Host, handle)
		source.UniqueKey = "social:" + platform + ":" + strings.ToLower(handle)
		return source, nil
	}

	source.Kind = SourceKindWebsite
	source.Name = source.Host
	u.Fragment = ""
	u.RawQuery = ""
	if u.Path == "" {
		u.Path = "/"
	}
	source.URL = u.String()
	source.UniqueKey = "website:" + source.Host
	return source, nil
}
