package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
)

// SocialProfile describes how to read public posts of one platform
type SocialProfile struct {
	URLTemplate  string // profile url, %s is the handle
	PostSelector string // elements holding one post each
	MaxPosts     int
}

// DefaultSocialProfiles covers the platforms models.DetectSocialProfile recognises
var DefaultSocialProfiles = map[string]SocialProfile{
	"facebook":  {URLTemplate: "https://www.facebook.com/%s", PostSelector: "div[role='article']", MaxPosts: 20},
	"instagram": {URLTemplate: "https://www.instagram.com/%s/", PostSelector: "article, div._a9zs", MaxPosts: 20},
	"x":         {URLTemplate: "https://x.com/%s", PostSelector: "article[data-testid='tweet'] div[data-testid='tweetText']", MaxPosts: 30},
	"linkedin":  {URLTemplate: "https://www.linkedin.com/%s/posts/", PostSelector: "div.feed-shared-update-v2__description, div.update-components-text", MaxPosts: 20},
}

// SocialIngestor renders a social profile and joins its visible posts into one page
type SocialIngestor struct {
	renderer  Renderer
	profiles  map[string]SocialProfile
	wait      time.Duration
	processor *ContentProcessor
	logger    arbor.ILogger
}

func NewSocialIngestor(renderer Renderer, profiles map[string]SocialProfile, wait time.Duration, logger arbor.ILogger) *SocialIngestor {
	if profiles == nil {
		profiles = DefaultSocialProfiles
	}
	return &SocialIngestor{
		renderer:  renderer,
		profiles:  profiles,
		wait:      wait,
		processor: NewContentProcessor(logger),
		logger:    logger,
	}
}

func (s *SocialIngestor) Fetch(ctx context.Context, rawURL string) (*models.RawPage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, models.NewInvalidURLError(rawURL, err)
	}
	platform, handle, ok := models.DetectSocialProfile(u)
	if !ok {
		return nil, models.NewInvalidURLError(rawURL, fmt.Errorf("not a social profile url"))
	}
	profile, ok := s.profiles[platform]
	if !ok {
		return nil, models.NewInvalidURLError(rawURL, fmt.Errorf("platform %s is not supported", platform))
	}

	profileURL := fmt.Sprintf(profile.URLTemplate, handle)
	html, finalURL, err := s.renderer.Render(ctx, profileURL, s.wait)
	if err != nil {
		return nil, models.NewNetworkError(rawURL, 0, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("parse %s profile: %w", platform, err))
	}

	posts := extractPosts(doc, profile)
	title := fmt.Sprintf("%s (%s)", handle, platform)

	var content string
	if len(posts) > 0 {
		content = "# " + title + "\n\n" + strings.Join(posts, "\n\n---\n\n")
	} else {
		// Layout changed or login wall: keep whatever text the page shows
		s.logger.Warn().
			Str("platform", platform).
			Str("handle", handle).
			Msg("No posts matched the platform selector, using page text")
		processed, err := s.processor.ProcessHTML(html, profileURL)
		if err != nil {
			return nil, models.Permanent(err)
		}
		content = processed.Markdown
	}

	s.logger.Debug().
		Str("platform", platform).
		Str("handle", handle).
		Int("posts", len(posts)).
		Msg("Social profile fetched")

	return &models.RawPage{
		URL:         rawURL,
		FinalURL:    finalURL,
		Title:       title,
		Content:     content,
		ContentType: "text/html",
		StatusCode:  200,
		FetchedAt:   time.Now(),
	}, nil
}

func extractPosts(doc *goquery.Document, profile SocialProfile) []string {
	var posts []string
	seen := make(map[string]bool)
	doc.Find(profile.PostSelector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text != "" && !seen[text] {
			seen[text] = true
			posts = append(posts, text)
		}
		return profile.MaxPosts <= 0 || len(posts) < profile.MaxPosts
	})
	return posts
}
