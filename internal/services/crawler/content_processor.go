// -----------------------------------------------------------------------
// Content Processor - main content isolation and markdown conversion
// -----------------------------------------------------------------------

package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/net/html"
)

// readabilityMinWords is the smallest readability article accepted before
// falling back to the whole-page conversion
const readabilityMinWords = 50

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// ContentProcessor handles HTML content processing and markdown conversion
type ContentProcessor struct {
	logger arbor.ILogger
}

// NewContentProcessor creates a new content processor
func NewContentProcessor(logger arbor.ILogger) *ContentProcessor {
	return &ContentProcessor{
		logger: logger,
	}
}

// ProcessedContent represents the result of processing HTML content
type ProcessedContent struct {
	Title    string   `json:"title"`
	Markdown string   `json:"markdown"`
	Links    []string `json:"links"` // absolute http(s) links, fragment stripped
}

// ProcessHTML extracts the title, links and main content (as markdown) of an HTML page
func (p *ContentProcessor) ProcessHTML(htmlContent string, sourceURL string) (*ProcessedContent, error) {
	startTime := time.Now()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, _ := url.Parse(sourceURL)
	result := &ProcessedContent{
		Title: p.extractTitle(doc),
		Links: ExtractLinks(doc, base),
	}

	converter := md.NewConverter(hostOf(base), true, nil)
	if markdown, ok := p.readableMarkdown(htmlContent, base, converter); ok {
		result.Markdown = markdown
	} else {
		result.Markdown = p.convertToMarkdown(doc, converter)
	}

	p.logger.Debug().
		Str("source_url", sourceURL).
		Str("title", result.Title).
		Int("content_size", len(htmlContent)).
		Int("markdown_size", len(result.Markdown)).
		Int("links_found", len(result.Links)).
		Dur("process_time", time.Since(startTime)).
		Msg("HTML content processed")

	return result, nil
}

// ProcessText handles text/plain and text/markdown bodies. The title is the
// first markdown heading when present.
func (p *ContentProcessor) ProcessText(text string) *ProcessedContent {
	text = cleanMarkdown(text)
	result := &ProcessedContent{Markdown: text}
	for _, line := range strings.SplitN(text, "\n", 10) {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			result.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
			break
		}
	}
	return result
}

// readableMarkdown isolates the main article with readability and converts it
func (p *ContentProcessor) readableMarkdown(htmlContent string, base *url.URL, converter *md.Converter) (string, bool) {
	article, err := readability.FromReader(strings.NewReader(htmlContent), base)
	if err != nil || article.Node == nil {
		return "", false
	}

	markdown := cleanMarkdown(converter.Convert(selectionOf(article.Node)))
	if len(strings.Fields(markdown)) < readabilityMinWords {
		return "", false
	}
	return markdown, true
}

func selectionOf(node *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(node).Selection
}

// extractTitle extracts the page title from various sources
func (p *ContentProcessor) extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && ogTitle != "" {
		return strings.TrimSpace(ogTitle)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	if twitterTitle, exists := doc.Find("meta[name='twitter:title']").Attr("content"); exists && twitterTitle != "" {
		return strings.TrimSpace(twitterTitle)
	}
	return "Untitled"
}

// convertToMarkdown converts the main content area of the page
func (p *ContentProcessor) convertToMarkdown(doc *goquery.Document, converter *md.Converter) string {
	doc.Find("script, style, noscript, nav, footer, aside, iframe").Remove()

	content := doc.Find("main, article, .content, .main-content, #content, #main").First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	return cleanMarkdown(converter.Convert(content))
}

func cleanMarkdown(markdown string) string {
	lines := strings.Split(markdown, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	markdown = strings.Join(lines, "\n")
	return strings.TrimSpace(excessNewlines.ReplaceAllString(markdown, "\n\n"))
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}
