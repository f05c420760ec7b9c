package models

import "time"

// RawPage is the ephemeral output of an Ingestor, consumed immediately by the content cache
type RawPage struct {
	URL         string    `json:"url"`
	FinalURL    string    `json:"final_url,omitempty"` // after redirects
	Title       string    `json:"title"`
	Content     string    `json:"content"` // markdown
	ContentType string    `json:"content_type"`
	StatusCode  int       `json:"status_code"`
	Links       []string  `json:"links,omitempty"` // absolute links found on the page
	FetchedAt   time.Time `json:"fetched_at"`
}

// CachedPage is a content-addressed cache entry keyed by URL.
//
// The summary is valid only while SummaryContentHash equals ContentHash and
// PromptHash equals the summarizer's current prompt hash.
type CachedPage struct {
	URL                string    `json:"url"`
	SourceID           string    `json:"source_id" badgerhold:"index"`
	Title              string    `json:"title"`
	ContentHash        string    `json:"content_hash" badgerhold:"index"`
	Content            string    `json:"content"`
	NormalizedLength   int       `json:"normalized_length"`
	WorthSummarizing   bool      `json:"worth_summarizing"`
	Summary            string    `json:"summary,omitempty"`
	Embedding          []float32 `json:"embedding,omitempty"`
	PromptHash         string    `json:"prompt_hash,omitempty"`
	SummaryContentHash string    `json:"summary_content_hash,omitempty"`
	LastFetchedAt      time.Time `json:"last_fetched_at"`
	CreatedAt          time.Time `json:"created_at"`
}

// HasValidSummary reports whether the stored summary was produced from the
// current content under promptHash
func (p *CachedPage) HasValidSummary(promptHash string) bool {
	return p.Summary != "" &&
		p.PromptHash == promptHash &&
		p.SummaryContentHash == p.ContentHash
}

// Summary is the output of the summarizer for one page
type Summary struct {
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	PromptHash string    `json:"prompt_hash"`
}
