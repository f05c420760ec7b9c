package models

import "time"

// Fact is something that happened successfully. The event stream carries facts
// only; failures are returned as errors by the action that failed and recorded
// on the job, never published.
type Fact interface {
	FactType() string
}

const (
	FactPageCached       = "page_cached"
	FactPageSummarized   = "page_summarized"
	FactPostsExtracted   = "posts_extracted"
	FactProposalStaged   = "proposal_staged"
	FactProposalDecided  = "proposal_decided"
	FactSourceDiscovered = "source_discovered"
	FactJobCompleted     = "job_completed"
)

type PageCached struct {
	URL         string
	SourceID    string
	ContentHash string
	Changed     bool // content hash differs from the previous fetch
}

func (PageCached) FactType() string { return FactPageCached }

type PageSummarized struct {
	URL         string
	ContentHash string
	Reused      bool // copied from a page with identical content
}

func (PageSummarized) FactType() string { return FactPageSummarized }

type PostsExtracted struct {
	SourceID string
	Count    int
	PageURLs []string
}

func (PostsExtracted) FactType() string { return FactPostsExtracted }

type ProposalStaged struct {
	ProposalID string
	BatchID    string
	Kind       ProposalKind
}

func (ProposalStaged) FactType() string { return FactProposalStaged }

type ProposalDecided struct {
	ProposalID string
	Status     ProposalStatus
	PostID     string
}

func (ProposalDecided) FactType() string { return FactProposalDecided }

type SourceDiscovered struct {
	SourceID string
	URL      string
	Query    string
}

func (SourceDiscovered) FactType() string { return FactSourceDiscovered }

type JobCompleted struct {
	JobID    string
	Kind     JobKind
	SourceID string
	Duration time.Duration
}

func (JobCompleted) FactType() string { return FactJobCompleted }

// Stage outcomes returned to collaborators

type DiscoveryResult struct {
	QueriesExecuted int      `json:"queries_executed"`
	WebsitesCreated int      `json:"websites_created"`
	SourceIDs       []string `json:"source_ids,omitempty"`
}

type CrawlResult struct {
	SourceID        string   `json:"source_id"`
	PagesCrawled    int      `json:"pages_crawled"`
	PagesSummarized int      `json:"pages_summarized"`
	PagesSkipped    int      `json:"pages_skipped"`
	PageURLs        []string `json:"page_urls"`
}

type ExtractResult struct {
	SourceID        string          `json:"source_id"`
	NarrativesCount int             `json:"narratives_count"`
	PageURLs        []string        `json:"page_urls"`
	Posts           []ExtractedPost `json:"posts"`
}

type SyncResult struct {
	SourceID    string `json:"source_id"`
	BatchID     string `json:"batch_id"`
	PostsSynced int    `json:"posts_synced"`
	Creates     int    `json:"creates"`
	Updates     int    `json:"updates"`
	Merged      int    `json:"merged"` // candidates folded together in phase 1
}

type CleanupResult struct {
	BatchID       string `json:"batch_id"`
	PairsCompared int    `json:"pairs_compared"`
	JudgeCalls    int    `json:"judge_calls"`
	ProposalsMade int    `json:"proposals_made"`
}
