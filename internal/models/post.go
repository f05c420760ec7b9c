package models

import (
	"sort"
	"strings"
	"time"
)

// Post field names used in diffs and in ExtractedPost.Absent
const (
	FieldTitle        = "title"
	FieldShortSummary = "short_summary"
	FieldDescription  = "description"
	FieldContactInfo  = "contact_info"
	FieldSchedule     = "schedule"
	FieldTags         = "tags"
)

// EnrichableFields are filled by the agentic enrichment pass when missing
var EnrichableFields = []string{FieldContactInfo, FieldSchedule}

// PostFields is the editable content shared by extracted and canonical posts
type PostFields struct {
	Title        string   `json:"title"`
	ShortSummary string   `json:"short_summary"`
	Description  string   `json:"description"`
	ContactInfo  string   `json:"contact_info,omitempty"`
	Schedule     string   `json:"schedule,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// ExtractedPost is an intermediate extraction candidate. It is never persisted
// on its own; the sync engine always promotes it to a SyncProposal.
type ExtractedPost struct {
	PostFields
	PageIDs []string `json:"page_ids"`         // urls of contributing cached pages
	Absent  []string `json:"absent,omitempty"` // fields enrichment could not fill
}

// MissingFields returns the enrichable fields that are empty
func (p *ExtractedPost) MissingFields() []string {
	var missing []string
	for _, f := range EnrichableFields {
		if strings.TrimSpace(p.Field(f)) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// EmbeddingText is the text embedded for similarity comparison
func (f *PostFields) EmbeddingText() string {
	parts := []string{f.Title, f.ShortSummary, f.Description}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// Field returns a text field by name; tags are comma-joined
func (f *PostFields) Field(name string) string {
	switch name {
	case FieldTitle:
		return f.Title
	case FieldShortSummary:
		return f.ShortSummary
	case FieldDescription:
		return f.Description
	case FieldContactInfo:
		return f.ContactInfo
	case FieldSchedule:
		return f.Schedule
	case FieldTags:
		return strings.Join(f.Tags, ", ")
	}
	return ""
}

// SetField sets a field by name; tags are split on commas
func (f *PostFields) SetField(name, value string) {
	switch name {
	case FieldTitle:
		f.Title = value
	case FieldShortSummary:
		f.ShortSummary = value
	case FieldDescription:
		f.Description = value
	case FieldContactInfo:
		f.ContactInfo = value
	case FieldSchedule:
		f.Schedule = value
	case FieldTags:
		f.Tags = SplitTags(value)
	}
}

// AllFields lists every field name in display order
var AllFields = []string{FieldTitle, FieldShortSummary, FieldDescription, FieldContactInfo, FieldSchedule, FieldTags}

// SplitTags splits a comma separated list, trimming and dropping empties
func SplitTags(value string) []string {
	var tags []string
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// MergeFields folds b into a: the longer value wins for text fields, tags are unioned
func MergeFields(a, b PostFields) PostFields {
	out := a
	for _, name := range []string{FieldTitle, FieldShortSummary, FieldDescription, FieldContactInfo, FieldSchedule} {
		if len(strings.TrimSpace(b.Field(name))) > len(strings.TrimSpace(out.Field(name))) {
			out.SetField(name, b.Field(name))
		}
	}
	out.Tags = UnionStrings(a.Tags, b.Tags)
	return out
}

// UnionStrings returns the sorted set union of the inputs
func UnionStrings(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// PostStatus is the lifecycle of a canonical post
type PostStatus string

const (
	PostStatusActive  PostStatus = "active"
	PostStatusMerged  PostStatus = "merged"  // folded into another post by an approved merge
	PostStatusDeleted PostStatus = "deleted" // soft-deleted
)

// Post is a canonical record. It is mutated only by approving a SyncProposal.
type Post struct {
	ID string `json:"id"`
	PostFields
	Status     PostStatus `json:"status" badgerhold:"index"`
	SourceIDs  []string   `json:"source_ids"` // contributing page urls
	Embedding  []float32  `json:"embedding,omitempty"`
	MergedInto string     `json:"merged_into,omitempty"`
	Version    int        `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
