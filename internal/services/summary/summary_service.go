package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"golang.org/x/sync/singleflight"
)

// instruction is the summarization prompt. Any edit here must come with a
// new summary.prompt_version so stored summaries are regenerated.
const instruction = `Summarize the following web page for a directory of community services and needs.
Describe who runs it, what is offered or requested, where, when and how to get in touch.
Write plain prose, at most 120 words. Do not invent details that are not on the page.`

// PromptHash identifies a prompt version and model pair
func PromptHash(promptVersion, model string) string {
	sum := sha256.Sum256([]byte(promptVersion + "\x00" + model))
	return hex.EncodeToString(sum[:])
}

// Service produces prompt-versioned summaries and embeddings for cached pages.
// Identical content is summarized at most once per prompt hash.
type Service struct {
	pages      interfaces.PageStorage
	ai         interfaces.AIService
	events     interfaces.EventService
	promptHash string
	maxInput   int
	group      singleflight.Group
	logger     arbor.ILogger
}

var _ interfaces.Summarizer = (*Service)(nil)

// NewService creates a summarizer bound to the AI backend's current model
func NewService(
	config common.SummaryConfig,
	pages interfaces.PageStorage,
	ai interfaces.AIService,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		pages:      pages,
		ai:         ai,
		events:     events,
		promptHash: PromptHash(config.PromptVersion, ai.ModelID()),
		maxInput:   config.MaxInputChars,
		logger:     logger,
	}
}

// PromptHash returns the hash stored alongside every summary this service writes
func (s *Service) PromptHash() string {
	return s.promptHash
}

type flightResult struct {
	summary   models.Summary
	leaderURL string // page saved inside the flight
	reused    bool
}

// EnsureSummary makes sure page holds a summary valid for the current prompt
// hash. Pages not worth summarizing are never sent to the backend. Backend
// failures are returned unchanged for the job layer to retry.
func (s *Service) EnsureSummary(ctx context.Context, page *models.CachedPage) (bool, error) {
	if !page.WorthSummarizing {
		summariesTotal.WithLabelValues("skipped").Inc()
		return false, nil
	}
	if page.HasValidSummary(s.promptHash) {
		return true, nil
	}

	key := page.ContentHash + ":" + s.promptHash
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// A sibling may have been summarized since the caller loaded page
		sibling, err := s.findSibling(ctx, page)
		if err != nil {
			return nil, err
		}
		if sibling != nil {
			result := &flightResult{
				summary: models.Summary{
					Text:       sibling.Summary,
					Embedding:  sibling.Embedding,
					PromptHash: s.promptHash,
				},
				leaderURL: page.URL,
				reused:    true,
			}
			return result, s.apply(ctx, page, result.summary)
		}

		summary, err := s.generate(ctx, page)
		if err != nil {
			return nil, err
		}
		result := &flightResult{summary: *summary, leaderURL: page.URL}
		return result, s.apply(ctx, page, *summary)
	})
	if err != nil {
		return false, err
	}

	result := v.(*flightResult)
	reused := result.reused
	if result.leaderURL != page.URL {
		// Shared flight for a page with identical content
		reused = true
		if err := s.apply(ctx, page, result.summary); err != nil {
			return false, err
		}
	}

	if reused {
		summariesTotal.WithLabelValues("reused").Inc()
	} else {
		summariesTotal.WithLabelValues("generated").Inc()
	}

	if s.events != nil {
		fact := models.PageSummarized{URL: page.URL, ContentHash: page.ContentHash, Reused: reused}
		if err := s.events.Publish(ctx, fact); err != nil {
			s.logger.Warn().Err(err).Str("url", page.URL).Msg("Failed to publish page summarized fact")
		}
	}

	return true, nil
}

// findSibling returns another page with the same content and a valid summary
func (s *Service) findSibling(ctx context.Context, page *models.CachedPage) (*models.CachedPage, error) {
	siblings, err := s.pages.FindByContentHash(ctx, page.ContentHash)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("find pages with hash %s: %w", page.ContentHash, err)
	}
	for i := range siblings {
		if siblings[i].URL != page.URL && siblings[i].HasValidSummary(s.promptHash) {
			return &siblings[i], nil
		}
	}
	return nil, nil
}

func (s *Service) generate(ctx context.Context, page *models.CachedPage) (*models.Summary, error) {
	start := time.Now()
	text := truncateRunes(page.Content, s.maxInput)

	summaryText, err := s.ai.Summarize(ctx, instruction, text)
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", page.URL, err)
	}

	embedding, err := s.ai.Embed(ctx, summaryText)
	if err != nil {
		return nil, fmt.Errorf("embed summary of %s: %w", page.URL, err)
	}

	summaryDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug().
		Str("url", page.URL).
		Str("content_hash", page.ContentHash).
		Int("input_chars", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Page summarized")

	return &models.Summary{Text: summaryText, Embedding: embedding, PromptHash: s.promptHash}, nil
}

func (s *Service) apply(ctx context.Context, page *models.CachedPage, summary models.Summary) error {
	page.Summary = summary.Text
	page.Embedding = summary.Embedding
	page.PromptHash = summary.PromptHash
	page.SummaryContentHash = page.ContentHash
	if err := s.pages.SavePage(ctx, page); err != nil {
		return fmt.Errorf("save summary of %s: %w", page.URL, err)
	}
	return nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
