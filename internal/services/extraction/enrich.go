package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

const (
	toolWebSearch = "web_search"
	toolFetchPage = "fetch_page"

	searchResultsPerCall = 5
	fetchPageTokens      = 1500
)

type enrichAnswer struct {
	ContactInfo string `json:"contact_info"`
	Schedule    string `json:"schedule"`
}

// enrich runs the tool loop for one candidate until the model answers or the
// turn or time budget runs out. Running out of budget, or a backend error
// inside the loop, leaves a partial candidate with the unfilled fields
// listed in Absent. Only cancellation of ctx itself is returned.
func (s *Service) enrich(ctx context.Context, post *models.ExtractedPost, fetcher interfaces.Ingestor) error {
	missing := post.MissingFields()
	if len(missing) == 0 {
		return nil
	}

	loopCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messages := []interfaces.Message{{Role: "user", Content: enrichPrompt(post, missing)}}
	outcome := "exhausted"
	var answer enrichAnswer

	for turn := 0; turn < s.config.EnrichMaxTurns; turn++ {
		resp, err := s.ai.CompleteWithTools(loopCtx, interfaces.ToolRequest{
			System:   enrichSystem,
			Messages: messages,
			Tools:    enrichTools,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome = "error"
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = "timeout"
			}
			s.logger.Warn().
				Err(err).
				Str("title", post.Title).
				Int("turn", turn+1).
				Msg("Enrichment stopped early, keeping partial result")
			break
		}

		if len(resp.ToolCalls) == 0 {
			if err := decodeAnswer(resp.Text, &answer); err != nil {
				outcome = "malformed"
				s.logger.Warn().Err(err).Str("title", post.Title).Msg("Enrichment answer unusable")
			} else {
				outcome = "answered"
			}
			break
		}

		messages = append(messages, interfaces.Message{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls})
		results := make([]interfaces.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			results = append(results, s.runTool(loopCtx, call, fetcher))
		}
		messages = append(messages, interfaces.Message{Role: "user", ToolResults: results})
	}

	if strings.TrimSpace(post.ContactInfo) == "" {
		post.ContactInfo = strings.TrimSpace(answer.ContactInfo)
	}
	if strings.TrimSpace(post.Schedule) == "" {
		post.Schedule = strings.TrimSpace(answer.Schedule)
	}
	post.Absent = post.MissingFields()

	enrichOutcomes.WithLabelValues(outcome).Inc()
	s.logger.Debug().
		Str("title", post.Title).
		Str("outcome", outcome).
		Strs("absent", post.Absent).
		Msg("Enrichment finished")
	return nil
}

// runTool executes one tool call. Tool failures go back to the model as
// error results rather than ending the loop.
func (s *Service) runTool(ctx context.Context, call interfaces.ToolCall, fetcher interfaces.Ingestor) interfaces.ToolResult {
	result := interfaces.ToolResult{CallID: call.ID, Name: call.Name}

	var content string
	var err error
	switch call.Name {
	case toolWebSearch:
		content, err = s.webSearch(ctx, stringArg(call.Arguments, "query"))
	case toolFetchPage:
		content, err = s.fetchPage(ctx, fetcher, stringArg(call.Arguments, "url"))
	default:
		err = fmt.Errorf("unknown tool %q", call.Name)
	}

	toolCalls.WithLabelValues(call.Name, outcomeOf(err)).Inc()
	if err != nil {
		result.Content = err.Error()
		result.IsError = true
		return result
	}
	result.Content = content
	return result
}

func (s *Service) webSearch(ctx context.Context, query string) (string, error) {
	if s.search == nil {
		return "", errors.New("web search is unavailable")
	}
	if strings.TrimSpace(query) == "" {
		return "", errors.New("query is required")
	}
	results, err := s.search.Search(ctx, query, searchResultsPerCall)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return "No results.", nil
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return sb.String(), nil
}

func (s *Service) fetchPage(ctx context.Context, fetcher interfaces.Ingestor, url string) (string, error) {
	if fetcher == nil {
		return "", errors.New("page fetching is unavailable")
	}
	if strings.TrimSpace(url) == "" {
		return "", errors.New("url is required")
	}
	page, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Title: %s\n\n%s", page.Title, s.counter.Truncate(page.Content, fetchPageTokens)), nil
}

func stringArg(args map[string]interface{}, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

// decodeAnswer reads the JSON object in a final enrichment reply
func decodeAnswer(text string, out *enrichAnswer) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no JSON object in answer", models.ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedOutput, err)
	}
	return nil
}
