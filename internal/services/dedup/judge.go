package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

const judgeSystem = `You decide whether two community service listings describe the same service or need.
Listings are the same when they refer to the same program run by the same organization, even if wording, detail or contact information differ.
Different programs of one organization, or the same kind of program run by different organizations, are not the same.`

var judgeSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"equivalent": map[string]interface{}{"type": "boolean"},
		"reason":     map[string]interface{}{"type": "string", "description": "One short sentence"},
	},
	"required": []string{"equivalent"},
}

type verdict struct {
	Equivalent bool   `json:"equivalent"`
	Reason     string `json:"reason"`
}

// judge asks the backend whether a and b are the same record. model selects
// the tier; empty uses the default model. A malformed verdict counts as not
// equivalent so a bad response never merges records.
func (s *Service) judge(ctx context.Context, tier, model string, a, b models.PostFields) (verdict, error) {
	var v verdict
	err := s.ai.Extract(ctx, interfaces.ExtractRequest{
		System: judgeSystem,
		Prompt: judgePrompt(a, b),
		Schema: judgeSchema,
		Model:  model,
	}, &v)

	switch {
	case err == nil:
		judgeCalls.WithLabelValues(tier, fmt.Sprintf("%t", v.Equivalent)).Inc()
		return v, nil
	case errors.Is(err, models.ErrMalformedOutput):
		judgeCalls.WithLabelValues(tier, "malformed").Inc()
		s.logger.Warn().Err(err).Str("a", a.Title).Str("b", b.Title).Msg("Equivalence verdict unusable, treating as distinct")
		return verdict{}, nil
	default:
		judgeCalls.WithLabelValues(tier, "error").Inc()
		return verdict{}, fmt.Errorf("judge equivalence: %w", err)
	}
}

func judgePrompt(a, b models.PostFields) string {
	var sb strings.Builder
	writeListing(&sb, "A", a)
	writeListing(&sb, "B", b)
	sb.WriteString("Are A and B the same listing?")
	return sb.String()
}

func writeListing(sb *strings.Builder, label string, f models.PostFields) {
	fmt.Fprintf(sb, "### Listing %s\nTitle: %s\nSummary: %s\nDescription: %s\n", label, f.Title, f.ShortSummary, f.Description)
	if f.ContactInfo != "" {
		fmt.Fprintf(sb, "Contact: %s\n", f.ContactInfo)
	}
	if f.Schedule != "" {
		fmt.Fprintf(sb, "Schedule: %s\n", f.Schedule)
	}
	sb.WriteString("\n")
}
