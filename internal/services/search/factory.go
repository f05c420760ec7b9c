package search

import (
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/services/llm"
)

// NewSearchProvider creates a search provider based on configuration.
// Supported modes:
//   - "gemini": Google Search grounding through the Gemini API (default)
//   - "disabled": every search fails permanently
//
// Gemini mode falls back to disabled when Gemini is not configured.
func NewSearchProvider(gemini *llm.GeminiService, config common.SearchConfig, logger arbor.ILogger) interfaces.SearchProvider {
	mode := strings.ToLower(strings.TrimSpace(config.Mode))

	switch mode {
	case "gemini", "":
		if gemini == nil {
			logger.Warn().
				Str("mode", "gemini").
				Msg("Gemini is not configured: search disabled")
			return NewDisabledProvider(logger)
		}
		logger.Info().
			Str("mode", "gemini").
			Strs("exclude_domains", config.ExcludeDomains).
			Msg("Initializing grounded search provider")
		return NewGeminiProvider(gemini, config, logger)

	case "disabled":
		logger.Warn().
			Str("mode", "disabled").
			Msg("Search explicitly disabled via configuration")
		return NewDisabledProvider(logger)

	default:
		logger.Warn().
			Str("mode", mode).
			Msg("Unknown search mode, search disabled")
		return NewDisabledProvider(logger)
	}
}
