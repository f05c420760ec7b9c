package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"github.com/ternarybob/gleaner/internal/models"
	"google.golang.org/genai"
)

// IsRateLimitError checks if an error is a rate limit error.
// Matches 429 status codes and RESOURCE_EXHAUSTED errors.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var se *models.StatusError
	if errors.As(err, &se) && se.StatusCode == 429 {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "quota")
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s"]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay parses the API-suggested retry delay from an error.
// Returns 0 if no delay is found in the error message.
//
// Example error message:
// "Error 429, Message: ... Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED"
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// backendError wraps a provider SDK error in a models.StatusError when an
// HTTP status is known, so the job layer can classify it
func backendError(provider ProviderType, op string, err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var geminiErr genai.APIError
	var claudeErr *anthropic.Error
	var openaiErr *openai.Error
	switch {
	case errors.As(err, &geminiErr):
		status = geminiErr.Code
	case errors.As(err, &claudeErr):
		status = claudeErr.StatusCode
	case errors.As(err, &openaiErr):
		status = openaiErr.StatusCode
	case IsRateLimitError(err):
		status = 429
	}

	wrapped := fmt.Errorf("%s %s: %w", provider, op, err)
	if status == 0 {
		return wrapped
	}
	return &models.StatusError{StatusCode: status, Err: wrapped}
}
