package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/gleaner/internal/models"
)

// decodeStructured decodes a JSON model response into out. Markdown code
// fences around the JSON are tolerated; anything else that does not decode
// is a malformed response.
func decodeStructured(text string, out interface{}) error {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}
	if body == "" {
		return fmt.Errorf("empty response: %w", models.ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%v: %w", err, models.ErrMalformedOutput)
	}
	return nil
}
