package extraction

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/ternarybob/arbor"
)

// EncodingWords counts whitespace separated words instead of BPE tokens
const EncodingWords = "words"

// TokenCounter measures and truncates text in model tokens
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, limit int) string
}

// NewTokenCounter returns a tiktoken counter for encoding. The encoding
// tables are downloaded on first use; when that fails the word counter is
// used instead, which undercounts by roughly a quarter.
func NewTokenCounter(encoding string, logger arbor.ILogger) TokenCounter {
	if encoding == "" || encoding == EncodingWords {
		return wordCounter{}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("encoding", encoding).
			Msg("Token encoding unavailable, counting words instead")
		return wordCounter{}
	}
	return &tiktokenCounter{encoding: enc}
}

type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.encoding.EncodeOrdinary(text))
}

func (c *tiktokenCounter) Truncate(text string, limit int) string {
	tokens := c.encoding.EncodeOrdinary(text)
	if len(tokens) <= limit {
		return text
	}
	// a cut can split a multi-byte rune
	return strings.ToValidUTF8(c.encoding.Decode(tokens[:limit]), "")
}

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func (wordCounter) Truncate(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	return strings.Join(words[:limit], " ")
}

// pageHeader is the per-page preamble of a pass-1 prompt
func pageHeader(number int, url, title string) string {
	return fmt.Sprintf("### Page %d\nURL: %s\nTitle: %s\n\n", number, url, title)
}
