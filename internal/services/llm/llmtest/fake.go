// Package llmtest provides in-memory AI and search backends that count calls.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/ternarybob/gleaner/internal/interfaces"
)

// Operation names reported by Calls
const (
	OpSummarize = "summarize"
	OpEmbed     = "embed"
	OpExtract   = "extract"
	OpTools     = "tools"
)

// FakeAI is a deterministic interfaces.AIService. Unset funcs fall back to
// simple local behavior: the summary is a prefix of the text and the
// embedding is a hashed bag of words, so equal texts embed identically.
type FakeAI struct {
	Model         string
	SummarizeFunc func(instruction, text string) (string, error)
	EmbedFunc     func(text string) ([]float32, error)
	ExtractFunc   func(req interfaces.ExtractRequest, out interface{}) error
	ToolsFunc     func(req interfaces.ToolRequest) (*interfaces.ToolResponse, error)

	mu         sync.Mutex
	calls      map[string]int
	summarized []string
	extracts   []interfaces.ExtractRequest
}

var _ interfaces.AIService = (*FakeAI)(nil)

func NewFakeAI() *FakeAI {
	return &FakeAI{Model: "fake-model", calls: make(map[string]int)}
}

func (f *FakeAI) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

// Calls returns how often op was invoked
func (f *FakeAI) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Summarized returns the texts passed to Summarize, in call order
func (f *FakeAI) Summarized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.summarized...)
}

// ExtractRequests returns every Extract request, in call order
func (f *FakeAI) ExtractRequests() []interfaces.ExtractRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.ExtractRequest(nil), f.extracts...)
}

func (f *FakeAI) Summarize(ctx context.Context, instruction, text string) (string, error) {
	f.record(OpSummarize)
	f.mu.Lock()
	f.summarized = append(f.summarized, text)
	f.mu.Unlock()

	if f.SummarizeFunc != nil {
		return f.SummarizeFunc(instruction, text)
	}
	summary := strings.Join(strings.Fields(text), " ")
	if len(summary) > 80 {
		summary = summary[:80]
	}
	return "summary: " + summary, nil
}

func (f *FakeAI) Embed(ctx context.Context, text string) ([]float32, error) {
	f.record(OpEmbed)
	if f.EmbedFunc != nil {
		return f.EmbedFunc(text)
	}
	return BagOfWords(text, 64), nil
}

func (f *FakeAI) Extract(ctx context.Context, req interfaces.ExtractRequest, out interface{}) error {
	f.record(OpExtract)
	f.mu.Lock()
	f.extracts = append(f.extracts, req)
	f.mu.Unlock()

	if f.ExtractFunc != nil {
		return f.ExtractFunc(req, out)
	}
	return fmt.Errorf("fake extract not configured")
}

func (f *FakeAI) CompleteWithTools(ctx context.Context, req interfaces.ToolRequest) (*interfaces.ToolResponse, error) {
	f.record(OpTools)
	if f.ToolsFunc != nil {
		return f.ToolsFunc(req)
	}
	return &interfaces.ToolResponse{Text: "{}"}, nil
}

func (f *FakeAI) ModelID() string { return f.Model }

// Fill copies value into out through JSON, the way a provider decodes a response
func Fill(out interface{}, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// BagOfWords hashes lower-cased words into a normalized vector of size dims
func BagOfWords(text string, dims int) []float32 {
	vec := make([]float32, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// FakeSearch returns canned results per query
type FakeSearch struct {
	Results map[string][]interfaces.SearchResult
	Err     error

	mu      sync.Mutex
	queries []string
}

var _ interfaces.SearchProvider = (*FakeSearch)(nil)

func (s *FakeSearch) Search(ctx context.Context, query string, limit int) ([]interfaces.SearchResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	results := s.Results[query]
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Queries returns the queries searched so far
func (s *FakeSearch) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}
