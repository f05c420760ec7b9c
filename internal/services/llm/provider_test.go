package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"google.golang.org/genai"
)

type stubGenerator struct {
	model      string
	extracts   []string
	summarized int
}

func (g *stubGenerator) Summarize(ctx context.Context, instruction, text string) (string, error) {
	g.summarized++
	return g.model + ":" + text, nil
}

func (g *stubGenerator) Extract(ctx context.Context, req interfaces.ExtractRequest, out interface{}) error {
	g.extracts = append(g.extracts, req.Model)
	return nil
}

func (g *stubGenerator) CompleteWithTools(ctx context.Context, req interfaces.ToolRequest) (*interfaces.ToolResponse, error) {
	return &interfaces.ToolResponse{Text: g.model}, nil
}

func (g *stubGenerator) ModelID() string { return g.model }

type stubEmbedder struct{ calls int }

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{1}, nil
}

func newStubRouter(t *testing.T) (*Router, *stubGenerator, *stubGenerator, *stubEmbedder) {
	gemini := &stubGenerator{model: "gemini-2.5-flash"}
	claude := &stubGenerator{model: "claude-haiku-4-5"}
	embedder := &stubEmbedder{}
	router, err := NewRouter(ProviderGemini, map[ProviderType]Generator{
		ProviderGemini: gemini,
		ProviderClaude: claude,
	}, embedder, arbor.NewLogger())
	require.NoError(t, err)
	return router, gemini, claude, embedder
}

func TestDetectProvider(t *testing.T) {
	router, _, _, _ := newStubRouter(t)

	tests := []struct {
		model string
		want  ProviderType
	}{
		{"", ProviderGemini},
		{"claude-sonnet-4-5", ProviderClaude},
		{"claude/claude-sonnet-4-5", ProviderClaude},
		{"anthropic/claude-opus", ProviderClaude},
		{"gemini-2.5-pro", ProviderGemini},
		{"google/gemini-2.5-pro", ProviderGemini},
		{"something-else", ProviderGemini},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, router.DetectProvider(tt.model))
		})
	}
}

func TestNormalizeModel(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5", NormalizeModel("claude/claude-sonnet-4-5"))
	assert.Equal(t, "gemini-2.5-pro", NormalizeModel("Google/gemini-2.5-pro"))
	assert.Equal(t, "gemini-2.5-pro", NormalizeModel("gemini-2.5-pro"))
}

func TestRouterRoutesByModel(t *testing.T) {
	router, gemini, claude, embedder := newStubRouter(t)
	ctx := context.Background()

	_, err := router.Summarize(ctx, "i", "text")
	require.NoError(t, err)
	assert.Equal(t, 1, gemini.summarized)

	require.NoError(t, router.Extract(ctx, interfaces.ExtractRequest{Model: "claude/claude-sonnet-4-5"}, &struct{}{}))
	require.NoError(t, router.Extract(ctx, interfaces.ExtractRequest{}, &struct{}{}))
	assert.Equal(t, []string{"claude-sonnet-4-5"}, claude.extracts)
	assert.Equal(t, []string{""}, gemini.extracts)

	_, err = router.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls)

	assert.Equal(t, "gemini/gemini-2.5-flash", router.ModelID())
}

func TestRouterFallsBackWhenProviderMissing(t *testing.T) {
	gemini := &stubGenerator{model: "gemini-2.5-flash"}
	router, err := NewRouter(ProviderGemini, map[ProviderType]Generator{ProviderGemini: gemini}, &stubEmbedder{}, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, router.Extract(context.Background(), interfaces.ExtractRequest{Model: "claude-opus"}, &struct{}{}))
	assert.Equal(t, []string{""}, gemini.extracts)
}

func TestNewRouterValidates(t *testing.T) {
	_, err := NewRouter(ProviderClaude, map[ProviderType]Generator{ProviderGemini: &stubGenerator{}}, &stubEmbedder{}, arbor.NewLogger())
	assert.Error(t, err)

	_, err = NewRouter(ProviderGemini, map[ProviderType]Generator{ProviderGemini: &stubGenerator{}}, nil, arbor.NewLogger())
	assert.Error(t, err)
}

func TestConvertToGenaiSchema(t *testing.T) {
	schema, err := convertToGenaiSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"posts": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []string{"title"},
					"properties": map[string]interface{}{
						"title": map[string]interface{}{"type": "string", "description": "post title"},
						"pages": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "integer"}},
					},
				},
			},
		},
		"required": []interface{}{"posts"},
	})
	require.NoError(t, err)
	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, []string{"posts"}, schema.Required)

	items := schema.Properties["posts"].Items
	require.NotNil(t, items)
	assert.Equal(t, []string{"title"}, items.Required)
	assert.Equal(t, "post title", items.Properties["title"].Description)
	assert.Equal(t, genai.TypeInteger, items.Properties["pages"].Items.Type)

	_, err = convertToGenaiSchema(map[string]interface{}{"type": "tuple"})
	assert.Error(t, err)

	empty, err := convertToGenaiSchema(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestConvertMessages(t *testing.T) {
	messages := []interfaces.Message{
		{Role: "user", Content: "find the phone number"},
		{Role: "assistant", ToolCalls: []interfaces.ToolCall{{ID: "c1", Name: "web_search", Arguments: map[string]interface{}{"query": "pantry"}}}},
		{Role: "user", ToolResults: []interfaces.ToolResult{{CallID: "c1", Name: "web_search", Content: "555-0100"}}},
	}

	gemini, err := convertMessagesToGemini(messages)
	require.NoError(t, err)
	require.Len(t, gemini, 3)
	assert.Equal(t, genai.RoleModel, gemini[1].Role)
	require.NotNil(t, gemini[1].Parts[0].FunctionCall)
	assert.Equal(t, "web_search", gemini[1].Parts[0].FunctionCall.Name)
	require.NotNil(t, gemini[2].Parts[0].FunctionResponse)
	assert.Equal(t, "c1", gemini[2].Parts[0].FunctionResponse.ID)

	claude, err := convertMessagesToClaude(messages)
	require.NoError(t, err)
	require.Len(t, claude, 3)
	require.NotNil(t, claude[1].Content[0].OfToolUse)
	assert.Equal(t, "c1", claude[1].Content[0].OfToolUse.ID)
	require.NotNil(t, claude[2].Content[0].OfToolResult)
	assert.Equal(t, "c1", claude[2].Content[0].OfToolResult.ToolUseID)

	_, err = convertMessagesToGemini(nil)
	assert.Error(t, err)
	_, err = convertMessagesToClaude([]interfaces.Message{{Role: "user"}})
	assert.Error(t, err)
}
