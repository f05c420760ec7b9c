package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"google.golang.org/genai"
)

// ProviderType represents the AI provider type
type ProviderType string

const (
	// ProviderGemini uses Google Gemini API
	ProviderGemini ProviderType = "gemini"
	// ProviderClaude uses Anthropic Claude API
	ProviderClaude ProviderType = "claude"
	// ProviderOpenAI is used for embeddings only
	ProviderOpenAI ProviderType = "openai"
)

// Generator is the text side of a provider: everything but embeddings
type Generator interface {
	Summarize(ctx context.Context, instruction, text string) (string, error)
	Extract(ctx context.Context, req interfaces.ExtractRequest, out interface{}) error
	CompleteWithTools(ctx context.Context, req interfaces.ToolRequest) (*interfaces.ToolResponse, error)
	ModelID() string
}

// Embedder produces embedding vectors
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Router implements interfaces.AIService over the configured providers.
// Text generation goes to the default provider unless an extraction request
// names a model belonging to another configured provider; embeddings go to
// the embedding provider.
type Router struct {
	generators      map[ProviderType]Generator
	defaultProvider ProviderType
	embedder        Embedder
	gemini          *GeminiService
	logger          arbor.ILogger
}

var _ interfaces.AIService = (*Router)(nil)

// NewRouter builds a router from already constructed providers
func NewRouter(defaultProvider ProviderType, generators map[ProviderType]Generator, embedder Embedder, logger arbor.ILogger) (*Router, error) {
	if _, ok := generators[defaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", defaultProvider)
	}
	if embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	return &Router{
		generators:      generators,
		defaultProvider: defaultProvider,
		embedder:        embedder,
		logger:          logger,
	}, nil
}

// DetectProvider determines the provider type from a model string.
// Model strings can be:
// - "claude-sonnet-4-5" -> Claude
// - "claude/claude-sonnet-4-5" -> Claude (with prefix)
// - "gemini-2.5-pro" -> Gemini
// - "gemini/gemini-2.5-pro" -> Gemini (with prefix)
// - Empty string -> the default provider
func (r *Router) DetectProvider(model string) ProviderType {
	if model == "" {
		return r.defaultProvider
	}

	model = strings.ToLower(model)

	if strings.HasPrefix(model, "claude/") || strings.HasPrefix(model, "anthropic/") || strings.HasPrefix(model, "claude-") {
		return ProviderClaude
	}
	if strings.HasPrefix(model, "gemini/") || strings.HasPrefix(model, "google/") || strings.HasPrefix(model, "gemini-") {
		return ProviderGemini
	}

	return r.defaultProvider
}

// NormalizeModel removes provider prefix from model name if present
func NormalizeModel(model string) string {
	prefixes := []string{"claude/", "anthropic/", "gemini/", "google/"}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// generatorFor picks the provider for model, falling back to the default
// provider (and its default model) when the owning provider is not configured
func (r *Router) generatorFor(model string) (Generator, string) {
	provider := r.DetectProvider(model)
	if g, ok := r.generators[provider]; ok {
		return g, NormalizeModel(model)
	}
	r.logger.Warn().
		Str("model", model).
		Str("provider", string(provider)).
		Str("fallback", string(r.defaultProvider)).
		Msg("Provider for requested model is not configured, using default provider")
	return r.generators[r.defaultProvider], ""
}

func (r *Router) Summarize(ctx context.Context, instruction, text string) (string, error) {
	return r.generators[r.defaultProvider].Summarize(ctx, instruction, text)
}

func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	return r.embedder.Embed(ctx, text)
}

func (r *Router) Extract(ctx context.Context, req interfaces.ExtractRequest, out interface{}) error {
	g, model := r.generatorFor(req.Model)
	req.Model = model
	return g.Extract(ctx, req, out)
}

func (r *Router) CompleteWithTools(ctx context.Context, req interfaces.ToolRequest) (*interfaces.ToolResponse, error) {
	return r.generators[r.defaultProvider].CompleteWithTools(ctx, req)
}

// ModelID is the default provider's model, the one summaries are produced with
func (r *Router) ModelID() string {
	return string(r.defaultProvider) + "/" + r.generators[r.defaultProvider].ModelID()
}

// Gemini returns the Gemini service when configured, for grounded search
func (r *Router) Gemini() *GeminiService {
	return r.gemini
}

// NewAIService creates the providers named by cfg.LLM and routes between them.
// Gemini is created when it is the default or embedding provider, or when its
// API key is set so cleanup can use a Gemini model.
func NewAIService(cfg *common.Config, logger arbor.ILogger) (*Router, error) {
	generators := make(map[ProviderType]Generator)
	var gemini *GeminiService

	wantGemini := cfg.LLM.DefaultProvider == common.LLMProviderGemini ||
		cfg.LLM.EmbeddingProvider == common.LLMProviderGemini ||
		cfg.Gemini.APIKey != ""
	if wantGemini {
		svc, err := NewGeminiService(&cfg.Gemini, logger)
		if err != nil {
			return nil, err
		}
		gemini = svc
		generators[ProviderGemini] = svc
	}

	if cfg.LLM.DefaultProvider == common.LLMProviderClaude || cfg.Claude.APIKey != "" {
		svc, err := NewClaudeService(&cfg.Claude, logger)
		if err != nil {
			return nil, err
		}
		generators[ProviderClaude] = svc
	}

	var embedder Embedder
	switch cfg.LLM.EmbeddingProvider {
	case common.LLMProviderOpenAI:
		e, err := NewOpenAIEmbedder(&cfg.OpenAI, logger)
		if err != nil {
			return nil, err
		}
		embedder = e
	default:
		if gemini == nil {
			return nil, fmt.Errorf("gemini embeddings require gemini configuration")
		}
		embedder = gemini
	}

	router, err := NewRouter(ProviderType(cfg.LLM.DefaultProvider), generators, embedder, logger)
	if err != nil {
		return nil, err
	}
	router.gemini = gemini

	logger.Info().
		Str("default_provider", string(cfg.LLM.DefaultProvider)).
		Str("embedding_provider", string(cfg.LLM.EmbeddingProvider)).
		Str("model", router.ModelID()).
		Msg("AI service initialized")

	return router, nil
}

// convertToGenaiSchema converts a map[string]interface{} representation of a JSON schema
// to a genai.Schema structure.
func convertToGenaiSchema(schemaMap map[string]interface{}) (*genai.Schema, error) {
	if len(schemaMap) == 0 {
		return nil, nil
	}

	schema := &genai.Schema{}

	if typeStr, ok := schemaMap["type"].(string); ok {
		switch strings.ToLower(typeStr) {
		case "object":
			schema.Type = genai.TypeObject
		case "array":
			schema.Type = genai.TypeArray
		case "string":
			schema.Type = genai.TypeString
		case "number":
			schema.Type = genai.TypeNumber
		case "integer":
			schema.Type = genai.TypeInteger
		case "boolean":
			schema.Type = genai.TypeBoolean
		default:
			return nil, fmt.Errorf("unsupported schema type %q", typeStr)
		}
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	schema.Enum = stringList(schemaMap["enum"])
	schema.Required = stringList(schemaMap["required"])

	if itemsMap, ok := schemaMap["items"].(map[string]interface{}); ok {
		itemSchema, err := convertToGenaiSchema(itemsMap)
		if err != nil {
			return nil, fmt.Errorf("failed to convert items schema: %w", err)
		}
		schema.Items = itemSchema
	}

	if propsMap, ok := schemaMap["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for propName, propVal := range propsMap {
			propMap, ok := propVal.(map[string]interface{})
			if !ok {
				continue
			}
			propSchema, err := convertToGenaiSchema(propMap)
			if err != nil {
				return nil, fmt.Errorf("failed to convert property '%s': %w", propName, err)
			}
			schema.Properties[propName] = propSchema
		}
	}

	return schema, nil
}

// stringList accepts []string or []interface{} holding strings
func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
