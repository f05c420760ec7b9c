package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"google.golang.org/genai"
)

// GeminiService implements Generator and Embedder using Google Gemini models
type GeminiService struct {
	config   *common.GeminiConfig
	logger   arbor.ILogger
	client   *genai.Client
	timeout  time.Duration
	throttle *throttle
}

// convertMessagesToGemini converts tool conversation messages to Gemini Content.
// Assistant turns become model content carrying their function calls; tool
// results are sent back as function response parts of a user turn.
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		var parts []*genai.Part
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}

		for _, result := range msg.ToolResults {
			response := map[string]any{"content": result.Content}
			if result.IsError {
				response = map[string]any{"error": result.Content}
			}
			part := genai.NewPartFromFunctionResponse(result.Name, response)
			part.FunctionResponse.ID = result.CallID
			parts = append(parts, part)
		}
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			part := genai.NewPartFromFunctionCall(call.Name, call.Arguments)
			part.FunctionCall.ID = call.ID
			parts = append(parts, part)
		}

		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	if len(contents) == 0 {
		return nil, fmt.Errorf("messages have no content")
	}
	return contents, nil
}

// NewGeminiService creates a new Gemini service instance
func NewGeminiService(config *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GLEANER_GEMINI_API_KEY, GEMINI_API_KEY or gemini.api_key in config)")
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = "gemini-embedding-001"
	}

	timeout := common.ParseDurationOr(config.Timeout, 5*time.Minute)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Debug().
		Str("model", config.Model).
		Str("embedding_model", config.EmbeddingModel).
		Dur("timeout", timeout).
		Msg("Gemini service initialized")

	return &GeminiService{
		config:   config,
		logger:   logger,
		client:   client,
		timeout:  timeout,
		throttle: newThrottle(common.ParseDurationOr(config.RateLimit, 0)),
	}, nil
}

func (s *GeminiService) ModelID() string {
	return s.config.Model
}

func (s *GeminiService) generate(ctx context.Context, op, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if model == "" {
		model = s.config.Model
	}
	if config.Temperature == nil {
		config.Temperature = genai.Ptr(s.config.Temperature)
	}

	if err := s.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.Models.GenerateContent(callCtx, model, contents, config)
	observeCall(ProviderGemini, op, start, err)
	if err != nil {
		s.throttle.observe(err)
		s.logger.Warn().Err(err).Str("model", model).Str("operation", op).Msg("Gemini call failed")
		return nil, backendError(ProviderGemini, op, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini %s: empty response", op)
	}

	s.logger.Debug().
		Str("model", model).
		Str("operation", op).
		Dur("duration", time.Since(start)).
		Msg("Gemini call completed")

	return resp, nil
}

func (s *GeminiService) Summarize(ctx context.Context, instruction, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text cannot be empty for summarization")
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
	}
	resp, err := s.generate(ctx, "summarize", "", genai.Text(text), config)
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", fmt.Errorf("gemini summarize: empty text in response")
	}
	return summary, nil
}

// Extract requests JSON output constrained by the request schema
func (s *GeminiService) Extract(ctx context.Context, req interfaces.ExtractRequest, out interface{}) error {
	schema, err := convertToGenaiSchema(req.Schema)
	if err != nil {
		return fmt.Errorf("convert output schema: %w", err)
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := s.generate(ctx, "extract", req.Model, genai.Text(req.Prompt), config)
	if err != nil {
		return err
	}
	return decodeStructured(resp.Text(), out)
}

// CompleteWithTools runs one function-calling turn
func (s *GeminiService) CompleteWithTools(ctx context.Context, req interfaces.ToolRequest) (*interfaces.ToolResponse, error) {
	contents, err := convertMessagesToGemini(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages to Gemini format: %w", err)
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, tool := range req.Tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: tool.Parameters,
		})
	}

	config := &genai.GenerateContentConfig{}
	if len(declarations) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := s.generate(ctx, "tools", "", contents, config)
	if err != nil {
		return nil, err
	}

	out := &interfaces.ToolResponse{}
	for i, call := range resp.FunctionCalls() {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, interfaces.ToolCall{ID: id, Name: call.Name, Arguments: call.Args})
	}
	if len(out.ToolCalls) == 0 {
		out.Text = resp.Text()
	}
	return out, nil
}

// GroundedSearch answers prompt with Google Search grounding enabled. The
// caller reads the grounding metadata of the first candidate.
func (s *GeminiService) GroundedSearch(ctx context.Context, model, prompt string) (*genai.GenerateContentResponse, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("search prompt cannot be empty")
	}
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	return s.generate(ctx, "search", model, genai.Text(prompt), config)
}

// Embed generates an embedding vector with the configured dimensionality
func (s *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding generation")
	}

	if err := s.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	config := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if s.config.EmbeddingDimensions > 0 {
		config.OutputDimensionality = genai.Ptr(s.config.EmbeddingDimensions)
	}

	start := time.Now()
	result, err := s.client.Models.EmbedContent(callCtx, s.config.EmbeddingModel, genai.Text(text), config)
	observeCall(ProviderGemini, "embed", start, err)
	if err != nil {
		s.throttle.observe(err)
		return nil, backendError(ProviderGemini, "embed", err)
	}

	if result == nil || len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini embed: no embedding returned")
	}
	return result.Embeddings[0].Values, nil
}
