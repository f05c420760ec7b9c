package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// extractToolName is the forced tool whose input carries structured output
const extractToolName = "record_result"

// ClaudeService implements Generator using the Anthropic Claude API.
// Claude has no embedding endpoint; embeddings come from another provider.
type ClaudeService struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    anthropic.Client
	timeout   time.Duration
	maxTokens int
	throttle  *throttle
}

// convertMessagesToClaude converts tool conversation messages to Claude MessageParam format.
// Tool results lead their user turn, tool calls follow the text of an assistant turn.
func convertMessagesToClaude(messages []interfaces.Message) ([]anthropic.MessageParam, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	claudeMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, result := range msg.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(result.CallID, result.Content, result.IsError))
		}
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			args := call.Arguments
			if args == nil {
				args = map[string]interface{}{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, args, call.Name))
		}
		if len(blocks) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			claudeMessages = append(claudeMessages, anthropic.NewAssistantMessage(blocks...))
		} else {
			claudeMessages = append(claudeMessages, anthropic.NewUserMessage(blocks...))
		}
	}

	if len(claudeMessages) == 0 {
		return nil, fmt.Errorf("messages have no content")
	}
	return claudeMessages, nil
}

// claudeTool converts a JSON schema tool description
func claudeTool(name, description string, schema map[string]interface{}) anthropic.ToolUnionParam {
	input := anthropic.ToolInputSchemaParam{
		Properties: schema["properties"],
		Required:   stringList(schema["required"]),
	}
	tool := anthropic.ToolUnionParamOfTool(input, name)
	if description != "" {
		tool.OfTool.Description = anthropic.String(description)
	}
	return tool
}

// NewClaudeService creates a new Claude service instance
func NewClaudeService(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set GLEANER_CLAUDE_API_KEY, ANTHROPIC_API_KEY or claude.api_key in config)")
	}
	if config.Model == "" {
		config.Model = "claude-haiku-4-5"
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	timeout := common.ParseDurationOr(config.Timeout, 5*time.Minute)

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	)

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Int("max_tokens", maxTokens).
		Msg("Claude service initialized")

	return &ClaudeService{
		config:    config,
		logger:    logger,
		client:    client,
		timeout:   timeout,
		maxTokens: maxTokens,
		throttle:  newThrottle(common.ParseDurationOr(config.RateLimit, 0)),
	}, nil
}

func (s *ClaudeService) ModelID() string {
	return s.config.Model
}

func (s *ClaudeService) newParams(model, system string, messages []anthropic.MessageParam) anthropic.MessageNewParams {
	if model == "" {
		model = s.config.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(s.maxTokens),
		Messages:  messages,
	}
	if s.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.config.Temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func (s *ClaudeService) send(ctx context.Context, op string, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	if err := s.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.Messages.New(callCtx, params)
	observeCall(ProviderClaude, op, start, err)
	if err != nil {
		s.throttle.observe(err)
		s.logger.Warn().Err(err).Str("model", string(params.Model)).Str("operation", op).Msg("Claude call failed")
		return nil, backendError(ProviderClaude, op, err)
	}

	s.logger.Debug().
		Str("model", string(params.Model)).
		Str("operation", op).
		Str("stop_reason", string(resp.StopReason)).
		Dur("duration", time.Since(start)).
		Msg("Claude call completed")

	return resp, nil
}

func textOf(resp *anthropic.Message) string {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String()
}

func (s *ClaudeService) Summarize(ctx context.Context, instruction, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text cannot be empty for summarization")
	}

	params := s.newParams("", instruction, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
	})
	resp, err := s.send(ctx, "summarize", params)
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(textOf(resp))
	if summary == "" {
		return "", fmt.Errorf("claude summarize: empty response")
	}
	return summary, nil
}

// Extract forces a single tool call whose input schema is the output schema
func (s *ClaudeService) Extract(ctx context.Context, req interfaces.ExtractRequest, out interface{}) error {
	params := s.newParams(req.Model, req.System, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	})
	params.Tools = []anthropic.ToolUnionParam{
		claudeTool(extractToolName, "Record the extracted result.", req.Schema),
	}
	params.ToolChoice = anthropic.ToolChoiceParamOfTool(extractToolName)

	resp, err := s.send(ctx, "extract", params)
	if err != nil {
		return err
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != extractToolName {
			continue
		}
		if err := json.Unmarshal(block.Input, out); err != nil {
			return fmt.Errorf("%v: %w", err, models.ErrMalformedOutput)
		}
		return nil
	}
	return fmt.Errorf("claude returned no %s call: %w", extractToolName, models.ErrMalformedOutput)
}

// CompleteWithTools runs one tool-use turn
func (s *ClaudeService) CompleteWithTools(ctx context.Context, req interfaces.ToolRequest) (*interfaces.ToolResponse, error) {
	messages, err := convertMessagesToClaude(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages to Claude format: %w", err)
	}

	params := s.newParams("", req.System, messages)
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, claudeTool(tool.Name, tool.Description, tool.Parameters))
	}

	resp, err := s.send(ctx, "tools", params)
	if err != nil {
		return nil, err
	}

	out := &interfaces.ToolResponse{}
	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		args := map[string]interface{}{}
		if len(block.Input) > 0 {
			if err := json.Unmarshal(block.Input, &args); err != nil {
				return nil, fmt.Errorf("decode %s arguments: %v: %w", block.Name, err, models.ErrMalformedOutput)
			}
		}
		out.ToolCalls = append(out.ToolCalls, interfaces.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
	}
	if len(out.ToolCalls) == 0 {
		out.Text = textOf(resp)
	}
	return out, nil
}
