package interfaces

import (
	"context"
)

// Message represents a single message in a tool-calling conversation
type Message struct {
	// Role identifies the message sender: "user" or "assistant"
	Role string

	// Content contains the text content of the message
	Content string

	// ToolCalls are the tools an assistant turn asked to run
	ToolCalls []ToolCall

	// ToolResults answer the ToolCalls of the previous assistant turn
	ToolResults []ToolResult
}

// Tool describes a callable tool. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is a model request to run a tool
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolResult is the output of a tool call fed back to the model
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolRequest is one turn of a tool-calling conversation
type ToolRequest struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// ToolResponse is the model's reply to a ToolRequest. When ToolCalls is empty
// the conversation is finished and Text holds the final answer.
type ToolResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// ExtractRequest asks for structured output matching Schema
type ExtractRequest struct {
	// System is the system instruction
	System string

	// Prompt is the user content
	Prompt string

	// Schema is a JSON schema object describing the expected output
	Schema map[string]interface{}

	// Model optionally overrides the configured model, e.g. for a stronger tier
	Model string
}

// AIService is the AI backend capability set consumed by the pipeline.
// Implementations wrap a concrete provider (Gemini, Claude) or a test fake.
type AIService interface {
	// Summarize condenses text following instruction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - instruction: Summarization prompt template rendered by the caller
	//   - text: Page content to summarize
	//
	// Returns:
	//   - string: Summary text
	//   - error: Backend failure; callers do not retry inline
	Summarize(ctx context.Context, instruction, text string) (string, error)

	// Embed generates an embedding vector for text.
	// The embedding is used for similarity comparison between pages and posts.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Extract produces structured output decoded into out (a pointer).
	// A response that cannot be decoded returns an error wrapping models.ErrMalformedOutput.
	Extract(ctx context.Context, req ExtractRequest, out interface{}) error

	// CompleteWithTools runs one turn of a tool-calling conversation.
	// The caller executes returned ToolCalls and sends their results back.
	CompleteWithTools(ctx context.Context, req ToolRequest) (*ToolResponse, error)

	// ModelID identifies the model used for Summarize. It is part of the
	// summary prompt hash, so changing it invalidates cached summaries.
	ModelID() string
}
