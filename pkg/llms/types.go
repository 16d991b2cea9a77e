// Package llms provides OpenAI-compatible chat completion clients with
// native tool calling and streaming.
package llms

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry in the conversation history sent to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation proposed by the model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolDefinition describes a callable tool in JSON-schema form.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// StreamChunk is one unit of a streaming response.
// Type is one of "text", "tool_call", "done", "error".
type StreamChunk struct {
	Type     string
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Error    error
}

// Provider is the LLM client contract used by the orchestration loop.
type Provider interface {
	// Generate runs a blocking completion and returns the final text,
	// any proposed tool calls, and the token count.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []*ToolCall, int, error)

	// GenerateStreaming runs a streaming completion. The returned channel
	// is closed when generation finishes; a chunk of type "done" always
	// precedes the close unless an error chunk terminates the stream.
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	// ModelName returns the configured model identifier.
	ModelName() string
}
