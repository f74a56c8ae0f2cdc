// Package llm implements the LLM provider contract (C5): a uniform
// chat-completion interface with concrete OpenAI, Anthropic, and Google
// backends selected by configuration.
package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments []byte // raw JSON object
}

// Message is one entry in the conversation sent to/received from a provider.
type Message struct {
	Role      Role
	Content   string
	ToolID    string // set on RoleTool messages: which ToolCall.ID this answers
	ToolCalls []ToolCall
}

// ToolSchema is one tool definition offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusRateLimited Status = "rate_limited"
	StatusTimeout     Status = "timeout"
)

// Usage is token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ChatResponse is the uniform result of a chat call.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	Status       Status
	ErrorMessage string
}

// Provider is the chat-completion contract (§4.5). Implementations call an
// external service or local inference endpoint; streaming, if any, is
// internal to the implementation and never exposed to callers.
type Provider interface {
	Chat(ctx context.Context, messages []Message, system string, tools []ToolSchema) (ChatResponse, error)
	ProviderName() string
	Model() string
}
