// Package skills implements the skill registry and tool executor (C6): coded
// skills compiled into the binary, instruction skills discovered on the
// filesystem or in S3, and a bridge skill exposing instruction-skill content
// to the agent loop as ordinary tool calls.
package skills

import (
	"context"
	"encoding/json"
)

// ToolDefinition is one callable tool exposed by a Skill.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// Result is the outcome of one tool execution.
type Result struct {
	Success bool
	Output  any
	Error   string
}

// Skill is a coded capability: a stable name, a set of tool definitions, and
// a single dispatch entrypoint keyed by tool name (§4.6).
type Skill interface {
	Name() string
	Description() string
	Tools() []ToolDefinition
	Execute(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error)
}
