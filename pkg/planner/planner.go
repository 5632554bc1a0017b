// Package planner wraps the language-model backends that propose tool
// calls. The backend is untrusted: returned tool names and arguments
// are passed through verbatim and validated downstream by the policy
// engine, never here.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"mcpilot/pkg/mcp"
)

// Message roles in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one invocation proposed by the planner.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Output is one planning result: either a final message (no tool
// calls) or a proposed plan.
type Output struct {
	Message   string
	ToolCalls []ToolCall
}

// Final reports whether the planner is done with the turn.
func (o *Output) Final() bool {
	return len(o.ToolCalls) == 0
}

// Planner produces a plan from history and the aggregated catalog.
// Implementations are stateless per call: all context comes from the
// history argument.
type Planner interface {
	Plan(ctx context.Context, history []Message, tools []mcp.ToolDescriptor) (*Output, error)
	Provider() string
}

// Options selects and configures a concrete planner backend.
type Options struct {
	Provider     string // "anthropic" or "openai"
	Model        string
	APIKey       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// New creates a planner for the configured backend.
func New(opts Options) (Planner, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("planner model is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}

	switch opts.Provider {
	case "anthropic":
		return newAnthropicPlanner(opts), nil
	case "openai":
		return newOpenAIPlanner(opts), nil
	default:
		return nil, fmt.Errorf("unsupported planner provider: %s", opts.Provider)
	}
}

// schemaObject decodes a descriptor's raw input schema into the map
// shape the SDKs expect. A missing or malformed schema degrades to an
// open object schema.
func schemaObject(desc mcp.ToolDescriptor) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	if len(desc.InputSchema) == 0 {
		return schema
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(desc.InputSchema, &decoded); err != nil {
		return schema
	}
	if decoded["type"] == nil {
		decoded["type"] = "object"
	}
	if decoded["properties"] == nil {
		decoded["properties"] = map[string]interface{}{}
	}
	return decoded
}

func requiredList(schema map[string]interface{}) []string {
	raw, ok := schema["required"].([]interface{})
	if !ok {
		return nil
	}
	required := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			required = append(required, s)
		}
	}
	return required
}
