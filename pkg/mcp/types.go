package mcp

import (
	"context"
	"encoding/json"
	"strings"
)

// ToolDescriptor describes a single named, schema-described operation
// exposed by a provider. Immutable once the registry is built.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Provider    string          `json:"provider,omitempty"`
}

// ContentPart is one typed part of a tool call response.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is a provider's response to tools/call.
type CallResult struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Text concatenates all text parts of the result.
func (r CallResult) Text() string {
	var sb strings.Builder
	for _, part := range r.Content {
		if part.Type == "text" || part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// TextResult builds a single-part text result.
func TextResult(text string, isError bool) CallResult {
	return CallResult{
		Content: []ContentPart{{Type: "text", Text: text}},
		IsError: isError,
	}
}

// Caller dispatches a single tool call to a provider.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (CallResult, error)
}
