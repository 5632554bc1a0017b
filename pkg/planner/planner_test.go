package planner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpilot/pkg/mcp"
)

func TestOutputFinal(t *testing.T) {
	assert.True(t, (&Output{Message: "done"}).Final())
	assert.False(t, (&Output{ToolCalls: []ToolCall{{Name: "lookup"}}}).Final())
}

func TestNew(t *testing.T) {
	t.Run("anthropic", func(t *testing.T) {
		p, err := New(Options{Provider: "anthropic", Model: "claude-3-5-sonnet-20241022", APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Provider())
	})

	t.Run("openai", func(t *testing.T) {
		p, err := New(Options{Provider: "openai", Model: "gpt-4o", APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Provider())
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, err := New(Options{Provider: "bard", Model: "m"})
		assert.Error(t, err)
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := New(Options{Provider: "anthropic"})
		assert.Error(t, err)
	})
}

func TestSchemaObject(t *testing.T) {
	t.Run("decodes declared schema", func(t *testing.T) {
		desc := mcp.ToolDescriptor{
			Name: "lookup",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"query": {"type": "string"}},
				"required": ["query"]
			}`),
		}

		schema := schemaObject(desc)
		assert.Equal(t, "object", schema["type"])

		props, ok := schema["properties"].(map[string]interface{})
		require.True(t, ok)
		assert.Contains(t, props, "query")
	})

	t.Run("missing schema degrades to open object", func(t *testing.T) {
		schema := schemaObject(mcp.ToolDescriptor{Name: "bare"})
		assert.Equal(t, "object", schema["type"])
		assert.NotNil(t, schema["properties"])
	})

	t.Run("malformed schema degrades to open object", func(t *testing.T) {
		desc := mcp.ToolDescriptor{Name: "bad", InputSchema: json.RawMessage(`[1,2]`)}
		schema := schemaObject(desc)
		assert.Equal(t, "object", schema["type"])
	})

	t.Run("fills missing type and properties", func(t *testing.T) {
		desc := mcp.ToolDescriptor{Name: "sparse", InputSchema: json.RawMessage(`{"required":["a"]}`)}
		schema := schemaObject(desc)
		assert.Equal(t, "object", schema["type"])
		assert.NotNil(t, schema["properties"])
	})
}

func TestRequiredList(t *testing.T) {
	schema := map[string]interface{}{
		"required": []interface{}{"query", "limit", 7},
	}
	assert.Equal(t, []string{"query", "limit"}, requiredList(schema))

	assert.Nil(t, requiredList(map[string]interface{}{}))
	assert.Nil(t, requiredList(map[string]interface{}{"required": "query"}))
}
