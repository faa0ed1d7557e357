package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetToolDefinitions(t *testing.T) {
	tools := GetToolDefinitions()
	require.Len(t, tools, 3)

	seen := make(map[string]bool)
	for _, tool := range tools {
		assert.False(t, seen[tool.Name], "duplicate tool name %s", tool.Name)
		seen[tool.Name] = true

		assert.NotEmpty(t, tool.Description, tool.Name)
		require.NotNil(t, tool.InputSchema, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type, tool.Name)
	}
}

func TestToolSchemas(t *testing.T) {
	want := map[string][]string{
		ToolParseImage:    {"prompt", "imagePath"},
		ToolDetectObjects: {"filePath"},
		ToolChat:          {"message"},
	}

	for _, tool := range GetToolDefinitions() {
		t.Run(tool.Name, func(t *testing.T) {
			raw, err := json.Marshal(tool.InputSchema)
			require.NoError(t, err)

			var schema struct {
				Schema     string `json:"$schema"`
				Type       string `json:"type"`
				Required   []string
				Properties map[string]struct {
					Type        string `json:"type"`
					Description string `json:"description"`
				} `json:"properties"`
			}
			require.NoError(t, json.Unmarshal(raw, &schema))

			assert.Empty(t, schema.Schema)
			assert.ElementsMatch(t, want[tool.Name], schema.Required)
			require.Len(t, schema.Properties, len(want[tool.Name]))
			for _, field := range want[tool.Name] {
				prop, ok := schema.Properties[field]
				require.True(t, ok, field)
				assert.Equal(t, "string", prop.Type)
				assert.NotEmpty(t, prop.Description)
			}
		})
	}
}

func TestToolsMatchValidators(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		_, ok := argFactories[tool.Name]
		assert.True(t, ok, "no argument type for %s", tool.Name)
	}
	assert.Len(t, argFactories, len(GetToolDefinitions()))
}
