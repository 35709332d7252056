package careline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline-ai/careline/pkg/types"
)

func TestCarelineServer_HasTools(t *testing.T) {
	server, err := NewServer()
	require.NoError(t, err)

	for _, name := range []string{"lookup_resources", "redact_text", "assess_risk"} {
		tool := server.GetTool(name)
		require.NotNil(t, tool, "%s tool should exist", name)
		assert.Equal(t, name, tool.Tool.Name)
		assert.NotEmpty(t, tool.Tool.Description)
	}
}

func TestCarelineServer_LookupResources(t *testing.T) {
	server, err := NewServer()
	require.NoError(t, err)
	tool := server.GetTool("lookup_resources")
	require.NotNil(t, tool)

	tests := []struct {
		name      string
		args      map[string]any
		locale    string
		emergency string
	}{
		{
			name:      "defaults to en-US",
			args:      map[string]any{},
			locale:    "en-US",
			emergency: "911",
		},
		{
			name:      "uk locale",
			args:      map[string]any{"locale": "en-GB"},
			locale:    "en-GB",
			emergency: "999",
		},
		{
			name:      "category filter",
			args:      map[string]any{"locale": "en-US", "category": "suicide"},
			locale:    "en-US",
			emergency: "911",
		},
		{
			name:      "unknown category falls back to crisis entries",
			args:      map[string]any{"locale": "en-US", "category": "gardening"},
			locale:    "en-US",
			emergency: "911",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := mcp.CallToolRequest{}
			request.Params.Name = "lookup_resources"
			request.Params.Arguments = tt.args

			result, err := tool.Handler(context.Background(), request)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.False(t, result.IsError)

			var bundle types.ResourceBundle
			decodeToolResult(t, result, &bundle)
			assert.Equal(t, tt.locale, bundle.Locale)
			assert.Equal(t, tt.emergency, bundle.EmergencyNumber)
			assert.NotEmpty(t, bundle.Resources, "safety lookup should never come back empty")
		})
	}
}

func TestCarelineServer_LookupResources_CategoryScoped(t *testing.T) {
	server, err := NewServer()
	require.NoError(t, err)
	tool := server.GetTool("lookup_resources")
	require.NotNil(t, tool)

	request := mcp.CallToolRequest{}
	request.Params.Name = "lookup_resources"
	request.Params.Arguments = map[string]any{"locale": "en-US", "category": "suicide"}

	result, err := tool.Handler(context.Background(), request)
	require.NoError(t, err)

	var bundle types.ResourceBundle
	decodeToolResult(t, result, &bundle)
	require.NotEmpty(t, bundle.Resources)
	for _, r := range bundle.Resources {
		assert.Equal(t, "suicide", r.Category)
	}
}

func TestCarelineServer_RedactText(t *testing.T) {
	server, err := NewServer()
	require.NoError(t, err)
	tool := server.GetTool("redact_text")
	require.NotNil(t, tool)

	request := mcp.CallToolRequest{}
	request.Params.Name = "redact_text"
	request.Params.Arguments = map[string]any{
		"text": "Call me at 555-123-4567 or write to sam@example.com",
	}

	result, err := tool.Handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	var out redactResult
	decodeToolResult(t, result, &out)
	assert.Contains(t, out.Sanitized, "[PHONE:")
	assert.Contains(t, out.Sanitized, "[EMAIL:")
	assert.NotContains(t, out.Sanitized, "555-123-4567")
	assert.NotContains(t, out.Sanitized, "sam@example.com")

	counts := make(map[string]int)
	for _, e := range out.Entities {
		counts[e.Type] = e.Count
	}
	assert.Equal(t, 1, counts["PHONE"])
	assert.Equal(t, 1, counts["EMAIL"])
}

func TestCarelineServer_RedactText_Clean(t *testing.T) {
	server, err := NewServer()
	require.NoError(t, err)
	tool := server.GetTool("redact_text")
	require.NotNil(t, tool)

	request := mcp.CallToolRequest{}
	request.Params.Name = "redact_text"
	request.Params.Arguments = map[string]any{"text": "the weather is lovely today"}

	result, err := tool.Handler(context.Background(), request)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out redactResult
	decodeToolResult(t, result, &out)
	assert.Equal(t, "the weather is lovely today", out.Sanitized)
	assert.Empty(t, out.Entities)
}

func TestCarelineServer_RedactText_MissingArgument(t *testing.T) {
	server, err := NewServer()
	require.NoError(t, err)
	tool := server.GetTool("redact_text")
	require.NotNil(t, tool)

	request := mcp.CallToolRequest{}
	request.Params.Name = "redact_text"
	request.Params.Arguments = map[string]any{}

	result, err := tool.Handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestCarelineServer_AssessRisk(t *testing.T) {
	server, err := NewServer()
	require.NoError(t, err)
	tool := server.GetTool("assess_risk")
	require.NotNil(t, tool)

	tests := []struct {
		name     string
		text     string
		severity string
		signalID string
	}{
		{
			name:     "suicidal language",
			text:     "I feel suicidal",
			severity: "HIGH",
			signalID: "kw:suicidal",
		},
		{
			name:     "self harm language",
			text:     "I cut myself when it gets bad",
			severity: "MEDIUM",
			signalID: "kw:cut myself",
		},
		{
			name:     "immediacy modifier raises the tier",
			text:     "I feel suicidal tonight",
			severity: "CRITICAL",
			signalID: "kw:suicidal",
		},
		{
			name:     "benign text",
			text:     "the weather is lovely today",
			severity: "NONE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := mcp.CallToolRequest{}
			request.Params.Name = "assess_risk"
			request.Params.Arguments = map[string]any{"text": tt.text}

			result, err := tool.Handler(context.Background(), request)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.False(t, result.IsError)

			var out assessResult
			decodeToolResult(t, result, &out)
			assert.Equal(t, tt.severity, out.Severity)

			if tt.signalID == "" {
				assert.Empty(t, out.Signals)
				return
			}
			ids := make([]string, 0, len(out.Signals))
			for _, sig := range out.Signals {
				ids = append(ids, sig.ID)
			}
			assert.Contains(t, ids, tt.signalID)
		})
	}
}

func TestCarelineServer_AssessRisk_MissingArgument(t *testing.T) {
	server, err := NewServer()
	require.NoError(t, err)
	tool := server.GetTool("assess_risk")
	require.NotNil(t, tool)

	request := mcp.CallToolRequest{}
	request.Params.Name = "assess_risk"
	request.Params.Arguments = map[string]any{}

	result, err := tool.Handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

// decodeToolResult unmarshals a tool's JSON text content into v.
func decodeToolResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	require.Len(t, result.Content, 1)
	textContent, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "content should be text")
	require.NoError(t, json.Unmarshal([]byte(textContent.Text), v))
}
