// Package careline provides an MCP server exposing careline's safety
// utilities as operator-side tools: hotline directory lookup, PII
// redaction, and keyword risk assessment. The tools are pure lookups
// over the embedded packs and never touch live sessions.
package careline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/careline-ai/careline/internal/redact"
	"github.com/careline-ai/careline/internal/resource"
	"github.com/careline-ai/careline/internal/risk"
	"github.com/careline-ai/careline/pkg/types"
)

// toolset holds the collaborators behind the tool handlers. All three
// are built once from the embedded default packs.
type toolset struct {
	directory *resource.Directory
	redactor  *redact.Redactor
	monitor   *risk.Monitor
}

// NewServer creates a new MCP server with the careline tools.
func NewServer() (*server.MCPServer, error) {
	directory, err := resource.NewDirectory(types.ResourcesConfig{})
	if err != nil {
		return nil, fmt.Errorf("resource directory: %w", err)
	}
	redactor, err := redact.New()
	if err != nil {
		return nil, fmt.Errorf("redactor: %w", err)
	}
	// Keyword-only monitor: no classifier behind the MCP surface.
	monitor, err := risk.NewMonitor(types.RiskConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("risk monitor: %w", err)
	}

	ts := &toolset{
		directory: directory,
		redactor:  redactor,
		monitor:   monitor,
	}

	s := server.NewMCPServer(
		"careline",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	lookupTool := mcp.NewTool("lookup_resources",
		mcp.WithDescription("Looks up crisis hotlines and support resources for a locale, optionally filtered by category"),
		mcp.WithString("locale",
			mcp.Description("BCP 47 locale tag such as en-US or es-MX (defaults to en-US)"),
		),
		mcp.WithString("category",
			mcp.Description("Resource category such as crisis, suicide, domestic_violence, substance, lgbtq or veterans (defaults to all)"),
		),
	)
	s.AddTool(lookupTool, ts.lookupResourcesHandler)

	redactTool := mcp.NewTool("redact_text",
		mcp.WithDescription("Replaces personally identifying information in text with stable placeholder tokens"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to sanitize"),
		),
	)
	s.AddTool(redactTool, ts.redactTextHandler)

	assessTool := mcp.NewTool("assess_risk",
		mcp.WithDescription("Rates the crisis risk of a message against the keyword and pattern pack"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Message text to assess"),
		),
	)
	s.AddTool(assessTool, ts.assessRiskHandler)

	return s, nil
}

// lookupResourcesHandler handles the lookup_resources tool call.
func (t *toolset) lookupResourcesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	locale, _ := args["locale"].(string)
	category, _ := args["category"].(string)

	bundle, err := t.directory.Lookup(locale, category)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}
	return jsonResult(bundle)
}

// redactTextHandler handles the redact_text tool call.
func (t *toolset) redactTextHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, ok := request.GetArguments()["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text argument is required"), nil
	}

	sanitized, entities, err := t.redactor.Redact(text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("redaction failed: %v", err)), nil
	}
	return jsonResult(redactResult{
		Sanitized: sanitized,
		Entities:  summarizeEntities(entities),
	})
}

// assessRiskHandler handles the assess_risk tool call.
func (t *toolset) assessRiskHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, ok := request.GetArguments()["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text argument is required"), nil
	}

	verdict := t.monitor.Assess(ctx, text, nil)
	return jsonResult(assessResult{
		Severity:   verdict.Severity.String(),
		Confidence: verdict.Confidence,
		Signals:    verdict.Signals,
	})
}

// redactResult is the redact_text tool output.
type redactResult struct {
	Sanitized string        `json:"sanitized"`
	Entities  []entityCount `json:"entities"`
}

// entityCount summarizes detected entities by type without exposing
// offsets into the raw input.
type entityCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// assessResult is the assess_risk tool output.
type assessResult struct {
	Severity   string             `json:"severity"`
	Confidence float64            `json:"confidence"`
	Signals    []types.RiskSignal `json:"signals,omitempty"`
}

func summarizeEntities(entities []types.Entity) []entityCount {
	counts := make(map[types.EntityType]int)
	order := make([]types.EntityType, 0, len(entities))
	for _, e := range entities {
		if _, seen := counts[e.Type]; !seen {
			order = append(order, e.Type)
		}
		counts[e.Type]++
	}

	out := make([]entityCount, 0, len(order))
	for _, typ := range order {
		out = append(out, entityCount{Type: string(typ), Count: counts[typ]})
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
