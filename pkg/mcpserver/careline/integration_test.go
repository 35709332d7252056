package careline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline-ai/careline/pkg/types"
)

// TestCarelineServer_MCPClient exercises the server end to end over stdio
// using the modelcontextprotocol go-sdk client.
func TestCarelineServer_MCPClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mcpServer, err := NewServer()
	require.NoError(t, err)
	stdioServer := server.NewStdioServer(mcpServer)

	// serverReader <- clientWriter (client sends to server)
	// clientReader <- serverWriter (server sends to client)
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- stdioServer.Listen(ctx, serverReader, serverWriter)
	}()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	transport := &sdkmcp.IOTransport{
		Reader: clientReader,
		Writer: clientWriter,
	}

	session, err := client.Connect(ctx, transport, nil)
	require.NoError(t, err, "failed to connect client to server")
	defer session.Close()

	// All three tools must be advertised.
	listResult, err := session.ListTools(ctx, nil)
	require.NoError(t, err, "failed to list tools")

	found := make(map[string]bool)
	for _, tool := range listResult.Tools {
		found[tool.Name] = true
	}
	for _, name := range []string{"lookup_resources", "redact_text", "assess_risk"} {
		assert.True(t, found[name], "%s tool should be registered", name)
	}

	t.Run("lookup_resources", func(t *testing.T) {
		result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "lookup_resources",
			Arguments: map[string]any{"locale": "en-GB"},
		})
		require.NoError(t, err)
		require.False(t, result.IsError)

		var bundle types.ResourceBundle
		decodeClientResult(t, result, &bundle)
		assert.Equal(t, "en-GB", bundle.Locale)
		assert.Equal(t, "999", bundle.EmergencyNumber)
		assert.NotEmpty(t, bundle.Resources)
	})

	t.Run("redact_text", func(t *testing.T) {
		result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "redact_text",
			Arguments: map[string]any{"text": "reach me on 555-867-5309"},
		})
		require.NoError(t, err)
		require.False(t, result.IsError)

		var out redactResult
		decodeClientResult(t, result, &out)
		assert.Contains(t, out.Sanitized, "[PHONE:")
		assert.NotContains(t, out.Sanitized, "555-867-5309")
	})

	t.Run("assess_risk", func(t *testing.T) {
		result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "assess_risk",
			Arguments: map[string]any{"text": "I can't go on"},
		})
		require.NoError(t, err)
		require.False(t, result.IsError)

		var out assessResult
		decodeClientResult(t, result, &out)
		assert.Equal(t, "MEDIUM", out.Severity)
		assert.NotEmpty(t, out.Signals)
	})

	t.Run("missing argument surfaces as tool error", func(t *testing.T) {
		result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "assess_risk",
			Arguments: map[string]any{},
		})
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	cancel()
	clientWriter.Close()
	serverWriter.Close()
}

// TestCarelineServer_SSE exercises the server over the SSE transport.
func TestCarelineServer_SSE(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	port := getFreePort(t)
	addr := fmt.Sprintf("localhost:%d", port)
	sseURL := fmt.Sprintf("http://%s/sse", addr)

	mcpServer, err := NewServer()
	require.NoError(t, err)

	sseServer := server.NewSSEServer(mcpServer,
		server.WithBaseURL(fmt.Sprintf("http://%s", addr)),
	)

	go func() {
		if err := sseServer.Start(addr); err != nil {
			t.Logf("SSE server error: %v", err)
		}
	}()

	waitForServer(t, addr, 5*time.Second)

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		sseServer.Shutdown(shutdownCtx)
	}()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "test-client-sse",
		Version: "1.0.0",
	}, nil)

	transport := &sdkmcp.SSEClientTransport{
		Endpoint: sseURL,
	}

	session, err := client.Connect(ctx, transport, nil)
	require.NoError(t, err, "failed to connect client to SSE server")
	defer session.Close()

	listResult, err := session.ListTools(ctx, nil)
	require.NoError(t, err, "failed to list tools")
	require.Len(t, listResult.Tools, 3)

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "lookup_resources",
		Arguments: map[string]any{"category": "suicide"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var bundle types.ResourceBundle
	decodeClientResult(t, result, &bundle)
	assert.Equal(t, "en-US", bundle.Locale)
	require.NotEmpty(t, bundle.Resources)
	for _, r := range bundle.Resources {
		assert.Equal(t, "suicide", r.Category)
	}
}

// decodeClientResult unmarshals JSON text content received through the
// go-sdk client into v.
func decodeClientResult(t *testing.T, result *sdkmcp.CallToolResult, v any) {
	t.Helper()
	require.NotEmpty(t, result.Content)
	textContent, ok := result.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok, "content should be TextContent")
	require.NoError(t, json.Unmarshal([]byte(textContent.Text), v))
}

// getFreePort returns an available TCP port.
func getFreePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

// waitForServer waits until the server is accepting connections.
func waitForServer(t *testing.T, addr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}
