// Command careline-mcp runs the careline MCP tool server over stdio.
// It exposes resource lookup, redaction preview, and keyword risk
// assessment to operator-side agent tooling.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/careline-ai/careline/pkg/mcpserver/careline"
)

func main() {
	s, err := careline.NewServer()
	if err != nil {
		log.Fatal(err)
	}
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
