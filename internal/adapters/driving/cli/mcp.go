package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mizan/internal/adapters/driving/mcp"
	"github.com/custodia-labs/mizan/internal/adapters/driving/sse"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server for AI assistant integration.

By default, the server communicates over stdio using JSON-RPC and can be
used with Claude Desktop and other MCP-compatible AI assistants.

Use --port to start an HTTP server instead. Besides MCP it serves:
  /v1/ask    answers as a Server-Sent Events stream
  /metrics   Prometheus metrics

Examples:
  # Stdio mode (default, for Claude Desktop)
  mizan mcp serve

  # HTTP mode
  mizan mcp serve --port 8080
  curl -N "http://localhost:8080/v1/ask?q=What+is+riba"

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "mizan": {
        "command": "/path/to/mizan",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}
	if queryService == nil {
		return errors.New("query service not configured")
	}

	server, err := newMCPServer()
	if err != nil {
		return err
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(cmd.Context(), addr)
	}

	return server.Run(cmd.Context())
}

// newMCPServer builds the server over the configured services.
func newMCPServer() (*mcp.Server, error) {
	ports := &mcp.Ports{
		Search:    searchService,
		Query:     queryService,
		Ingestion: ingestionService,
		Document:  documentService,
	}

	opts := []mcp.Option{mcp.WithRoute("/v1/ask", sse.NewHandler(queryService))}
	if metricsRegistry != nil {
		opts = append(opts, mcp.WithRoute("/metrics", metricsRegistry.Handler()))
	}
	return mcp.NewServer(ports, opts...)
}
