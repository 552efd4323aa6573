package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server and registers the p95 aggregation tools.
type Server struct {
	server *mcp.Server
}

// NewServer creates a new MCP server with all tools and prompts registered.
func NewServer(version string) *Server {
	if version == "" {
		version = "dev"
	}
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "p95agg",
			Version: version,
		},
		nil,
	)

	s := &Server{server: server}
	s.registerTools()
	s.registerPrompts()
	return s
}

// Run starts the MCP server over stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "p95",
		Description: describeP95(),
	}, handleP95)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "p95_groups",
		Description: describeP95Groups(),
	}, handleP95Groups)
}
