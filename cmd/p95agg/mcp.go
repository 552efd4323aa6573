package main

import (
	"github.com/panbanda/p95agg/internal/mcpserver"
	"github.com/urfave/cli/v2"
)

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Start MCP (Model Context Protocol) server for LLM tool integration",
		Description: `Starts an MCP server over stdio transport that exposes p95 aggregation
as tools that LLMs can invoke.

To use with Claude Desktop, add to your config:
  {
    "mcpServers": {
      "p95agg": {
        "command": "p95agg",
        "args": ["mcp"]
      }
    }
  }

Available tools:
  - p95          95th percentile of one list of nullable integers
  - p95_groups   95th percentile per named group, with optional summary`,
		Action: runMCPCmd,
	}
}

func runMCPCmd(c *cli.Context) error {
	return mcpserver.NewServer(version).Run(c.Context)
}
