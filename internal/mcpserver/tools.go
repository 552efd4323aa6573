package mcpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/panbanda/p95agg/internal/output"
	"github.com/panbanda/p95agg/pkg/stats"
)

// FormatInput selects the encoding of tool results.
type FormatInput struct {
	Format string `json:"format,omitempty" jsonschema:"Output format: toon (default) or json."`
	Policy string `json:"policy,omitempty" jsonschema:"Percentile policy: linear-interpolation (default) or nearest-rank-ceiling."`
}

// P95Input is the input of the p95 tool.
type P95Input struct {
	FormatInput
	Values []*int64 `json:"values" jsonschema:"Integer values; null entries are ignored."`
}

// P95GroupsInput is the input of the p95_groups tool.
type P95GroupsInput struct {
	FormatInput
	Groups  map[string][]*int64 `json:"groups" jsonschema:"Integer values keyed by group name; null entries are ignored."`
	Summary bool                `json:"summary,omitempty" jsonschema:"Include count, nulls, min, max and mean per group."`
}

// P95Output is the result of the p95 tool.
type P95Output struct {
	P95    *int64 `json:"p95" toon:"p95"`
	Policy string `json:"policy" toon:"policy"`
	Count  int    `json:"count" toon:"count"`
	Nulls  int    `json:"nulls" toon:"nulls"`
}

// GroupOutput is one row of the p95_groups result.
type GroupOutput struct {
	Key     string         `json:"key" toon:"key"`
	P95     *int64         `json:"p95" toon:"p95"`
	Summary *stats.Summary `json:"summary,omitempty" toon:"summary,omitempty"`
}

func toNull(values []*int64) []sql.NullInt64 {
	out := make([]sql.NullInt64, len(values))
	for i, v := range values {
		out[i] = stats.FromPtr(v)
	}
	return out
}

func formatOutput(data any, format string) (string, error) {
	if output.ParseFormat(format) == output.FormatJSON {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return output.MarshalTOON(data)
}

func toolResult(data any, format string) (*mcp.CallToolResult, any, error) {
	text, err := formatOutput(data, format)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, nil, nil
}

func toolError(msg string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + msg},
		},
		IsError: true,
	}, nil, nil
}

func handleP95(ctx context.Context, req *mcp.CallToolRequest, input P95Input) (*mcp.CallToolResult, any, error) {
	policy, err := stats.ParsePolicy(input.Policy)
	if err != nil {
		return toolError(err.Error())
	}

	s := stats.Summarize(toNull(input.Values), policy)
	return toolResult(P95Output{
		P95:    s.P95,
		Policy: policy.String(),
		Count:  s.Count,
		Nulls:  s.Nulls,
	}, input.Format)
}

func handleP95Groups(ctx context.Context, req *mcp.CallToolRequest, input P95GroupsInput) (*mcp.CallToolResult, any, error) {
	policy, err := stats.ParsePolicy(input.Policy)
	if err != nil {
		return toolError(err.Error())
	}
	if len(input.Groups) == 0 {
		return toolError("no groups provided")
	}

	keys := make([]string, 0, len(input.Groups))
	for k := range input.Groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]GroupOutput, 0, len(keys))
	for _, k := range keys {
		s := stats.Summarize(toNull(input.Groups[k]), policy)
		row := GroupOutput{Key: k, P95: s.P95}
		if input.Summary {
			row.Summary = &s
		}
		rows = append(rows, row)
	}

	out := struct {
		Policy string        `json:"policy" toon:"policy"`
		Groups []GroupOutput `json:"groups" toon:"groups"`
	}{policy.String(), rows}
	return toolResult(out, input.Format)
}
