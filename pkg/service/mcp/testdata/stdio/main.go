package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type lookupParams struct {
	Query string `json:"query" jsonschema:"Words to look up"`
}

// lookup returns a fixed URL list that contains the query as a path
func lookup(ctx context.Context, req *mcp.CallToolRequest, params *lookupParams) (*mcp.CallToolResult, any, error) {
	slug := strings.ReplaceAll(strings.ToLower(params.Query), " ", "-")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: `["https://example.com/` + slug + `"]`},
		},
	}, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-stdio-toolhost",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retrieve_data",
		Description: "Look up URLs for a query",
	}, lookup)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Printf("Server failed: %v", err)
		os.Exit(1)
	}
}
