package mcp

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/service/retrieval"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName = "seeker-toolhost"

	RetrieveDataTool = "retrieve_data"
	DefaultTopK      = 2
)

type retrieveDataParams struct {
	Query string `json:"query" jsonschema:"A natural language query entered by the user"`
}

// RetrieveDataResult is the structured content of a retrieve_data result.
// The text content carries URLs alone as a JSON array.
type RetrieveDataResult struct {
	URLs []string `json:"urls"`
}

// NewServer builds a tool host that exposes the retrieve_data tool backed by
// engine. k is the number of URLs returned per query.
func NewServer(engine *retrieval.Engine, k int) *mcp.Server {
	if k <= 0 {
		k = DefaultTopK
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: clientVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        RetrieveDataTool,
		Description: "Retrieve the source URLs of indexed document chunks most relevant to a query",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *retrieveDataParams) (*mcp.CallToolResult, any, error) {
		return retrieveData(ctx, engine, k, params)
	})

	return server
}

func retrieveData(ctx context.Context, engine *retrieval.Engine, k int, params *retrieveDataParams) (*mcp.CallToolResult, any, error) {
	logger := logging.From(ctx)
	if params.Query == "" {
		return errorResult("query is required"), nil, nil
	}

	logger.Info("received query", "query", params.Query)
	hits, err := engine.Search(ctx, params.Query, k)
	if err != nil {
		logger.Error("failed to search", "error", err)
		return errorResult("failed to search: " + err.Error()), nil, nil
	}

	urls := retrieval.URLs(hits)
	data, err := json.Marshal(urls)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal urls")
	}

	logger.Info("returning results", "count", len(urls))
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
		StructuredContent: RetrieveDataResult{URLs: urls},
	}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// Serve runs server on transport until the client disconnects or ctx is done
func Serve(ctx context.Context, server *mcp.Server, transport mcp.Transport) error {
	if err := server.Run(ctx, transport); err != nil {
		return goerr.Wrap(err, "tool host stopped")
	}
	return nil
}
