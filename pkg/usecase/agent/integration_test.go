package agent_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/seeker/pkg/adapter/mock"
	"github.com/m-mizutani/seeker/pkg/service/index"
	"github.com/m-mizutani/seeker/pkg/service/mcp"
	"github.com/m-mizutani/seeker/pkg/service/memory"
	"github.com/m-mizutani/seeker/pkg/service/retrieval"
	"github.com/m-mizutani/seeker/pkg/usecase/agent"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestRunWithToolHost(t *testing.T) {
	ctx := context.Background()
	embedder := mock.New(16)

	engine, err := retrieval.New(embedder, index.New(16))
	gt.NoError(t, err)
	_, err = engine.Ingest(ctx, "https://example.com/cats", "cats sleep all day", 256, 40)
	gt.NoError(t, err)
	_, err = engine.Ingest(ctx, "https://go.dev/ref/mod", "go modules reference", 256, 40)
	gt.NoError(t, err)

	server := mcp.NewServer(engine, 1)
	open := func(ctx context.Context) (agent.ToolSession, error) {
		clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
		if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
			return nil, err
		}
		return mcp.Open(ctx, mcp.ServerConfig{Name: "in-memory"}, mcp.WithTransport(clientTransport))
	}

	perceiver := &fakePerceiver{}
	planner := &scriptedPlanner{replies: []string{
		"FUNCTION_CALL: retrieve_data|query=cats sleep all day",
		"FINAL_ANSWER: https://example.com/cats",
	}}
	store := memory.New(embedder)

	a := agent.New(open, perceiver, planner, store, agent.Config{})
	outcome, err := a.Run(ctx, agent.RunInput{Task: "where do cats sleep?", SessionID: "integration"})
	gt.NoError(t, err)
	gt.True(t, outcome.Finished())
	gt.Equal(t, outcome.Answer, "https://example.com/cats")
	gt.A(t, outcome.Invocations).Length(1)
	gt.Equal(t, store.Count("integration"), 1)

	gt.A(t, perceiver.inputs).Length(2)
	gt.S(t, perceiver.inputs[1]).Contains("Previous output: map[urls:[https://example.com/cats]]")
}
