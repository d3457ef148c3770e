package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/service/index"
	"github.com/m-mizutani/seeker/pkg/service/mcp"
	"github.com/m-mizutani/seeker/pkg/usecase/agent"
)

func TestToolHostFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`servers:
  - name: remote
    transport: http
    url: http://localhost:8000/mcp
  - name: other
    command: ["other-host"]
`), 0644))

	cfg := &config{toolHostConfig: path}
	host, err := cfg.toolHost()
	gt.NoError(t, err)
	gt.Equal(t, host.Name, "remote")
	gt.Equal(t, host.Transport, mcp.TransportHTTP)
	gt.Equal(t, host.URL, "http://localhost:8000/mcp")
}

func TestToolHostEmptyConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	gt.NoError(t, os.WriteFile(path, []byte("servers: []\n"), 0644))

	cfg := &config{toolHostConfig: path}
	_, err := cfg.toolHost()
	gt.Error(t, err)
}

func TestToolHostDefaultsToSelf(t *testing.T) {
	cfg := &config{
		logLevel:      "info",
		logFormat:     "console",
		embedProvider: providerOllama,
		ollamaURL:     "http://localhost:11434",
		ollamaModel:   "nomic-embed-text",
		indexDir:      "./index",
		indexBucket:   "my-bucket",
		indexPrefix:   "snapshots",
	}
	host, err := cfg.toolHost()
	gt.NoError(t, err)
	gt.Equal(t, host.Transport, mcp.TransportStdio)
	gt.A(t, host.Command).Longer(2)
	gt.Equal(t, host.Command[1], "toolhost")
	args := strings.Join(host.Command, " ")
	gt.S(t, args).Contains("--index-bucket my-bucket")
	gt.S(t, args).NotContains("--gemini-project")
}

func TestUnsupportedProviders(t *testing.T) {
	ctx := context.Background()

	cfg := &config{llmProvider: "unknown"}
	_, err := cfg.newLLM(ctx)
	gt.Error(t, err)

	cfg = &config{llmProvider: providerClaude}
	_, err = cfg.newLLM(ctx)
	gt.Error(t, err)

	cfg = &config{embedProvider: "unknown"}
	_, err = cfg.newEmbedder(ctx)
	gt.Error(t, err)

	cfg = &config{embedProvider: providerGemini}
	_, err = cfg.newEmbedder(ctx)
	gt.Error(t, err)
}

func TestLoadIndexMissing(t *testing.T) {
	ctx := context.Background()
	snap := index.Dir(t.TempDir())

	_, err := loadIndex(ctx, snap, false)
	gt.Error(t, err)

	idx, err := loadIndex(ctx, snap, true)
	gt.NoError(t, err)
	gt.Equal(t, idx.Len(), 0)
	gt.Equal(t, idx.Dimension(), 0)
}

type fakeRunner struct {
	outcome *model.Outcome
	err     error
	inputs  []agent.RunInput
}

func (x *fakeRunner) Run(ctx context.Context, input agent.RunInput) (*model.Outcome, error) {
	x.inputs = append(x.inputs, input)
	return x.outcome, x.err
}

func TestRunTaskPrintsAnswer(t *testing.T) {
	ctx := context.Background()
	r := &fakeRunner{outcome: &model.Outcome{
		SessionID: "session-1",
		Status:    model.OutcomeFinished,
		Answer:    "https://example.com/cats",
		Invocations: []*model.ToolInvocationResult{
			{ToolName: "retrieve_data", Arguments: map[string]any{"query": "cats"}, Result: []any{"https://example.com/cats"}},
		},
	}}

	var buf bytes.Buffer
	gt.NoError(t, runTask(ctx, r, &buf, agent.RunInput{Task: "find cats", SessionID: "session-1"}))
	gt.S(t, buf.String()).Contains("https://example.com/cats")
	gt.S(t, buf.String()).Contains("retrieve_data")
	gt.A(t, r.inputs).Length(1)
	gt.Equal(t, r.inputs[0].SessionID, model.SessionID("session-1"))
}

func TestRunTaskExhausted(t *testing.T) {
	ctx := context.Background()
	r := &fakeRunner{outcome: &model.Outcome{
		SessionID: "session-2",
		Status:    model.OutcomeExhausted,
		Steps:     3,
	}}

	var buf bytes.Buffer
	gt.NoError(t, runTask(ctx, r, &buf, agent.RunInput{Task: "find cats"}))
	gt.S(t, buf.String()).Contains("No answer within 3 steps")
}

func TestRunTaskAborted(t *testing.T) {
	ctx := context.Background()
	r := &fakeRunner{
		outcome: &model.Outcome{Status: model.OutcomeAborted},
		err:     errors.New("tool host unavailable"),
	}

	var buf bytes.Buffer
	gt.Error(t, runTask(ctx, r, &buf, agent.RunInput{Task: "find cats"}))
	gt.Equal(t, buf.Len(), 0)
}
