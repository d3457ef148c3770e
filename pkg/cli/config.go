package cli

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/adapter"
	"github.com/m-mizutani/seeker/pkg/service/index"
	"github.com/m-mizutani/seeker/pkg/service/mcp"
	"github.com/m-mizutani/seeker/pkg/service/memory"
	"github.com/m-mizutani/seeker/pkg/usecase/agent"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	providerGemini = "gemini"
	providerClaude = "claude"
	providerOllama = "ollama"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// LLM
	llmProvider     string
	anthropicAPIKey string
	claudeModel     string
	geminiProject   string
	geminiLocation  string
	geminiModel     string

	// Embedding
	embedProvider  string
	ollamaURL      string
	ollamaModel    string
	embedDimension int64

	// Index snapshot
	indexDir    string
	indexBucket string
	indexPrefix string

	// Agent
	stepBudget     int64
	topK           int64
	stepTimeout    time.Duration
	toolHostConfig string
	memoryDir      string
}

// loggingFlags returns flags for log output
func loggingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("SEEKER_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       logging.FormatConsole,
			Sources:     cli.EnvVars("SEEKER_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "LLM provider for perception and planning (gemini, claude)",
			Value:       providerGemini,
			Sources:     cli.EnvVars("SEEKER_LLM"),
			Destination: &cfg.llmProvider,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model name",
			Value:       adapter.DefaultClaudeModel,
			Sources:     cli.EnvVars("SEEKER_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini generative model name",
			Value:       adapter.DefaultGeminiModel,
			Sources:     cli.EnvVars("SEEKER_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

// geminiFlags returns flags shared by Gemini generation and embedding
func geminiFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
	}
}

// embeddingFlags returns flags for the embedding provider
func embeddingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedding",
			Usage:       "Embedding provider (ollama, gemini)",
			Value:       providerOllama,
			Sources:     cli.EnvVars("SEEKER_EMBEDDING"),
			Destination: &cfg.embedProvider,
		},
		&cli.StringFlag{
			Name:        "ollama-url",
			Usage:       "Base URL of the Ollama embedding endpoint",
			Value:       adapter.DefaultOllamaURL,
			Sources:     cli.EnvVars("SEEKER_OLLAMA_URL"),
			Destination: &cfg.ollamaURL,
		},
		&cli.StringFlag{
			Name:        "ollama-model",
			Usage:       "Ollama embedding model",
			Value:       adapter.DefaultOllamaModel,
			Sources:     cli.EnvVars("SEEKER_OLLAMA_MODEL"),
			Destination: &cfg.ollamaModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Expected embedding dimension (0 accepts what the provider returns)",
			Sources:     cli.EnvVars("SEEKER_EMBEDDING_DIMENSION"),
			Destination: &cfg.embedDimension,
		},
	}
}

// indexFlags returns flags locating the index snapshot
func indexFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "index-dir",
			Usage:       "Local directory of the index snapshot",
			Value:       "./index",
			Sources:     cli.EnvVars("SEEKER_INDEX_DIR"),
			Destination: &cfg.indexDir,
		},
		&cli.StringFlag{
			Name:        "index-bucket",
			Usage:       "Cloud Storage bucket of the index snapshot (overrides --index-dir)",
			Sources:     cli.EnvVars("SEEKER_INDEX_BUCKET"),
			Destination: &cfg.indexBucket,
		},
		&cli.StringFlag{
			Name:        "index-prefix",
			Usage:       "Object prefix of the index snapshot in the bucket",
			Sources:     cli.EnvVars("SEEKER_INDEX_PREFIX"),
			Destination: &cfg.indexPrefix,
		},
	}
}

// agentFlags returns flags tuning the agent loop
func agentFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "step-budget",
			Usage:       "Maximum number of agent steps",
			Value:       agent.DefaultStepBudget,
			Sources:     cli.EnvVars("SEEKER_STEP_BUDGET"),
			Destination: &cfg.stepBudget,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of memory items retrieved per step",
			Value:       agent.DefaultTopK,
			Sources:     cli.EnvVars("SEEKER_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.DurationFlag{
			Name:        "step-timeout",
			Usage:       "Deadline of one agent step (0 disables it)",
			Sources:     cli.EnvVars("SEEKER_STEP_TIMEOUT"),
			Destination: &cfg.stepTimeout,
		},
		&cli.StringFlag{
			Name:        "tool-host-config",
			Usage:       "YAML file describing tool hosts; the first server is used",
			Sources:     cli.EnvVars("SEEKER_TOOL_HOST_CONFIG"),
			Destination: &cfg.toolHostConfig,
		},
		&cli.StringFlag{
			Name:        "memory-dir",
			Usage:       "Directory to persist agent memory (in-memory when empty)",
			Sources:     cli.EnvVars("SEEKER_MEMORY_DIR"),
			Destination: &cfg.memoryDir,
		},
	}
}

// setupLogger configures the default logger and attaches it to ctx
func (cfg *config) setupLogger(ctx context.Context, w io.Writer) (context.Context, *slog.Logger, error) {
	logger, err := logging.Configure(cfg.logLevel, cfg.logFormat, w)
	if err != nil {
		return ctx, nil, err
	}
	logging.SetDefault(logger)
	return logging.With(ctx, logger), logger, nil
}

// newLLM creates the LLM adapter selected by --llm
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	switch cfg.llmProvider {
	case providerGemini:
		return cfg.newGemini(ctx)
	case providerClaude:
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required")
		}
		return adapter.NewClaude(cfg.anthropicAPIKey, adapter.WithClaudeModel(cfg.claudeModel)), nil
	default:
		return nil, goerr.New("unsupported llm provider", goerr.V("llm", cfg.llmProvider))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	opts := []adapter.GeminiOption{}
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	if cfg.embedDimension > 0 {
		opts = append(opts, adapter.WithEmbeddingDimension(int(cfg.embedDimension)))
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newEmbedder creates the embedding provider selected by --embedding
func (cfg *config) newEmbedder(ctx context.Context) (adapter.Embedder, error) {
	switch cfg.embedProvider {
	case providerOllama:
		opts := []adapter.OllamaOption{adapter.WithOllamaModel(cfg.ollamaModel)}
		if cfg.embedDimension > 0 {
			opts = append(opts, adapter.WithOllamaDimension(int(cfg.embedDimension)))
		}
		ollama, err := adapter.NewOllama(cfg.ollamaURL, opts...)
		if err != nil {
			return nil, err
		}
		return ollama, nil
	case providerGemini:
		return cfg.newGemini(ctx)
	default:
		return nil, goerr.New("unsupported embedding provider", goerr.V("embedding", cfg.embedProvider))
	}
}

type snapshot interface {
	index.Source
	index.Sink
}

// newSnapshot returns the index snapshot location, a bucket when
// --index-bucket is set and the local directory otherwise
func (cfg *config) newSnapshot(ctx context.Context) (snapshot, error) {
	if cfg.indexBucket == "" {
		if cfg.indexDir == "" {
			return nil, goerr.New("index-dir or index-bucket is required")
		}
		return index.Dir(cfg.indexDir), nil
	}

	storage, err := adapter.NewStorage(ctx, cfg.indexBucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return index.Bucket{Storage: storage, Prefix: cfg.indexPrefix}, nil
}

// loadIndex loads the snapshot. A missing snapshot yields an empty index
// when allowMissing is set; its dimension follows the first embedding.
func loadIndex(ctx context.Context, snap snapshot, allowMissing bool) (*index.Index, error) {
	idx, err := index.Load(ctx, snap)
	if err == nil {
		return idx, nil
	}
	if allowMissing && errors.Is(err, fs.ErrNotExist) {
		logging.From(ctx).Info("index snapshot not found, starting empty")
		return index.New(0), nil
	}
	return nil, goerr.Wrap(err, "failed to load index")
}

// newMemory creates the memory store, persistent when --memory-dir is set
func (cfg *config) newMemory(embedder adapter.Embedder) (*memory.Store, error) {
	if cfg.memoryDir == "" {
		return memory.New(embedder), nil
	}
	return memory.NewPersistent(cfg.memoryDir, embedder)
}

// toolHost returns the tool host to connect to. Without --tool-host-config
// the running binary is started as a stdio tool host with the same index
// and embedding settings.
func (cfg *config) toolHost() (mcp.ServerConfig, error) {
	if cfg.toolHostConfig != "" {
		hostCfg, err := mcp.LoadConfig(cfg.toolHostConfig)
		if err != nil {
			return mcp.ServerConfig{}, err
		}
		if len(hostCfg.Servers) == 0 {
			return mcp.ServerConfig{}, goerr.New("no tool host configured", goerr.V("path", cfg.toolHostConfig))
		}
		return hostCfg.Servers[0], nil
	}

	exe, err := os.Executable()
	if err != nil {
		return mcp.ServerConfig{}, goerr.Wrap(err, "failed to resolve executable")
	}

	return mcp.ServerConfig{
		Name:      "seeker",
		Transport: mcp.TransportStdio,
		Command:   append([]string{exe, "toolhost"}, cfg.toolHostArgs()...),
	}, nil
}

func (cfg *config) toolHostArgs() []string {
	args := []string{
		"--log-level", cfg.logLevel,
		"--log-format", cfg.logFormat,
		"--embedding", cfg.embedProvider,
		"--ollama-url", cfg.ollamaURL,
		"--ollama-model", cfg.ollamaModel,
		"--embedding-dimension", strconv.FormatInt(cfg.embedDimension, 10),
		"--index-dir", cfg.indexDir,
	}
	if cfg.indexBucket != "" {
		args = append(args, "--index-bucket", cfg.indexBucket, "--index-prefix", cfg.indexPrefix)
	}
	if cfg.geminiProject != "" {
		args = append(args, "--gemini-project", cfg.geminiProject, "--gemini-location", cfg.geminiLocation)
	}
	return args
}

// newAgent wires the agent with its collaborators
func (cfg *config) newAgent(ctx context.Context) (*agent.Agent, error) {
	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, err
	}

	embedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	store, err := cfg.newMemory(embedder)
	if err != nil {
		return nil, err
	}

	host, err := cfg.toolHost()
	if err != nil {
		return nil, err
	}

	open := func(ctx context.Context) (agent.ToolSession, error) {
		session, err := mcp.Open(ctx, host)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	return agent.New(open, agent.NewLLMPerceiver(llm), agent.NewLLMPlanner(llm), store, agent.Config{
		StepBudget:  int(cfg.stepBudget),
		TopK:        int(cfg.topK),
		StepTimeout: cfg.stepTimeout,
	}), nil
}
