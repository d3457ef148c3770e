package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"
)

var (
	TagSessionBootstrap = goerr.NewTag("session_bootstrap")
	TagToolNotFound     = goerr.NewTag("tool_not_found")
	TagToolExecution    = goerr.NewTag("tool_execution")

	ErrSessionNotInitialized = goerr.New("tool host session is not initialized")
)

// Bootstrap phases reported with TagSessionBootstrap errors
const (
	PhaseConnect    = "connect"
	PhaseInitialize = "initialize"
	PhaseListTools  = "list_tools"
)

const (
	clientName    = "seeker"
	clientVersion = "0.1.0"
)

// Session is a protocol session with one tool host
type Session struct {
	name   string
	client *mcp.Client

	mu      sync.RWMutex
	session *mcp.ClientSession
	tools   map[string]*mcp.Tool
	catalog []*model.Tool
}

type options struct {
	transport mcp.Transport
}

type Option func(*options)

// WithTransport replaces the transport built from ServerConfig
func WithTransport(t mcp.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// connectedTransport hands an already established connection to the client
// so protocol initialization runs as a separate phase
type connectedTransport struct {
	conn mcp.Connection
}

func (t *connectedTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	return t.conn, nil
}

// Open connects the transport, initializes the protocol session and loads the
// tool catalog. Anything acquired before a failure is released.
func Open(ctx context.Context, cfg ServerConfig, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.From(ctx).With("server", cfg.Name)

	transport := o.transport
	if transport == nil {
		t, err := newTransport(cfg)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create transport",
				goerr.T(TagSessionBootstrap),
				goerr.V("phase", PhaseConnect),
				goerr.V("server", cfg.Name))
		}
		transport = t
	}

	conn, err := transport.Connect(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect transport",
			goerr.T(TagSessionBootstrap),
			goerr.V("phase", PhaseConnect),
			goerr.V("server", cfg.Name))
	}
	logger.Debug("transport connected")

	client := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	cs, err := client.Connect(ctx, &connectedTransport{conn: conn}, nil)
	if err != nil {
		_ = conn.Close()
		return nil, goerr.Wrap(err, "failed to initialize session",
			goerr.T(TagSessionBootstrap),
			goerr.V("phase", PhaseInitialize),
			goerr.V("server", cfg.Name))
	}
	logger.Debug("session initialized")

	s := &Session{
		name:    cfg.Name,
		client:  client,
		session: cs,
	}

	if _, err := s.ListTools(ctx); err != nil {
		_ = s.Close()
		return nil, goerr.Wrap(err, "failed to list tools",
			goerr.T(TagSessionBootstrap),
			goerr.V("phase", PhaseListTools),
			goerr.V("server", cfg.Name))
	}

	return s, nil
}

func newTransport(cfg ServerConfig) (mcp.Transport, error) {
	switch cfg.Transport {
	case TransportStdio, "":
		if len(cfg.Command) == 0 {
			return nil, goerr.New("command is required for stdio transport")
		}

		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		// stdout carries the protocol; host logs go to our stderr
		cmd.Stderr = os.Stderr

		return &mcp.CommandTransport{Command: cmd}, nil

	case TransportHTTP:
		if cfg.URL == "" {
			return nil, goerr.New("url is required for http transport")
		}
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil

	default:
		return nil, goerr.New("unsupported transport",
			goerr.V("transport", cfg.Transport),
			goerr.V("supported", []string{TransportStdio, TransportHTTP}))
	}
}

// Name returns the configured server name
func (s *Session) Name() string {
	return s.name
}

// ListTools fetches the tool catalog from the host and caches it for Invoke
func (s *Session) ListTools(ctx context.Context) ([]*model.Tool, error) {
	s.mu.RLock()
	cs := s.session
	s.mu.RUnlock()
	if cs == nil {
		return nil, ErrSessionNotInitialized
	}

	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		resp, err := cs.ListTools(ctx, params)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list tools", goerr.V("server", s.name))
		}
		tools = append(tools, resp.Tools...)
		if resp.NextCursor == "" {
			break
		}
		params = &mcp.ListToolsParams{Cursor: resp.NextCursor}
	}

	catalog := lo.Map(tools, func(t *mcp.Tool, _ int) *model.Tool {
		return &model.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	})

	s.mu.Lock()
	s.tools = lo.SliceToMap(tools, func(t *mcp.Tool) (string, *mcp.Tool) {
		return t.Name, t
	})
	s.catalog = catalog
	s.mu.Unlock()

	logging.From(ctx).Debug("tools listed",
		"server", s.name,
		"tools", lo.Map(catalog, func(t *model.Tool, _ int) string { return t.Name }))

	return catalog, nil
}

// Invoke calls a tool of the catalog. Arguments are coerced to the types
// declared by the tool's input schema.
func (s *Session) Invoke(ctx context.Context, name string, args map[string]any) (*model.ToolInvocationResult, error) {
	s.mu.RLock()
	cs := s.session
	tool, ok := s.tools[name]
	s.mu.RUnlock()

	if cs == nil {
		return nil, ErrSessionNotInitialized
	}
	if !ok {
		return nil, goerr.New("tool not found",
			goerr.T(TagToolNotFound),
			goerr.V("server", s.name),
			goerr.V("tool", name))
	}

	if args == nil {
		args = map[string]any{}
	}
	coerced, err := coerceArguments(tool.InputSchema, args)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid tool arguments",
			goerr.T(TagToolExecution),
			goerr.V("tool", name),
			goerr.V("arguments", args))
	}

	resp, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: coerced,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call tool",
			goerr.T(TagToolExecution),
			goerr.V("server", s.name),
			goerr.V("tool", name))
	}

	text := textOf(resp)
	if resp.IsError {
		return nil, goerr.New("tool returned an error",
			goerr.T(TagToolExecution),
			goerr.V("server", s.name),
			goerr.V("tool", name),
			goerr.V("message", text))
	}

	return &model.ToolInvocationResult{
		ToolName:  name,
		Arguments: coerced,
		Result:    resultOf(resp, text),
	}, nil
}

// Close ends the session. Calling it more than once is harmless.
func (s *Session) Close() error {
	s.mu.Lock()
	cs := s.session
	s.session = nil
	s.tools = nil
	s.catalog = nil
	s.mu.Unlock()

	if cs == nil {
		return nil
	}
	if err := cs.Close(); err != nil {
		return goerr.Wrap(err, "failed to close session", goerr.V("server", s.name))
	}
	return nil
}

func textOf(resp *mcp.CallToolResult) string {
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// resultOf prefers structured content, then JSON text, then plain text
func resultOf(resp *mcp.CallToolResult, text string) any {
	if resp.StructuredContent != nil {
		return resp.StructuredContent
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded
	}
	return text
}
