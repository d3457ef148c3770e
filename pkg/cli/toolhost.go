package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/service/mcp"
	"github.com/m-mizutani/seeker/pkg/service/retrieval"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
)

func toolHostCommand() *cli.Command {
	var (
		cfg  config
		addr string
		topK int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Serve streamable HTTP on this address instead of stdio",
			Sources:     cli.EnvVars("SEEKER_TOOLHOST_ADDR"),
			Destination: &addr,
		},
		&cli.IntFlag{
			Name:        "k",
			Usage:       "Number of URLs returned by retrieve_data",
			Value:       mcp.DefaultTopK,
			Sources:     cli.EnvVars("SEEKER_TOOLHOST_K"),
			Destination: &topK,
		},
	}
	flags = append(flags, loggingFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)

	return &cli.Command{
		Name:  "toolhost",
		Usage: "Expose the retrieve_data tool over MCP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			// stdout carries the protocol in stdio mode
			ctx, logger, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}

			snap, err := cfg.newSnapshot(ctx)
			if err != nil {
				return err
			}

			engine, err := cfg.newEngine(ctx, snap, false)
			if err != nil {
				return err
			}
			logger.Info("index loaded", "vectors", engine.Index().Len(), "dimension", engine.Index().Dimension())

			srv := mcp.NewServer(engine, int(topK))
			if addr == "" {
				return mcp.Serve(ctx, srv, &mcpsdk.StdioTransport{})
			}

			return serveStreamable(ctx, srv, addr)
		},
	}
}

// newEngine loads the snapshot and binds it to the configured embedder
func (cfg *config) newEngine(ctx context.Context, snap snapshot, allowMissing bool) (*retrieval.Engine, error) {
	idx, err := loadIndex(ctx, snap, allowMissing)
	if err != nil {
		return nil, err
	}

	embedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	return retrieval.New(embedder, idx)
}

func serveStreamable(ctx context.Context, srv *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return srv
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return goerr.Wrap(err, "tool host server failed", goerr.V("addr", addr))
	}
	return nil
}
