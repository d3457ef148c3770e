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
	"github.com/m-mizutani/seeker/pkg/server"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg        config
		addr       string
		taskPrefix string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address of the HTTP front-end",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("SEEKER_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "task-prefix",
			Usage:       "Prefix prepended to the submitted text to form the agent task",
			Value:       server.DefaultTaskPrefix,
			Sources:     cli.EnvVars("SEEKER_TASK_PREFIX"),
			Destination: &taskPrefix,
		},
	}
	flags = append(flags, loggingFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, agentFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the agent over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, logger, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}

			a, err := cfg.newAgent(ctx)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(a, server.WithTaskPrefix(taskPrefix), server.WithLogger(logger)),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting server", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- goerr.Wrap(err, "server failed", goerr.V("addr", addr))
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server")
			}
			return nil
		},
	}
}
