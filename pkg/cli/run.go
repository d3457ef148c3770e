package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/usecase/agent"
	"github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	var (
		cfg       config
		task      string
		sessionID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "task",
			Aliases:     []string{"t"},
			Usage:       "Task to run once; starts an interactive prompt when empty",
			Destination: &task,
		},
		&cli.StringFlag{
			Name:        "session-id",
			Usage:       "Session ID scoping agent memory (derived from time when empty)",
			Sources:     cli.EnvVars("SEEKER_SESSION_ID"),
			Destination: &sessionID,
		},
	}
	flags = append(flags, loggingFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, agentFlags(&cfg)...)

	return &cli.Command{
		Name:  "run",
		Usage: "Run the agent on a task",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, _, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}

			a, err := cfg.newAgent(ctx)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if task != "" {
				return runTask(ctx, a, w, agent.RunInput{
					Task:      task,
					SessionID: model.SessionID(sessionID),
				})
			}

			return runPrompt(ctx, a, w, model.SessionID(sessionID))
		},
	}
}

type runner interface {
	Run(ctx context.Context, input agent.RunInput) (*model.Outcome, error)
}

func runTask(ctx context.Context, a runner, w io.Writer, input agent.RunInput) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " thinking..."
	s.Start()
	outcome, err := a.Run(ctx, input)
	s.Stop()

	if err != nil {
		return err
	}
	return printOutcome(w, outcome)
}

func printOutcome(w io.Writer, outcome *model.Outcome) error {
	switch outcome.Status {
	case model.OutcomeFinished:
		fmt.Fprintln(w, outcome.Answer)
	case model.OutcomeExhausted:
		fmt.Fprintf(w, "No answer within %d steps (session %s)\n", outcome.Steps, outcome.SessionID)
	default:
		return goerr.New("run did not finish", goerr.V("status", outcome.Status), goerr.V("session_id", outcome.SessionID))
	}

	for _, inv := range outcome.Invocations {
		fmt.Fprintf(w, "  - %s(%v) -> %v\n", inv.ToolName, inv.Arguments, inv.Result)
	}
	return nil
}

func runPrompt(ctx context.Context, a runner, w io.Writer, sessionID model.SessionID) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return goerr.Wrap(err, "failed to initialize readline")
	}
	defer rl.Close()

	fmt.Fprintln(w, "Enter a task. Type 'exit' or press Ctrl-D to quit.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if err := runTask(ctx, a, w, agent.RunInput{Task: line, SessionID: sessionID}); err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
		}
	}
}
