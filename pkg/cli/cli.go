package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

// Run executes the command line. A failure is reported on stderr before it
// is returned.
func Run(ctx context.Context, argv []string) *Error {
	return run(ctx, argv, os.Stderr)
}

func run(ctx context.Context, argv []string, errW io.Writer) *Error {
	cmd := &cli.Command{
		Name:  "seeker",
		Usage: "URL retrieval agent backed by a vector index and an MCP tool host",
		Commands: []*cli.Command{
			runCommand(),
			serveCommand(),
			toolHostCommand(),
			indexCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		fmt.Fprintf(errW, "Error: %s\n", err.Error())
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
