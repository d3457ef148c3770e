package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/service/index"
	"github.com/urfave/cli/v3"
)

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Manage the vector index snapshot",
		Commands: []*cli.Command{
			indexAddCommand(),
			indexSearchCommand(),
		},
	}
}

func indexAddCommand() *cli.Command {
	var (
		cfg          config
		url          string
		file         string
		chunkSize    int64
		chunkOverlap int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "url",
			Aliases:     []string{"u"},
			Usage:       "URL the document is retrieved by",
			Destination: &url,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "file",
			Aliases:     []string{"f"},
			Usage:       "Path to the document text ('-' reads stdin)",
			Value:       "-",
			Destination: &file,
		},
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Words per chunk",
			Value:       index.DefaultChunkSize,
			Destination: &chunkSize,
		},
		&cli.IntFlag{
			Name:        "chunk-overlap",
			Usage:       "Words shared by consecutive chunks",
			Value:       index.DefaultChunkOverlap,
			Destination: &chunkOverlap,
		},
	}
	flags = append(flags, loggingFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)

	return &cli.Command{
		Name:  "add",
		Usage: "Chunk, embed and append a document to the index",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, _, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}

			text, err := readDocument(file)
			if err != nil {
				return err
			}

			snap, err := cfg.newSnapshot(ctx)
			if err != nil {
				return err
			}

			engine, err := cfg.newEngine(ctx, snap, true)
			if err != nil {
				return err
			}

			n, err := engine.Ingest(ctx, url, text, int(chunkSize), int(chunkOverlap))
			if err != nil {
				return err
			}

			if engine.Index().Len() == 0 {
				fmt.Fprintf(c.Root().Writer, "No text to index in %s, snapshot left unchanged\n", file)
				return nil
			}

			if err := engine.Index().Save(ctx, snap); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Added %d chunks from %s (%d vectors in index)\n", n, url, engine.Index().Len())
			return nil
		},
	}
}

func readDocument(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", goerr.Wrap(err, "failed to open document", goerr.V("path", path))
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read document", goerr.V("path", path))
	}
	return string(data), nil
}

func indexSearchCommand() *cli.Command {
	var (
		cfg   config
		query string
		limit int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Natural language query",
			Destination: &query,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"k"},
			Usage:       "Maximum number of hits",
			Value:       5,
			Destination: &limit,
		},
	}
	flags = append(flags, loggingFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Search the index with a query",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, _, err := cfg.setupLogger(ctx, os.Stderr)
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

			hits, err := engine.Search(ctx, query, int(limit))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(hits) == 0 {
				fmt.Fprintln(w, "No hits")
				return nil
			}
			for i, hit := range hits {
				fmt.Fprintf(w, "%d. %s (chunk %s, distance %.4f)\n", i+1, hit.Chunk.URL, hit.Chunk.ChunkID, hit.Distance)
			}
			return nil
		},
	}
}
