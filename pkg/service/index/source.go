package index

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/adapter"
)

// Dir is a snapshot kept in a local directory
type Dir string

func (d Dir) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	p := filepath.Join(string(d), name)
	f, err := os.Open(p)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open snapshot file", goerr.V("path", p))
	}
	return f, nil
}

// Create writes to a temporary file that replaces name on Close
func (d Dir) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(string(d), 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create snapshot directory", goerr.V("dir", string(d)))
	}

	f, err := os.CreateTemp(string(d), name+".tmp-*")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temporary file", goerr.V("dir", string(d)))
	}

	return &dirWriter{File: f, path: filepath.Join(string(d), name)}, nil
}

type dirWriter struct {
	*os.File
	path string
}

func (w *dirWriter) Close() error {
	if err := w.File.Close(); err != nil {
		_ = os.Remove(w.File.Name())
		return goerr.Wrap(err, "failed to close temporary file")
	}
	if err := os.Rename(w.File.Name(), w.path); err != nil {
		return goerr.Wrap(err, "failed to replace snapshot file", goerr.V("path", w.path))
	}
	return nil
}

func (w *dirWriter) Abort() error {
	_ = w.File.Close()
	return os.Remove(w.File.Name())
}

// Bucket is a snapshot kept in object storage under Prefix
type Bucket struct {
	Storage adapter.Storage
	Prefix  string
}

func (b Bucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.Storage.Get(ctx, path.Join(b.Prefix, name))
}

func (b Bucket) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	return b.Storage.Put(ctx, path.Join(b.Prefix, name))
}
