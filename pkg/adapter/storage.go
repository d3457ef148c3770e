package adapter

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage reads and writes index snapshots kept in object storage
type Storage interface {
	// Put returns a writer for the object; the object is committed on Close.
	// The writer also has Abort, which discards the upload.
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens the object for reading. A missing object yields fs.ErrNotExist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &objectWriter{
		Writer: s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx),
		cancel: cancel,
	}, nil
}

// objectWriter commits the object on Close; Abort cancels the upload instead
type objectWriter struct {
	*storage.Writer
	cancel context.CancelFunc
}

func (w *objectWriter) Close() error {
	defer w.cancel()
	return w.Writer.Close()
}

func (w *objectWriter) Abort() error {
	w.cancel()
	_ = w.Writer.Close()
	return nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.bucketName).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.Wrap(fs.ErrNotExist, "object not found",
			goerr.V("bucket", s.bucketName),
			goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage",
			goerr.V("bucket", s.bucketName),
			goerr.V("key", key))
	}

	return reader, nil
}
