// Package storage declares the blob backend contract shared by its
// implementations.
package storage

import (
	"context"
	"io"
)

// Storage stores and serves image blobs. Implementations report a
// missing object with an error matching io/fs.ErrNotExist, so callers
// can tell absence from infrastructure failures.
type Storage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}
