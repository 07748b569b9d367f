package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Storage provides a local filesystem blob backend. Paths returned by
// Save and accepted by Load and Delete are relative to the base
// directory, so records stay portable between backends.
type Storage struct {
	basePath string
}

// NewStorage creates a new Storage instance with the given basePath.
// The basePath defines the root directory where files will be stored.
func NewStorage(basePath string) *Storage {
	return &Storage{basePath: basePath}
}

// Save stores the file in the given subdirectory (e.g. "original" or
// "transformed") with the provided filename and returns its path
// relative to the base directory.
func (s *Storage) Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error) {
	relPath := filepath.Join(subdir, filename)

	dir := filepath.Join(s.basePath, subdir)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dstPath := filepath.Join(s.basePath, relPath)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to save file %s: %w", dstPath, err)
	}

	return relPath, nil
}

// Load opens the file at the given relative path and returns a reader.
// Missing files surface the underlying fs.ErrNotExist.
func (s *Storage) Load(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	return os.Open(full)
}

// Delete removes the file at the given relative path.
func (s *Storage) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	return os.Remove(full)
}

// resolve joins a stored path onto the base directory, rejecting paths
// that would escape it.
func (s *Storage) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path %q", path)
	}

	return filepath.Join(s.basePath, clean), nil
}
