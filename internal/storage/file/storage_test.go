package file

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(t.TempDir())

	path, err := s.Save(ctx, "original", "a.png", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != filepath.Join("original", "a.png") {
		t.Errorf("Save returned %q, want base-relative path", path)
	}

	rc, err := s.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || string(data) != "payload" {
		t.Fatalf("Load read %q (%v), want payload", data, err)
	}

	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load after delete = %v, want fs.ErrNotExist", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := NewStorage(t.TempDir())

	_, err := s.Load(context.Background(), "original/nope.png")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load = %v, want fs.ErrNotExist", err)
	}
}

func TestResolveRejectsEscapingPaths(t *testing.T) {
	s := NewStorage(t.TempDir())

	for _, p := range []string{"../outside", "../../etc/passwd", "/etc/passwd", "a/../../outside"} {
		if _, err := s.Load(context.Background(), p); err == nil {
			t.Errorf("Load(%q) accepted a path outside the base directory", p)
		}
	}
}
