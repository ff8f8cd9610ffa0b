package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalClient stores objects as files below a root directory.
type LocalClient struct {
	root string
}

// NewLocalClient constructs a filesystem-backed client rooted at dir.
func NewLocalClient(dir string) (*LocalClient, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("local storage path is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &LocalClient{root: abs}, nil
}

// EnsureBucket creates the root directory.
func (l *LocalClient) EnsureBucket(_ context.Context) error {
	return os.MkdirAll(l.root, 0o755)
}

// Put writes the object to a temporary file and renames it into place, so a
// reader never sees a partial object.
func (l *LocalClient) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (l *LocalClient) Get(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return f, err
}

func (l *LocalClient) Delete(_ context.Context, key string) error {
	target, err := l.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(target)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrObjectNotFound
	}
	return err
}

// Bucket returns the root directory.
func (l *LocalClient) Bucket() string {
	return l.root
}

// path maps key to a file below root and rejects keys escaping it.
func (l *LocalClient) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash("/" + key))
	target := filepath.Join(l.root, clean)
	if target == l.root || !strings.HasPrefix(target, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return target, nil
}
