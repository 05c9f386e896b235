package blob

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// File is a file-backed Store keeping one file per key under a root
// directory. Puts write to a temp file and rename into place so a crashed
// put never leaves a partially written blob visible.
type File struct {
	root string
}

// OpenFile creates the root directory if needed and returns a file-backed
// store.
func OpenFile(root string) (*File, error) {
	if root == "" {
		return nil, errors.New("blob: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &File{root: root}, nil
}

// path escapes the key so arbitrary key bytes cannot traverse outside root.
func (f *File) path(key string) string {
	return filepath.Join(f.root, url.PathEscape(key))
}

// Put writes data to a temp file, fsyncs, and renames it over the target.
func (f *File) Put(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(f.root, ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

// Get returns the stored bytes, or ErrNotFound.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Delete removes the key's file. Missing files are success.
func (f *File) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List visits stored keys with the given prefix in directory order.
func (f *File) List(_ context.Context, prefix string, fn func(key string) bool) error {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".put-") {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !fn(key) {
			return nil
		}
	}
	return nil
}

// Close is a no-op.
func (f *File) Close() error { return nil }
