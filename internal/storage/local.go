package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local stores objects as files below a root directory. Keys are
// slash-separated paths relative to the root.
type Local struct {
	rootDir string
}

var _ Backend = (*Local)(nil)

// NewLocal creates the root directory if needed.
func NewLocal(rootDir string) (*Local, error) {
	if err := os.MkdirAll(rootDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create local backup directory: %v", ErrStorage, err)
	}
	return &Local{rootDir: rootDir}, nil
}

func (l *Local) Kind() Kind   { return KindLocal }
func (l *Local) Name() string { return "local:" + l.rootDir }
func (l *Local) sealed()      {}

// Save writes src to key atomically through a temporary file.
func (l *Local) Save(_ context.Context, key string, src io.ReadSeeker) error {
	finalPath, err := l.path(key)
	if err != nil {
		return err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: rewind source: %v", ErrStorage, err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o750); err != nil {
		return fmt.Errorf("%w: create backup path: %v", ErrStorage, err)
	}

	tmpPath := finalPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create temp backup file: %v", ErrStorage, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write backup data: %v", ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp backup file: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: finalize backup file: %v", ErrStorage, err)
	}
	return nil
}

func (l *Local) Load(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, key, err)
	}
	return f, nil
}

// List returns the keys of regular files under prefix, sorted.
func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	dir, err := l.path(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrStorage, prefix, err)
	}

	keys := []string{}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(l.rootDir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrStorage, prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, key, err)
	}
	return nil
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %v", ErrStorage, key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) path(key string) (string, error) {
	p := filepath.Join(l.rootDir, filepath.FromSlash(key))
	if !pathWithinRoot(l.rootDir, p) {
		return "", fmt.Errorf("%w: key %q escapes storage root", ErrStorage, key)
	}
	return p, nil
}

func pathWithinRoot(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(rootAbs), filepath.Clean(pathAbs))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
