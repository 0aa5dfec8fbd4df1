package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func init() {
	RegisterType(LocalType, func(_ context.Context, cfg Config) (ObjectStore, error) {
		return NewLocalStore(cfg.Path)
	})
}

// LocalStore keeps objects as files below a directory.
type LocalStore struct {
	dir    string
	tmpdir string
}

var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore returns a store rooted at dir, creating it when needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("local storage requires a path")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	tmpdir := filepath.Join(dir, ".tmp")
	if err := os.MkdirAll(tmpdir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage tmp dir: %w", err)
	}
	return &LocalStore{dir: dir, tmpdir: tmpdir}, nil
}

func (l *LocalStore) buildLocalPath(p string) (string, error) {
	p = filepath.Clean(filepath.FromSlash(cleanPath(p)))
	if p == "." || strings.HasPrefix(p, ".."+string(filepath.Separator)) || p == ".." {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return filepath.Join(l.dir, p), nil
}

func (l *LocalStore) Exists(_ context.Context, path string) (bool, error) {
	p, err := l.buildLocalPath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return false, fmt.Errorf("%w: %s", ErrForbidden, path)
	}
	return err == nil, err
}

func (l *LocalStore) Read(_ context.Context, path string) ([]byte, error) {
	p, err := l.buildLocalPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrForbidden, path)
	}
	return data, err
}

// Write stores data through a temp file and rename so readers never see a
// partial object.
func (l *LocalStore) Write(_ context.Context, path string, data []byte) error {
	p, err := l.buildLocalPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.tmpdir, "upload-*")
	if err != nil {
		return err
	}
	tmpRemoved := false
	defer func() {
		if !tmpRemoved {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return err
	}
	tmpRemoved = true
	return nil
}

func (l *LocalStore) Delete(_ context.Context, path string) error {
	p, err := l.buildLocalPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = cleanPath(prefix)
	var paths []string
	err := filepath.WalkDir(l.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == l.tmpdir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(l.dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
