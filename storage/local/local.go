// Package local implements storage.Storage on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/appsign/storage"
)

const (
	defaultDirPerm  = 0o750
	defaultFilePerm = 0o644
)

// Storage stores artifacts in a directory tree.
// Writes go to a temp file in the destination directory and are renamed into
// place on commit, so readers never observe a partial file.
type Storage struct {
	root     string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

var _ storage.Storage = (*Storage)(nil)

// ErrSymlink is returned by Open when the path names a symbolic link.
var ErrSymlink = errors.New("local storage: path is a symlink")

// Option configures a Storage.
type Option func(*Storage)

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Storage) {
		s.dirPerm = mode
	}
}

// WithFilePerm sets the permissions of committed files.
func WithFilePerm(mode os.FileMode) Option {
	return func(s *Storage) {
		s.filePerm = mode
	}
}

// New creates a Storage rooted at root. Paths passed to its methods are
// interpreted relative to root; absolute paths are re-rooted.
func New(root string, opts ...Option) (*Storage, error) {
	if root == "" {
		return nil, errors.New("storage root is empty")
	}
	s := &Storage{
		root:     root,
		dirPerm:  defaultDirPerm,
		filePerm: defaultFilePerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open opens the file at path for reading.
// The path may not escape root, and a symlink as the final element is
// rejected with ErrSymlink.
func (s *Storage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(s.root)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	return openFileNoFollow(root, rel)
}

// Create starts a write to path, creating missing parent directories.
func (s *Storage) Create(_ context.Context, path string) (storage.Writer, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &writer{
		file:      tmp,
		tmpPath:   tmp.Name(),
		finalPath: full,
		perm:      s.filePerm,
	}, nil
}

// Exists reports whether a file exists at path.
func (s *Storage) Exists(_ context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes the file at path.
func (s *Storage) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// resolve maps a storage path to a filesystem path under root.
func (s *Storage) resolve(path string) (string, error) {
	rel := strings.TrimPrefix(filepath.ToSlash(path), "/")
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("invalid storage path %q", path)
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

type writer struct {
	file      *os.File
	tmpPath   string
	finalPath string
	perm      os.FileMode
}

func (w *writer) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *writer) Commit() error {
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return err
	}
	if err := os.Chmod(w.tmpPath, w.perm); err != nil {
		_ = os.Remove(w.tmpPath)
		return err
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		_ = os.Remove(w.tmpPath)
		return err
	}
	return nil
}

func (w *writer) Discard() error {
	_ = w.file.Close()
	if err := os.Remove(w.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
