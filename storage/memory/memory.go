// Package memory implements storage.Storage in memory.
package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/meigma/appsign/storage"
)

// Storage is a concurrency-safe in-memory store.
type Storage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.Storage = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{data: make(map[string][]byte)}
}

// Open returns a reader over a snapshot of the content at path.
func (s *Storage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key(path)]
	if !ok {
		return nil, storage.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Create buffers a write to path until Commit.
func (s *Storage) Create(_ context.Context, path string) (storage.Writer, error) {
	return &writer{s: s, path: key(path)}, nil
}

// Exists reports whether path holds content.
func (s *Storage) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key(path)]
	return ok, nil
}

// Delete removes path.
func (s *Storage) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key(path))
	return nil
}

// Put stores data at path directly.
func (s *Storage) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key(path)] = append([]byte(nil), data...)
}

// Get returns the content at path.
func (s *Storage) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key(path)]
	return data, ok
}

// Len returns the number of stored paths.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func key(path string) string {
	return strings.TrimPrefix(path, "/")
}

var errClosed = errors.New("memory storage: writer already closed")

type writer struct {
	s      *Storage
	path   string
	buf    bytes.Buffer
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errClosed
	}
	return w.buf.Write(p)
}

func (w *writer) Commit() error {
	if w.closed {
		return errClosed
	}
	w.closed = true
	w.s.Put(w.path, w.buf.Bytes())
	return nil
}

func (w *writer) Discard() error {
	w.closed = true
	w.buf.Reset()
	return nil
}
