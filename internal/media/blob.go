// Package media accepts uploaded report attachments and stores them in a
// blob backend, returning the URLs clients attach to reports.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrBlobNotFound is returned when deleting or reading a missing key.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore persists uploaded files under opaque keys.
type BlobStore interface {
	// Put stores the content of r under key and returns its public URL and size.
	Put(ctx context.Context, key, contentType string, r io.Reader) (url string, size int64, err error)
	// Delete removes key. Missing keys return ErrBlobNotFound.
	Delete(ctx context.Context, key string) error
}

// LocalBlobStore writes blobs to a directory that the HTTP server exposes
// under BaseURL.
type LocalBlobStore struct {
	Dir     string
	BaseURL string
}

// NewLocalBlobStore creates dir if needed.
func NewLocalBlobStore(dir, baseURL string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalBlobStore{Dir: dir, BaseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *LocalBlobStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.Dir, clean), nil
}

// Put writes to a temp file first and renames it into place so readers
// never observe a partial blob.
func (s *LocalBlobStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, int64, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp blob: %w", err)
	}
	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("commit blob: %w", err)
	}
	return s.BaseURL + "/" + key, n, nil
}

func (s *LocalBlobStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// MemoryBlobStore keeps blobs in memory. FailKey, when set, makes Put fail
// for matching keys so tests can exercise rollback.
type MemoryBlobStore struct {
	BaseURL string
	FailKey func(key string) error

	mu    sync.Mutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	contentType string
	data        []byte
}

// NewMemoryBlobStore creates an empty in-memory store.
func NewMemoryBlobStore(baseURL string) *MemoryBlobStore {
	return &MemoryBlobStore{BaseURL: strings.TrimSuffix(baseURL, "/"), blobs: make(map[string]memoryBlob)}
}

func (s *MemoryBlobStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, int64, error) {
	if s.FailKey != nil {
		if err := s.FailKey(key); err != nil {
			return "", 0, err
		}
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, contextReader{ctx: ctx, r: r})
	if err != nil {
		return "", 0, fmt.Errorf("read blob: %w", err)
	}
	s.mu.Lock()
	s.blobs[key] = memoryBlob{contentType: contentType, data: buf.Bytes()}
	s.mu.Unlock()
	return s.BaseURL + "/" + key, n, nil
}

func (s *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Get returns a stored blob's bytes and content type.
func (s *MemoryBlobStore) Get(key string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	return b.data, b.contentType, ok
}

// Len returns the number of stored blobs.
func (s *MemoryBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
