package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const cacheScheme = "cache"

// Cache stores short-lived synthesized blobs (TTS audio) on disk and hands
// out "cache:<id>" refs for them. It implements domain.MediaResolver.
type Cache struct {
	dir string

	mu    sync.RWMutex
	names map[string]string // id -> filename hint
}

// NewCache creates a blob cache rooted at dir (created if missing).
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "slcbot-media")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create media cache dir %s: %w", dir, err)
	}
	return &Cache{dir: dir, names: make(map[string]string)}, nil
}

// Put stores the blob and returns its ref. name is a filename hint kept for
// upload content-type decisions (e.g. "reply.mp3").
func (c *Cache) Put(r io.Reader, name string) (string, error) {
	id := uuid.NewString()
	path := filepath.Join(c.dir, id)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create cache blob: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write cache blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.names[id] = name
	c.mu.Unlock()

	return Ref(cacheScheme, id), nil
}

// Resolve opens a previously stored blob.
func (c *Cache) Resolve(_ context.Context, ref string) (io.ReadCloser, string, error) {
	scheme, id, err := Split(ref)
	if err != nil {
		return nil, "", err
	}
	if scheme != cacheScheme {
		return nil, "", fmt.Errorf("cache cannot resolve scheme %q", scheme)
	}

	c.mu.RLock()
	name, ok := c.names[id]
	c.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("unknown cache blob %q", id)
	}

	f, err := os.Open(filepath.Join(c.dir, id))
	if err != nil {
		return nil, "", fmt.Errorf("open cache blob: %w", err)
	}
	return f, name, nil
}

// Remove deletes a blob once its reply has been delivered.
func (c *Cache) Remove(ref string) {
	_, id, err := Split(ref)
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.names, id)
	c.mu.Unlock()
	os.Remove(filepath.Join(c.dir, id))
}
