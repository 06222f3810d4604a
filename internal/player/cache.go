package player

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

const (
	cacheFilePrefix = "cache-"
	cacheFileExt    = ".jpg"
)

// FrameCache keeps the most recent frame of a session on disk, one file per session id
type FrameCache struct {
	dir string

	mu   sync.Mutex
	path string
}

// NewFrameCache creates a cache rooted at dir
func NewFrameCache(dir string) *FrameCache {
	return &FrameCache{dir: dir}
}

// Path returns the file written last, empty before the first write
func (c *FrameCache) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Write replaces the cached frame for sessionID and returns the file path
func (c *FrameCache) Write(sessionID int, payload []byte) (string, error) {
	path := filepath.Join(c.dir, fmt.Sprintf("%s%d%s", cacheFilePrefix, sessionID, cacheFileExt))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", errors.Wrapf(err, "write frame cache %s", path)
	}

	c.mu.Lock()
	c.path = path
	c.mu.Unlock()
	return path, nil
}

// Release removes the cached file
func (c *FrameCache) Release() error {
	c.mu.Lock()
	path := c.path
	c.path = ""
	c.mu.Unlock()

	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove frame cache %s", path)
	}
	slog.Debug("Frame cache released", "path", path)
	return nil
}
