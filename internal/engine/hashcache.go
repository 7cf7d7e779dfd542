// internal/engine/hashcache.go
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"media-vault/internal/logging"
	"media-vault/internal/storage"
)

// hashCacheEntry records one file's digest keyed by its stat; when
// length and mtime still match, the hash is reused without re-reading
// the file.
type hashCacheEntry struct {
	Hash         string    `json:"hash"` // hex SHA-256
	Length       int64     `json:"length"`
	LastModified time.Time `json:"lastModified"`
}

// hashCache is a path -> entry map persisted as JSON through a Storage.
// The local cache lives in a temp file; the remote cache lives under
// .db in the database itself.
type hashCache struct {
	st   storage.Storage
	path string
	log  logging.Logger

	mu      sync.Mutex
	entries map[string]hashCacheEntry
	dirty   bool
}

func newHashCache(st storage.Storage, path string, log logging.Logger) *hashCache {
	return &hashCache{st: st, path: path, log: log, entries: map[string]hashCacheEntry{}}
}

// load reads the persisted map. A missing or corrupt cache file starts
// empty; the cache is advisory.
func (c *hashCache) load(ctx context.Context) {
	data, err := c.st.Read(ctx, c.path)
	if err != nil || data == nil {
		if err != nil {
			c.log.Warnf("hash cache %s unreadable: %v", c.path, err)
		}
		return
	}
	entries := map[string]hashCacheEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		c.log.Warnf("hash cache %s corrupt, starting empty: %v", c.path, err)
		return
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// save persists the map. Failures are swallowed after retries: a lost
// cache only costs re-hashing.
func (c *hashCache) save(ctx context.Context) {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	data, err := json.Marshal(c.entries)
	c.dirty = false
	c.mu.Unlock()
	if err != nil {
		c.log.Warnf("hash cache %s not saved: %v", c.path, err)
		return
	}
	err = storage.WithRetry(ctx, func() error {
		return c.st.Write(ctx, c.path, "application/json", data)
	})
	if err != nil {
		c.log.Warnf("hash cache %s not saved: %v", c.path, err)
	}
}

// get returns the cached hash when the stat matches.
func (c *hashCache) get(path string, length int64, lastModified time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok || e.Length != length || !e.LastModified.Equal(lastModified) {
		return "", false
	}
	return e.Hash, true
}

func (c *hashCache) put(path, hash string, length int64, lastModified time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = hashCacheEntry{Hash: hash, Length: length, LastModified: lastModified}
	c.dirty = true
}
