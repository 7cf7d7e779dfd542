// internal/docdb/shards.go
package docdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"media-vault/internal/collation"
	"media-vault/internal/storage"
)

// StorageDatabase keeps collections as JSON shard files on a Storage.
// A document lives in shard <collection>/<first two chars of its id>,
// each shard holding a JSON object of id -> document.
type StorageDatabase struct {
	st storage.Storage

	mu    sync.Mutex
	colls map[string]*storageCollection
}

func NewStorageDatabase(st storage.Storage) *StorageDatabase {
	return &StorageDatabase{st: st, colls: map[string]*storageCollection{}}
}

func (db *StorageDatabase) Collection(name string) Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.colls[name]; ok {
		return c
	}
	c := &storageCollection{db: db, name: name}
	db.colls[name] = c
	return c
}

func (db *StorageDatabase) Collections(ctx context.Context) ([]string, error) {
	res, err := db.st.ListDirs(ctx, ".", 0, "")
	if err != nil {
		return nil, err
	}
	return res.Names, nil
}

type storageCollection struct {
	db   *StorageDatabase
	name string
	mu   sync.Mutex
}

func (c *storageCollection) Name() string { return c.name }

func shardOf(id string) string {
	if len(id) < 2 {
		return "00"
	}
	return id[:2]
}

func (c *storageCollection) shardPath(id string) string {
	return c.name + "/" + shardOf(id)
}

func (c *storageCollection) loadShard(ctx context.Context, path string) (map[string]Document, error) {
	data, err := c.db.st.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	shard := map[string]Document{}
	if data == nil {
		return shard, nil
	}
	if err := json.Unmarshal(data, &shard); err != nil {
		return nil, fmt.Errorf("collection %s shard %s: %w", c.name, path, err)
	}
	return shard, nil
}

func (c *storageCollection) saveShard(ctx context.Context, path string, shard map[string]Document) error {
	if len(shard) == 0 {
		return c.db.st.DeleteFile(ctx, path)
	}
	data, err := json.Marshal(shard)
	if err != nil {
		return err
	}
	return c.db.st.Write(ctx, path, "application/json", data)
}

func (c *storageCollection) InsertOne(ctx context.Context, doc Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("document has no _id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.shardPath(id)
	shard, err := c.loadShard(ctx, path)
	if err != nil {
		return err
	}
	if _, exists := shard[id]; exists {
		return fmt.Errorf("document %s already exists in %s", id, c.name)
	}
	shard[id] = doc
	return c.saveShard(ctx, path, shard)
}

func (c *storageCollection) ReplaceOne(ctx context.Context, id string, doc Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.shardPath(id)
	shard, err := c.loadShard(ctx, path)
	if err != nil {
		return err
	}
	if _, exists := shard[id]; !exists {
		return fmt.Errorf("document %s not found in %s", id, c.name)
	}
	shard[id] = doc
	return c.saveShard(ctx, path, shard)
}

func (c *storageCollection) UpdateOne(ctx context.Context, id, field string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.shardPath(id)
	shard, err := c.loadShard(ctx, path)
	if err != nil {
		return err
	}
	doc, exists := shard[id]
	if !exists {
		return fmt.Errorf("document %s not found in %s", id, c.name)
	}
	doc[field] = value
	shard[id] = doc
	return c.saveShard(ctx, path, shard)
}

func (c *storageCollection) DeleteOne(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.shardPath(id)
	shard, err := c.loadShard(ctx, path)
	if err != nil {
		return err
	}
	if _, exists := shard[id]; !exists {
		return nil
	}
	delete(shard, id)
	return c.saveShard(ctx, path, shard)
}

func (c *storageCollection) FindByIndex(ctx context.Context, field string, value interface{}) ([]Document, error) {
	docs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Document
	want := fmt.Sprintf("%v", value)
	for _, doc := range docs {
		if got, ok := doc[field]; ok && fmt.Sprintf("%v", got) == want {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (c *storageCollection) GetSorted(ctx context.Context, field string) ([]Document, error) {
	docs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(docs))
	byKey := map[string][]Document{}
	for i, doc := range docs {
		k := fmt.Sprintf("%v", doc[field])
		keys[i] = k
		byKey[k] = append(byKey[k], doc)
	}
	collation.Sort(keys)
	out := make([]Document, 0, len(docs))
	seen := map[string]bool{}
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, byKey[k]...)
	}
	return out, nil
}

func (c *storageCollection) All(ctx context.Context) ([]Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Document
	next := ""
	for {
		res, err := c.db.st.ListFiles(ctx, c.name, 1000, next)
		if err != nil {
			return nil, err
		}
		for _, name := range res.Names {
			shard, err := c.loadShard(ctx, c.name+"/"+name)
			if err != nil {
				return nil, err
			}
			for _, doc := range shard {
				out = append(out, doc)
			}
		}
		if res.Next == "" {
			return out, nil
		}
		next = res.Next
	}
}
