// internal/engine/engine.go
package engine

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"media-vault/internal/client"
	"media-vault/internal/docdb"
	"media-vault/internal/logging"
	"media-vault/internal/merkle"
	"media-vault/internal/storage"
	"media-vault/internal/vaultcrypt"
)

// Layout under a database root. The .db directory holds the engine's
// own files; the lock file is written through the raw backend so its
// JSON stays readable to other parties.
const (
	assetsPrefix   = "assets"
	thumbPrefix    = "thumb"
	displayPrefix  = "display"
	metadataPrefix = "metadata"

	metadataCollection = "metadata"

	treePath            = ".db/tree.dat"
	remoteHashCachePath = ".db/hash-cache"

	// Progress flush cadence: hash caches and tree are persisted every
	// this many adds; replicate persists the destination tree every
	// this many copies.
	flushEvery = 100

	defaultWorkers = 8
)

// MediaProcessor produces renditions and media properties for an asset.
// Decoding is outside the engine; a nil processor skips renditions.
type MediaProcessor interface {
	Thumbnail(ctx context.Context, r io.Reader, contentType string) ([]byte, error)
	Display(ctx context.Context, r io.Reader, contentType string) ([]byte, error)
	Properties(ctx context.Context, r io.Reader, contentType string) (map[string]interface{}, error)
}

type Options struct {
	Location  string
	Readonly  bool
	S3        *client.S3
	PublicKey *rsa.PublicKey           // nil = plaintext database
	Keys      vaultcrypt.PrivateKeyMap // decryption keys, one per rotation
	Workers   int
	Log       logging.Logger
	Media     MediaProcessor
}

// Engine coordinates the backend, the decorators, the encryption layer
// and the merkle tree. The tree and the hash caches are owned by the
// engine and mutated only on its thread; workers get their own backend
// from a Descriptor.
type Engine struct {
	log  logging.Logger
	opts Options

	base  storage.Storage // raw backend at the database root
	store storage.Storage // base, encryption-wrapped when a key is set

	assets  storage.Storage
	thumb   storage.Storage
	display storage.Storage

	db   *docdb.StorageDatabase
	tree *merkle.Tree

	localCache  *hashCache
	remoteCache *hashCache

	lock    *lockKeeper
	workers int

	flushCounter int
}

// Open loads or creates the database at opts.Location. A writable open
// takes the write lock, breaking a stale one, and keeps it refreshed
// until Close.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	log := opts.Log
	if log == nil {
		log = logging.New("info")
	}
	if !strings.HasPrefix(opts.Location, "fs:") && !strings.HasPrefix(opts.Location, "s3:") {
		log.Warnf("location %q has no scheme, treating it as fs:", opts.Location)
	}
	base, err := storage.Open(ctx, opts.Location, opts.Readonly, opts.S3)
	if err != nil {
		return nil, err
	}
	var store storage.Storage = base
	if opts.PublicKey != nil {
		store = storage.NewEncryptedStorage(base, opts.PublicKey, opts.Keys)
	}

	e := &Engine{
		log:     log,
		opts:    opts,
		base:    base,
		store:   store,
		workers: opts.Workers,
	}
	if e.workers <= 0 {
		e.workers = defaultWorkers
	}
	if e.assets, err = storage.NewPrefixStorage(store, assetsPrefix); err != nil {
		return nil, err
	}
	if e.thumb, err = storage.NewPrefixStorage(store, thumbPrefix); err != nil {
		return nil, err
	}
	if e.display, err = storage.NewPrefixStorage(store, displayPrefix); err != nil {
		return nil, err
	}
	metaStore, err := storage.NewPrefixStorage(store, metadataPrefix)
	if err != nil {
		return nil, err
	}
	e.db = docdb.NewStorageDatabase(metaStore)

	if !opts.Readonly {
		owner := newLockOwner()
		lock, err := acquireLock(ctx, base, log, owner)
		if err != nil {
			return nil, err
		}
		e.lock = lock
		log.Infof("write lock acquired by %s at %s", owner, base.Location())
	}

	tree, err := merkle.LoadTree(ctx, store, treePath)
	if err != nil {
		e.releaseLock(ctx)
		return nil, fmt.Errorf("loading tree: %w", err)
	}
	if tree == nil {
		tree = merkle.NewTree(uuid.New())
		log.Infof("created tree %s for %s", tree.Meta.ID, base.Location())
	}
	e.tree = tree

	tmpStore, err := storage.NewFileStorage(os.TempDir(), false)
	if err != nil {
		e.releaseLock(ctx)
		return nil, err
	}
	sum := sha256.Sum256([]byte(base.Location()))
	localName := "media-vault-hashcache-" + hex.EncodeToString(sum[:8]) + ".json"
	e.localCache = newHashCache(tmpStore, localName, log)
	e.localCache.load(ctx)
	e.remoteCache = newHashCache(store, remoteHashCachePath, log)
	e.remoteCache.load(ctx)
	return e, nil
}

func (e *Engine) releaseLock(ctx context.Context) {
	if e.lock != nil {
		if err := e.lock.release(ctx); err != nil {
			e.log.Warnf("releasing write lock: %v", err)
		}
		e.lock = nil
	}
}

// Close flushes caches and the tree, then releases the write lock.
func (e *Engine) Close(ctx context.Context) error {
	var saveErr error
	if e.lock != nil {
		e.localCache.save(ctx)
		e.remoteCache.save(ctx)
		saveErr = e.saveTree(ctx)
	}
	e.releaseLock(ctx)
	return saveErr
}

// Tree exposes the working tree for inspection; callers must not
// mutate it.
func (e *Engine) Tree() *merkle.Tree { return e.tree }

// Collection returns the asset metadata collection.
func (e *Engine) Collection() docdb.Collection {
	return e.db.Collection(metadataCollection)
}

// Database returns the metadata document database.
func (e *Engine) Database() docdb.Database { return e.db }

// checkWritable guards every mutating entry point before any I/O.
func (e *Engine) checkWritable(op string) error {
	if e.opts.Readonly || e.lock == nil {
		return &storage.ReadonlyError{Op: op}
	}
	select {
	case <-e.lock.lostCh():
		return ErrLockLost
	default:
		return nil
	}
}

// AddRequest describes one file to import.
type AddRequest struct {
	Path         string // original path, used for the hash cache and metadata
	ContentType  string // detected from content when empty
	Length       int64
	LastModified time.Time
	Open         func(ctx context.Context) (io.ReadCloser, error)

	PhotoDate   *time.Time
	Coordinates interface{}
	Labels      []string
	Properties  map[string]interface{}
}

type AddResult struct {
	AssetID  string
	Hash     string
	Existing bool // a record with this content hash was already present
}

// AddFile runs the add pipeline: consult the hash cache, dedup against
// the metadata hash index, write the asset and its renditions, verify
// what was written by rehash, record the leaf in the tree, and insert
// the metadata record. Partial artifacts are deleted on failure.
func (e *Engine) AddFile(ctx context.Context, req AddRequest) (*AddResult, error) {
	if err := e.checkWritable("addFile"); err != nil {
		return nil, err
	}

	contentHash, err := e.sourceHash(ctx, req)
	if err != nil {
		return nil, err
	}

	existing, err := e.Collection().FindByIndex(ctx, "hash", contentHash)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		e.log.Debugf("already added: %s (%s)", req.Path, contentHash)
		return &AddResult{AssetID: existing[0].ID(), Hash: contentHash, Existing: true}, nil
	}

	assetID := uuid.New().String()
	contentType := req.ContentType
	if contentType == "" {
		contentType, err = e.detectContentType(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	written := make([]writtenFile, 0, 3)
	cleanup := func() {
		for _, w := range written {
			if err := w.st.DeleteFile(ctx, w.name); err != nil {
				e.log.Warnf("cleanup of %s/%s failed: %v", w.prefix, w.name, err)
			}
		}
	}

	err = func() error {
		src, err := req.Open(ctx)
		if err != nil {
			return err
		}
		defer src.Close()
		if err := e.assets.WriteStream(ctx, assetID, contentType, src, -1); err != nil {
			return err
		}
		written = append(written, writtenFile{st: e.assets, prefix: assetsPrefix, name: assetID})

		// Rehash what landed; the tree must never claim a hash the
		// stored bytes do not have.
		storedHash, _, err := e.rehash(ctx, e.assets, assetID)
		if err != nil {
			return err
		}
		if storedHash != contentHash {
			return fmt.Errorf("%w: asset %s stored %s, expected %s", ErrHashMismatch, assetID, storedHash, contentHash)
		}

		hashBytes, _ := hex.DecodeString(contentHash)
		if err := e.tree.AddItem(merkle.HashedItem{
			Name:         assetsPrefix + "/" + assetID,
			Hash:         hashBytes,
			Length:       req.Length,
			LastModified: req.LastModified,
		}); err != nil {
			return err
		}
		e.remoteCache.put(assetsPrefix+"/"+assetID, contentHash, req.Length, req.LastModified)

		if e.opts.Media != nil {
			if err := e.writeRendition(ctx, e.thumb, thumbPrefix, assetID, contentType, req, e.opts.Media.Thumbnail, &written); err != nil {
				return err
			}
			if err := e.writeRendition(ctx, e.display, displayPrefix, assetID, contentType, req, e.opts.Media.Display, &written); err != nil {
				return err
			}
		}

		doc := docdb.Document{
			"_id":          assetID,
			"hash":         contentHash,
			"origFileName": filepath.Base(req.Path),
			"origPath":     filepath.ToSlash(filepath.Dir(req.Path)),
			"contentType":  contentType,
			"fileDate":     req.LastModified.UTC().Format(time.RFC3339),
			"uploadDate":   time.Now().UTC().Format(time.RFC3339),
		}
		if req.PhotoDate != nil {
			doc["photoDate"] = req.PhotoDate.UTC().Format(time.RFC3339)
		}
		if req.Coordinates != nil {
			doc["coordinates"] = req.Coordinates
		}
		if len(req.Labels) > 0 {
			doc["labels"] = req.Labels
		}
		if req.Properties != nil {
			doc["properties"] = req.Properties
		}
		if e.opts.Media != nil {
			if props, err := e.mediaProperties(ctx, req, contentType); err == nil {
				for k, v := range props {
					doc[k] = v
				}
			} else {
				e.log.Warnf("media properties for %s: %v", req.Path, err)
			}
		}
		return e.Collection().InsertOne(ctx, doc)
	}()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("adding %s: %w", req.Path, err)
	}

	e.tree.Meta.FilesImported++
	e.flushCounter++
	if e.flushCounter >= flushEvery {
		e.flushCounter = 0
		e.localCache.save(ctx)
		e.remoteCache.save(ctx)
		if err := e.saveTree(ctx); err != nil {
			e.log.Warnf("periodic tree save: %v", err)
		}
	}
	return &AddResult{AssetID: assetID, Hash: contentHash}, nil
}

type writtenFile struct {
	st     storage.Storage
	prefix string
	name   string
}

func (e *Engine) writeRendition(ctx context.Context, st storage.Storage, prefix, assetID, contentType string, req AddRequest, gen func(context.Context, io.Reader, string) ([]byte, error), written *[]writtenFile) error {
	src, err := req.Open(ctx)
	if err != nil {
		return err
	}
	defer src.Close()
	data, err := gen(ctx, src, contentType)
	if err != nil {
		return fmt.Errorf("%s rendition: %w", prefix, err)
	}
	if data == nil {
		return nil
	}
	if err := st.Write(ctx, assetID, contentType, data); err != nil {
		return err
	}
	*written = append(*written, writtenFile{st: st, prefix: prefix, name: assetID})
	sum := sha256.Sum256(data)
	return e.tree.AddItem(merkle.HashedItem{
		Name:         prefix + "/" + assetID,
		Hash:         sum[:],
		Length:       int64(len(data)),
		LastModified: req.LastModified,
	})
}

func (e *Engine) mediaProperties(ctx context.Context, req AddRequest, contentType string) (map[string]interface{}, error) {
	src, err := req.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return e.opts.Media.Properties(ctx, src, contentType)
}

// sourceHash returns the file's content hash, from the local cache when
// length and mtime still match.
func (e *Engine) sourceHash(ctx context.Context, req AddRequest) (string, error) {
	abs := req.Path
	if a, err := filepath.Abs(req.Path); err == nil {
		abs = a
	}
	if hash, ok := e.localCache.get(abs, req.Length, req.LastModified); ok {
		return hash, nil
	}
	src, err := req.Open(ctx)
	if err != nil {
		return "", err
	}
	defer src.Close()
	hash, _, err := hashStream(src)
	if err != nil {
		return "", err
	}
	e.localCache.put(abs, hash, req.Length, req.LastModified)
	return hash, nil
}

func (e *Engine) detectContentType(ctx context.Context, req AddRequest) (string, error) {
	src, err := req.Open(ctx)
	if err != nil {
		return "", err
	}
	defer src.Close()
	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

// rehash streams a stored file back through its storage (decrypting in
// passing) and digests it.
func (e *Engine) rehash(ctx context.Context, st storage.Storage, name string) (string, int64, error) {
	r, err := st.ReadStream(ctx, name)
	if err != nil {
		return "", 0, err
	}
	defer r.Close()
	return hashStream(r)
}

func hashStream(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// saveTree rebuilds the merkle projection when dirty and persists the
// tree as one blob.
func (e *Engine) saveTree(ctx context.Context) error {
	if e.tree.Dirty {
		e.tree.BuildMerkleTree()
	}
	return storage.WithRetry(ctx, func() error {
		return merkle.SaveTree(ctx, e.store, treePath, e.tree)
	})
}

// Summary is the database-wide integrity report.
type Summary struct {
	TreeID        uuid.UUID
	TotalAssets   uint64
	TotalBytes    uint64
	FilesImported uint64
	RootHash      string
}

func (e *Engine) Summary() *Summary {
	return &Summary{
		TreeID:        e.tree.Meta.ID,
		TotalAssets:   e.tree.Meta.TotalFiles,
		TotalBytes:    e.tree.Meta.TotalSize,
		FilesImported: e.tree.Meta.FilesImported,
		RootHash:      hex.EncodeToString(e.tree.RootHash()),
	}
}

// descriptor is the plain-data identity workers use to rebuild their
// own backend.
func (e *Engine) descriptor() storage.Descriptor {
	return storage.Descriptor{Location: e.base.Location(), Readonly: true}
}

// openWorkerStore rebuilds the engine's storage stack from a
// descriptor: raw backend plus the encryption wrapper when the
// database is encrypted.
func (e *Engine) openWorkerStore(ctx context.Context, d storage.Descriptor) (storage.Storage, error) {
	st, err := storage.Open(ctx, d.Location, d.Readonly, e.opts.S3)
	if err != nil {
		return nil, err
	}
	if e.opts.PublicKey != nil {
		return storage.NewEncryptedStorage(st, e.opts.PublicKey, e.opts.Keys), nil
	}
	return st, nil
}
