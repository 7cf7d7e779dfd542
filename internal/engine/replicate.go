// internal/engine/replicate.go
package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"media-vault/internal/docdb"
	"media-vault/internal/merkle"
	"media-vault/internal/storage"
	"media-vault/internal/task"
)

type ReplicateOptions struct {
	PathFilter string
}

type ReplicateSummary struct {
	FilesConsidered int64
	ExistingFiles   int64
	CopiedFiles     int64
	NumFailures     int64
}

// Replicate brings dst up to date with this engine: every leaf of the
// source tree is compared by hash against the destination tree and
// copied when absent or different, then the metadata collections are
// synced record by record. Copies run on the worker pool; completions
// are folded one at a time into the destination tree, whose canonical
// shape makes the result independent of copy completion order, so a
// replica converges to the source root hash.
func (e *Engine) Replicate(ctx context.Context, dst *Engine, opts ReplicateOptions) (*ReplicateSummary, error) {
	if err := dst.checkWritable("replicate"); err != nil {
		return nil, err
	}
	summary := &ReplicateSummary{}

	srcDesc := e.descriptor()
	dstDesc := storage.Descriptor{Location: dst.base.Location(), Readonly: false}

	// The destination tree is read during traversal and mutated by the
	// fold; both sides take this lock.
	var treeMu sync.Mutex
	var copies int
	var foldErr error

	queue := task.NewQueue(ctx, e.workers)
	queue.OnComplete(func(value interface{}, err error) {
		if err != nil {
			summary.NumFailures++
			e.log.Errorf("replicate: %v", err)
			return
		}
		item := value.(merkle.HashedItem)
		treeMu.Lock()
		defer treeMu.Unlock()
		if err := dst.tree.UpsertItem(item); err != nil {
			foldErr = err
			return
		}
		summary.CopiedFiles++
		copies++
		if copies%flushEvery == 0 {
			if err := dst.saveTree(ctx); err != nil {
				e.log.Warnf("periodic destination tree save: %v", err)
			}
		}
	})

	err := merkle.TraverseTree(ctx, e.tree.Root, func(ctx context.Context, leaf *merkle.SortNode) (bool, error) {
		if !matchesFilter(leaf.Name, opts.PathFilter) {
			return true, nil
		}
		summary.FilesConsidered++
		treeMu.Lock()
		dstNode := dst.tree.FindItemNode(leaf.Name)
		treeMu.Unlock()
		if dstNode != nil && bytes.Equal(dstNode.ContentHash, leaf.ContentHash) {
			summary.ExistingFiles++
			return true, nil
		}
		item := merkle.HashedItem{
			Name:         leaf.Name,
			Hash:         append([]byte(nil), leaf.ContentHash...),
			Length:       leaf.Size,
			LastModified: leaf.LastModified,
		}
		queue.Add(func(ctx context.Context) (interface{}, error) {
			srcStore, err := e.openWorkerStore(ctx, srcDesc)
			if err != nil {
				return nil, err
			}
			dstStore, err := dst.openWorkerStore(ctx, dstDesc)
			if err != nil {
				return nil, err
			}
			if err := copyLeaf(ctx, srcStore, dstStore, item); err != nil {
				return nil, fmt.Errorf("copying %s: %w", item.Name, err)
			}
			return item, nil
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if err := queue.AwaitAll(); err != nil {
		return nil, err
	}
	if foldErr != nil {
		return nil, foldErr
	}

	if err := e.syncDatabase(ctx, dst); err != nil {
		return nil, err
	}
	if err := dst.saveTree(ctx); err != nil {
		return nil, err
	}
	return summary, nil
}

// copyLeaf streams one file across backends and rehashes the written
// copy against the source leaf.
func copyLeaf(ctx context.Context, src, dst storage.Storage, item merkle.HashedItem) error {
	r, err := src.ReadStream(ctx, item.Name)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := dst.WriteStream(ctx, item.Name, "", r, -1); err != nil {
		return err
	}
	dr, err := dst.ReadStream(ctx, item.Name)
	if err != nil {
		return err
	}
	defer dr.Close()
	hash, _, err := hashStream(dr)
	if err != nil {
		return err
	}
	if !bytes.Equal(mustDecodeHex(hash), item.Hash) {
		// Leave nothing the destination tree would have to lie about.
		if derr := dst.DeleteFile(ctx, item.Name); derr != nil {
			return fmt.Errorf("%w (cleanup failed: %v)", ErrHashMismatch, derr)
		}
		return ErrHashMismatch
	}
	return nil
}

// syncDatabase walks every source collection and insert/replaces each
// record whose stable JSON differs at the destination.
func (e *Engine) syncDatabase(ctx context.Context, dst *Engine) error {
	names, err := e.db.Collections(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		srcColl := e.db.Collection(name)
		dstColl := dst.db.Collection(name)
		docs, err := srcColl.All(ctx)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			id := doc.ID()
			if id == "" {
				continue
			}
			found, err := dstColl.FindByIndex(ctx, "_id", id)
			if err != nil {
				return err
			}
			switch {
			case len(found) == 0:
				if err := dstColl.InsertOne(ctx, doc); err != nil {
					return err
				}
			case !docdb.Equal(found[0], doc):
				if err := dstColl.ReplaceOne(ctx, id, doc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
