// internal/engine/verify.go
package engine

import (
	"context"
	"encoding/hex"
	"time"

	"media-vault/internal/merkle"
	"media-vault/internal/storage"
	"media-vault/internal/task"
)

type VerifyOptions struct {
	// Full forces a rehash of every file regardless of metadata
	// agreement.
	Full bool
	// PathFilter restricts verification to names with this prefix.
	PathFilter string
}

type ModifiedFile struct {
	Name    string
	Reasons []string
}

type VerifySummary struct {
	NumUnmodified int64
	Modified      []ModifiedFile
	New           []string
	Removed       []string
	NumFailures   int64
}

// leafCheck is the plain-data task input: everything a worker needs to
// verify one leaf without touching the engine's tree.
type leafCheck struct {
	Name         string
	Hash         string
	Size         int64
	LastModified time.Time
	Full         bool
}

type leafResult struct {
	Name    string
	Status  string // unmodified | modified | removed
	Reasons []string
}

// Verify walks the persisted tree in order and checks every matching
// leaf against the backend: a missing file is removed, a metadata
// mismatch triggers a rehash, and only a digest disagreement reports
// modified. Leaves are checked on the worker pool; each worker
// reconstructs its own backend from the engine's descriptor.
func (e *Engine) Verify(ctx context.Context, opts VerifyOptions) (*VerifySummary, error) {
	summary := &VerifySummary{}
	queue := task.NewQueue(ctx, e.workers)
	queue.OnComplete(func(value interface{}, err error) {
		if err != nil {
			summary.NumFailures++
			e.log.Errorf("verify task: %v", err)
			return
		}
		res := value.(*leafResult)
		switch res.Status {
		case "unmodified":
			summary.NumUnmodified++
		case "modified":
			summary.Modified = append(summary.Modified, ModifiedFile{Name: res.Name, Reasons: res.Reasons})
		case "removed":
			summary.Removed = append(summary.Removed, res.Name)
		}
	})

	desc := e.descriptor()
	inTree := map[string]bool{}
	err := merkle.TraverseTree(ctx, e.tree.Root, func(ctx context.Context, leaf *merkle.SortNode) (bool, error) {
		inTree[leaf.Name] = true
		if !matchesFilter(leaf.Name, opts.PathFilter) {
			return true, nil
		}
		check := leafCheck{
			Name:         leaf.Name,
			Hash:         hex.EncodeToString(leaf.ContentHash),
			Size:         leaf.Size,
			LastModified: leaf.LastModified,
			Full:         opts.Full,
		}
		queue.Add(func(ctx context.Context) (interface{}, error) {
			st, err := e.openWorkerStore(ctx, desc)
			if err != nil {
				return nil, err
			}
			return verifyLeaf(ctx, st, check)
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if err := queue.AwaitAll(); err != nil {
		return nil, err
	}

	// Files on the backend that the tree does not know about.
	for _, dir := range []string{assetsPrefix, thumbPrefix, displayPrefix} {
		err := Scan(ctx, e.base, dir, "", nil, func(ev ScanEvent) bool {
			if ev.Kind != ScanFile {
				return true
			}
			if !matchesFilter(ev.Name, opts.PathFilter) {
				return true
			}
			if !inTree[ev.Name] {
				summary.New = append(summary.New, ev.Name)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return summary, nil
}

func verifyLeaf(ctx context.Context, st storage.Storage, check leafCheck) (*leafResult, error) {
	info, err := st.Info(ctx, check.Name)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return &leafResult{Name: check.Name, Status: "removed"}, nil
	}
	sizeChanged := check.Size != info.Length
	timestampChanged := !check.LastModified.Equal(info.LastModified)
	if !check.Full && !sizeChanged && !timestampChanged {
		return &leafResult{Name: check.Name, Status: "unmodified"}, nil
	}

	r, err := st.ReadStream(ctx, check.Name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	hash, _, err := hashStream(r)
	if err != nil {
		return nil, err
	}
	if hash == check.Hash {
		// Metadata-only drift; the content is intact.
		return &leafResult{Name: check.Name, Status: "unmodified"}, nil
	}
	reasons := []string{"content hash changed"}
	if sizeChanged {
		reasons = append(reasons, "size changed")
	}
	if timestampChanged {
		reasons = append(reasons, "timestamp changed")
	}
	return &leafResult{Name: check.Name, Status: "modified", Reasons: reasons}, nil
}

func matchesFilter(name, filter string) bool {
	if filter == "" {
		return true
	}
	return len(name) >= len(filter) && name[:len(filter)] == filter
}
