// internal/engine/engine_test.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-vault/internal/logging"
	"media-vault/internal/storage"
)

func openTestEngine(t *testing.T, root string, readonly bool) *Engine {
	t.Helper()
	eng, err := Open(context.Background(), Options{
		Location: "fs:" + root,
		Readonly: readonly,
		Workers:  4,
		Log:      logging.Discard(),
	})
	require.NoError(t, err)
	return eng
}

// writeSource creates a source file and returns an AddRequest for it.
func writeSource(t *testing.T, dir, name string, content []byte) AddRequest {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return AddRequest{
		Path:         path,
		ContentType:  "application/octet-stream",
		Length:       info.Size(),
		LastModified: info.ModTime().UTC(),
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

func TestAddFilePipeline(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	eng := openTestEngine(t, root, false)
	defer eng.Close(context.Background())
	ctx := context.Background()

	req := writeSource(t, srcDir, "photo.jpg", []byte("jpeg bytes here"))
	res, err := eng.AddFile(ctx, req)
	require.NoError(t, err)
	require.False(t, res.Existing)
	require.NotEmpty(t, res.AssetID)

	// The asset landed under assets/ and the tree knows its hash.
	node := eng.Tree().FindItemNode("assets/" + res.AssetID)
	require.NotNil(t, node)
	assert.Equal(t, int64(len("jpeg bytes here")), node.Size)

	// The metadata record is indexed by content hash.
	docs, err := eng.Collection().FindByIndex(ctx, "hash", res.Hash)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.AssetID, docs[0].ID())
	assert.Equal(t, "photo.jpg", docs[0]["origFileName"])

	// Adding identical content again is a no-op dedup hit.
	req2 := writeSource(t, srcDir, "copy.jpg", []byte("jpeg bytes here"))
	res2, err := eng.AddFile(ctx, req2)
	require.NoError(t, err)
	assert.True(t, res2.Existing)
	assert.Equal(t, res.AssetID, res2.AssetID)
	assert.Equal(t, int64(1), eng.Tree().Root.NodeCount)
}

func TestVerifyRoundTrip(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	eng := openTestEngine(t, root, false)
	defer eng.Close(context.Background())
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		req := writeSource(t, srcDir, fmt.Sprintf("file%d.bin", i), []byte(fmt.Sprintf("content %d", i)))
		res, err := eng.AddFile(ctx, req)
		require.NoError(t, err)
		ids[i] = res.AssetID
	}

	summary, err := eng.Verify(ctx, VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.NumUnmodified)
	assert.Empty(t, summary.Modified)
	assert.Empty(t, summary.Removed)
	assert.Empty(t, summary.New)
	assert.Zero(t, summary.NumFailures)

	// Corrupt one asset byte on disk.
	corrupt := filepath.Join(root, "assets", ids[0])
	raw, err := os.ReadFile(corrupt)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(corrupt, raw, 0o644))

	summary, err = eng.Verify(ctx, VerifyOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Modified, 1)
	assert.Equal(t, "assets/"+ids[0], summary.Modified[0].Name)
	assert.Contains(t, summary.Modified[0].Reasons, "content hash changed")

	// Delete another asset outright.
	require.NoError(t, os.Remove(filepath.Join(root, "assets", ids[1])))
	summary, err = eng.Verify(ctx, VerifyOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Removed, 1)
	assert.Equal(t, "assets/"+ids[1], summary.Removed[0])
	require.Len(t, summary.Modified, 1)
}

func TestVerifyFullModeAndFilter(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	eng := openTestEngine(t, root, false)
	defer eng.Close(context.Background())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := writeSource(t, srcDir, fmt.Sprintf("f%d", i), []byte(fmt.Sprintf("body %d", i)))
		_, err := eng.AddFile(ctx, req)
		require.NoError(t, err)
	}

	summary, err := eng.Verify(ctx, VerifyOptions{Full: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.NumUnmodified)

	summary, err = eng.Verify(ctx, VerifyOptions{PathFilter: "thumb/"})
	require.NoError(t, err)
	assert.Zero(t, summary.NumUnmodified)
}

func TestVerifyReportsNewFiles(t *testing.T) {
	root := t.TempDir()
	eng := openTestEngine(t, root, false)
	defer eng.Close(context.Background())
	ctx := context.Background()

	// A file dropped into assets/ behind the engine's back.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "assets", "stray"), []byte("untracked"), 0o644))

	summary, err := eng.Verify(ctx, VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"assets/stray"}, summary.New)
}

func TestReplicateTwoStores(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	srcDir := t.TempDir()
	ctx := context.Background()

	src := openTestEngine(t, srcRoot, false)
	for i := 0; i < 50; i++ {
		req := writeSource(t, srcDir, fmt.Sprintf("asset%02d.bin", i), []byte(fmt.Sprintf("payload-%02d", i)))
		_, err := src.AddFile(ctx, req)
		require.NoError(t, err)
	}

	dst := openTestEngine(t, dstRoot, false)
	defer dst.Close(ctx)

	summary, err := src.Replicate(ctx, dst, ReplicateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(50), summary.FilesConsidered)
	assert.Equal(t, int64(0), summary.ExistingFiles)
	assert.Equal(t, int64(50), summary.CopiedFiles)
	assert.Zero(t, summary.NumFailures)

	// Convergence: same leaves, same canonical shape, same root hash.
	assert.Equal(t, src.Tree().RootHash(), dst.Tree().RootHash())

	// Metadata records came across too.
	docs, err := dst.Collection().All(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 50)

	// A second run copies nothing.
	summary, err = src.Replicate(ctx, dst, ReplicateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(50), summary.FilesConsidered)
	assert.Equal(t, int64(50), summary.ExistingFiles)
	assert.Equal(t, int64(0), summary.CopiedFiles)

	require.NoError(t, src.Close(ctx))

	// The destination tree was persisted; verify over it is clean.
	vs, err := dst.Verify(ctx, VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(50), vs.NumUnmodified)
	assert.Empty(t, vs.Modified)
}

func TestSummary(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	eng := openTestEngine(t, root, false)
	defer eng.Close(context.Background())
	ctx := context.Background()

	req := writeSource(t, srcDir, "one.bin", []byte("12345"))
	_, err := eng.AddFile(ctx, req)
	require.NoError(t, err)

	s := eng.Summary()
	assert.Equal(t, uint64(1), s.TotalAssets)
	assert.Equal(t, uint64(5), s.TotalBytes)
	assert.Equal(t, uint64(1), s.FilesImported)
	assert.NotEmpty(t, s.RootHash)
	assert.Equal(t, eng.Tree().Meta.ID, s.TreeID)
}

func TestTreePersistsAcrossOpens(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	ctx := context.Background()

	eng := openTestEngine(t, root, false)
	req := writeSource(t, srcDir, "keep.bin", []byte("persist me"))
	res, err := eng.AddFile(ctx, req)
	require.NoError(t, err)
	rootHash := append([]byte(nil), eng.Tree().RootHash()...)
	treeID := eng.Tree().Meta.ID
	require.NoError(t, eng.Close(ctx))

	again := openTestEngine(t, root, true)
	defer again.Close(ctx)
	assert.Equal(t, treeID, again.Tree().Meta.ID)
	assert.Equal(t, rootHash, again.Tree().RootHash())
	assert.NotNil(t, again.Tree().FindItemNode("assets/"+res.AssetID))
}

func TestSecondWriterIsRejected(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	first := openTestEngine(t, root, false)
	defer first.Close(ctx)

	_, err := Open(ctx, Options{Location: "fs:" + root, Log: logging.Discard()})
	require.ErrorIs(t, err, ErrLockHeld)

	// Readonly opens are always allowed alongside the writer.
	reader := openTestEngine(t, root, true)
	require.NoError(t, reader.Close(ctx))
}

func TestStaleLockIsBroken(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	st, err := storage.NewFileStorage(root, false)
	require.NoError(t, err)
	stale := storage.WriteLockInfo{
		Owner:      "dead-process@old-host:ffff",
		AcquiredAt: time.Now().Add(-time.Hour),
		Timestamp:  time.Now().Add(-11 * time.Second).UnixMilli(),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, st.Write(ctx, writeLockPath, "application/json", data))

	eng := openTestEngine(t, root, false)
	defer eng.Close(ctx)

	info, err := st.CheckWriteLock(ctx, writeLockPath)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.NotEqual(t, "dead-process@old-host:ffff", info.Owner)
}

func TestUnreadableLockIsBroken(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	st, err := storage.NewFileStorage(root, false)
	require.NoError(t, err)
	require.NoError(t, st.Write(ctx, writeLockPath, "", []byte("{not json")))

	eng := openTestEngine(t, root, false)
	require.NoError(t, eng.Close(ctx))
}

func TestReadonlyEngineRefusesWrites(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	ctx := context.Background()

	eng := openTestEngine(t, root, true)
	defer eng.Close(ctx)

	req := writeSource(t, srcDir, "nope.bin", []byte("denied"))
	_, err := eng.AddFile(ctx, req)
	assert.True(t, storage.IsReadonlyError(err))
}

func TestScanEmitsFilesAndResumes(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	st, err := storage.NewFileStorage(root, false)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, st.Write(ctx, fmt.Sprintf("assets/a%d", i), "", []byte{byte(i)}))
	}

	var names []string
	err = Scan(ctx, st, "assets", "", []string{"a3"}, func(ev ScanEvent) bool {
		if ev.Kind == ScanFile {
			names = append(names, ev.Name)
		}
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"assets/a1", "assets/a2", "assets/a4", "assets/a5"}, names)

	// Restart from a cursor.
	names = nil
	err = Scan(ctx, st, "assets", "a2", nil, func(ev ScanEvent) bool {
		if ev.Kind == ScanFile {
			names = append(names, ev.Name)
		}
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"assets/a3", "assets/a4", "assets/a5"}, names)
}
