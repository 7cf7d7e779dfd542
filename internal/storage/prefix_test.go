// internal/storage/prefix_test.go
package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "fs:/var/db", JoinPath("fs:", "/var/db"))
	assert.Equal(t, "s3:bucket/prefix", JoinPath("s3:", "bucket/prefix"))
	assert.Equal(t, "assets/abc", JoinPath("assets", "abc"))
	assert.Equal(t, "a/b/c", JoinPath("a/b", "c"))
	assert.Equal(t, "a/b", JoinPath("a/", "/b"))
	assert.Equal(t, "pfx", JoinPath("pfx", ""))
}

func TestPrefixRejectsEmpty(t *testing.T) {
	inner := newFS(t, false)
	_, err := NewPrefixStorage(inner, "")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestPrefixNamespacesPaths(t *testing.T) {
	inner := newFS(t, false)
	ctx := context.Background()
	assets, err := NewPrefixStorage(inner, "assets")
	require.NoError(t, err)

	require.NoError(t, assets.Write(ctx, "id1", "", []byte("body")))

	// Visible through the wrapper and at the prefixed inner path.
	got, err := assets.Read(ctx, "id1")
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), got)
	got, err = inner.Read(ctx, "assets/id1")
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), got)

	assert.Equal(t, JoinPath(inner.Location(), "assets"), assets.Location())
	assert.Equal(t, inner.IsReadonly(), assets.IsReadonly())
}

func TestPrefixDelegatesLocks(t *testing.T) {
	inner := newFS(t, false)
	ctx := context.Background()
	meta, err := NewPrefixStorage(inner, "metadata")
	require.NoError(t, err)

	ok, err := meta.AcquireWriteLock(ctx, ".db/write.lock", "me")
	require.NoError(t, err)
	require.True(t, ok)

	info, err := inner.CheckWriteLock(ctx, "metadata/.db/write.lock")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "me", info.Owner)

	require.NoError(t, meta.ReleaseWriteLock(ctx, ".db/write.lock"))
	info, err = meta.CheckWriteLock(ctx, ".db/write.lock")
	require.NoError(t, err)
	assert.Nil(t, info)
}
