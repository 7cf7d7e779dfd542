// internal/storage/s3_test.go
package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-vault/internal/client"
)

func TestNewS3StorageParsesBucketAndPrefix(t *testing.T) {
	st, err := NewS3Storage(&client.S3{}, "bucket/deep/prefix", false)
	require.NoError(t, err)
	assert.Equal(t, "s3:bucket/deep/prefix", st.Location())
	assert.Equal(t, "deep/prefix/assets/x", st.key("assets/x"))
	assert.Equal(t, "deep/prefix", st.key(""))

	st, err = NewS3Storage(&client.S3{}, "bucket", false)
	require.NoError(t, err)
	assert.Equal(t, "s3:bucket", st.Location())
	assert.Equal(t, "assets/x", st.key("assets/x"))
}

func TestNewS3StorageRejectsEmptyPath(t *testing.T) {
	_, err := NewS3Storage(&client.S3{}, "", false)
	require.ErrorIs(t, err, ErrInvalidPath)
	_, err = NewS3Storage(&client.S3{}, "///", false)
	require.ErrorIs(t, err, ErrInvalidPath)
}

// The readonly guard runs before any request is built, so a nil client
// never gets touched.
func TestS3ReadonlyGuardPrecedesIO(t *testing.T) {
	st, err := NewS3Storage(&client.S3{}, "bucket/prefix", true)
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, IsReadonlyError(st.Write(ctx, "k", "", []byte{1})))
	assert.True(t, IsReadonlyError(st.WriteStream(ctx, "k", "", strings.NewReader("x"), 1)))
	assert.True(t, IsReadonlyError(st.DeleteFile(ctx, "k")))
	assert.True(t, IsReadonlyError(st.DeleteDir(ctx, "k")))
	assert.True(t, IsReadonlyError(st.CopyTo(ctx, "a", "b")))
	_, err = st.AcquireWriteLock(ctx, "write.lock", "me")
	assert.True(t, IsReadonlyError(err))
	assert.True(t, IsReadonlyError(st.ReleaseWriteLock(ctx, "write.lock")))
}
