// internal/storage/prefix.go
package storage

import (
	"context"
	"fmt"
	"io"
)

// PrefixStorage namespaces every path of an inner backend under a
// constant prefix. Lock operations delegate like everything else.
type PrefixStorage struct {
	inner  Storage
	prefix string
}

func NewPrefixStorage(inner Storage, prefix string) (*PrefixStorage, error) {
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty storage prefix", ErrInvalidPath)
	}
	return &PrefixStorage{inner: inner, prefix: prefix}, nil
}

func (s *PrefixStorage) path(p string) string { return JoinPath(s.prefix, p) }

func (s *PrefixStorage) Location() string { return JoinPath(s.inner.Location(), s.prefix) }
func (s *PrefixStorage) IsReadonly() bool { return s.inner.IsReadonly() }

func (s *PrefixStorage) IsEmpty(ctx context.Context, path string) (bool, error) {
	return s.inner.IsEmpty(ctx, s.path(path))
}

func (s *PrefixStorage) ListFiles(ctx context.Context, path string, max int, next string) (*ListResult, error) {
	return s.inner.ListFiles(ctx, s.path(path), max, next)
}

func (s *PrefixStorage) ListDirs(ctx context.Context, path string, max int, next string) (*ListResult, error) {
	return s.inner.ListDirs(ctx, s.path(path), max, next)
}

func (s *PrefixStorage) FileExists(ctx context.Context, path string) (bool, error) {
	return s.inner.FileExists(ctx, s.path(path))
}

func (s *PrefixStorage) DirExists(ctx context.Context, path string) (bool, error) {
	return s.inner.DirExists(ctx, s.path(path))
}

func (s *PrefixStorage) Info(ctx context.Context, path string) (*FileInfo, error) {
	return s.inner.Info(ctx, s.path(path))
}

func (s *PrefixStorage) Read(ctx context.Context, path string) ([]byte, error) {
	return s.inner.Read(ctx, s.path(path))
}

func (s *PrefixStorage) Write(ctx context.Context, path, contentType string, data []byte) error {
	return s.inner.Write(ctx, s.path(path), contentType, data)
}

func (s *PrefixStorage) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.inner.ReadStream(ctx, s.path(path))
}

func (s *PrefixStorage) WriteStream(ctx context.Context, path, contentType string, r io.Reader, length int64) error {
	return s.inner.WriteStream(ctx, s.path(path), contentType, r, length)
}

func (s *PrefixStorage) DeleteFile(ctx context.Context, path string) error {
	return s.inner.DeleteFile(ctx, s.path(path))
}

func (s *PrefixStorage) DeleteDir(ctx context.Context, path string) error {
	return s.inner.DeleteDir(ctx, s.path(path))
}

func (s *PrefixStorage) CopyTo(ctx context.Context, src, dest string) error {
	return s.inner.CopyTo(ctx, s.path(src), s.path(dest))
}

func (s *PrefixStorage) AcquireWriteLock(ctx context.Context, lockPath, owner string) (bool, error) {
	return s.inner.AcquireWriteLock(ctx, s.path(lockPath), owner)
}

func (s *PrefixStorage) ReleaseWriteLock(ctx context.Context, lockPath string) error {
	return s.inner.ReleaseWriteLock(ctx, s.path(lockPath))
}

func (s *PrefixStorage) CheckWriteLock(ctx context.Context, lockPath string) (*WriteLockInfo, error) {
	return s.inner.CheckWriteLock(ctx, s.path(lockPath))
}
