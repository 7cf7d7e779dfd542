// internal/storage/storage.go
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"media-vault/internal/client"
)

// FileInfo describes a stored object. ContentType is empty for local
// filesystems, which do not persist it out-of-band.
type FileInfo struct {
	ContentType  string
	Length       int64
	LastModified time.Time
}

// ListResult is one page of a listing. Next is the continuation token
// for the following page, empty when the listing is exhausted.
type ListResult struct {
	Names []string
	Next  string
}

// WriteLockInfo is the JSON sentinel guaranteeing single-writer
// semantics across processes.
type WriteLockInfo struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
	Timestamp  int64     `json:"timestamp"` // ms since epoch, refreshed by the holder
}

// Storage is a byte store: a local directory or an S3 bucket/prefix.
// Paths are opaque /-separated strings relative to the store's root.
// Read and Info report absence as (nil, nil).
type Storage interface {
	Location() string
	IsReadonly() bool

	IsEmpty(ctx context.Context, path string) (bool, error)
	ListFiles(ctx context.Context, path string, max int, next string) (*ListResult, error)
	ListDirs(ctx context.Context, path string, max int, next string) (*ListResult, error)
	FileExists(ctx context.Context, path string) (bool, error)
	DirExists(ctx context.Context, path string) (bool, error)
	Info(ctx context.Context, path string) (*FileInfo, error)

	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path, contentType string, data []byte) error
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)
	WriteStream(ctx context.Context, path, contentType string, r io.Reader, length int64) error

	DeleteFile(ctx context.Context, path string) error
	DeleteDir(ctx context.Context, path string) error
	CopyTo(ctx context.Context, src, dest string) error

	AcquireWriteLock(ctx context.Context, lockPath, owner string) (bool, error)
	ReleaseWriteLock(ctx context.Context, lockPath string) error
	CheckWriteLock(ctx context.Context, lockPath string) (*WriteLockInfo, error)
}

// Descriptor is the serializable identity of a backend. Workers rebuild
// their own Storage from it instead of sharing handles.
type Descriptor struct {
	Location string `json:"location"`
	Readonly bool   `json:"readonly"`
}

// Opener is the signature of a function that rebuilds a Storage from a
// Descriptor.
type Opener func(ctx context.Context, d Descriptor) (Storage, error)

// ParseLocation splits a location URI into scheme and path. A missing
// scheme defaults to fs. Backslashes are normalized.
func ParseLocation(location string) (scheme, path string, err error) {
	location = strings.ReplaceAll(location, `\`, "/")
	switch {
	case strings.HasPrefix(location, "fs:"):
		scheme, path = "fs", location[len("fs:"):]
	case strings.HasPrefix(location, "s3:"):
		scheme, path = "s3", location[len("s3:"):]
	default:
		scheme, path = "fs", location
	}
	if path == "" {
		return "", "", fmt.Errorf("%w: empty path in location %q", ErrInvalidPath, location)
	}
	return scheme, path, nil
}

// Open builds a backend for a location URI. s3c may be nil for fs
// locations.
func Open(ctx context.Context, location string, readonly bool, s3c *client.S3) (Storage, error) {
	scheme, path, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "fs":
		return NewFileStorage(path, readonly)
	case "s3":
		if s3c == nil {
			return nil, fmt.Errorf("no s3 client for location %q", location)
		}
		return NewS3Storage(s3c, path, readonly)
	}
	return nil, fmt.Errorf("%w: unknown scheme %q", ErrInvalidPath, scheme)
}

// JoinPath composes a prefix onto a path. A prefix ending in ":" is a
// scheme tag and concatenates verbatim; anything else is /-joined.
func JoinPath(prefix, path string) string {
	if path == "" {
		return prefix
	}
	if strings.HasSuffix(prefix, ":") {
		return prefix + path
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(path, "/")
}
