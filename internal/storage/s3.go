// internal/storage/s3.go
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"media-vault/internal/client"
)

const s3DeleteBatch = 1000

// S3Storage stores objects in a bucket under a key prefix. The location
// path is split at the first "/" into bucket and prefix.
type S3Storage struct {
	c        *client.S3
	bucket   string
	prefix   string
	readonly bool
}

func NewS3Storage(c *client.S3, path string, readonly bool) (*S3Storage, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty s3 path", ErrInvalidPath)
	}
	bucket, prefix := path, ""
	if i := strings.Index(path, "/"); i >= 0 {
		bucket, prefix = path[:i], path[i+1:]
	}
	return &S3Storage{c: c, bucket: bucket, prefix: prefix, readonly: readonly}, nil
}

func (s *S3Storage) Location() string {
	loc := "s3:" + s.bucket
	if s.prefix != "" {
		loc += "/" + s.prefix
	}
	return loc
}

func (s *S3Storage) IsReadonly() bool { return s.readonly }

func (s *S3Storage) key(path string) string {
	path = strings.Trim(path, "/")
	if path == "." {
		path = ""
	}
	if s.prefix == "" {
		return path
	}
	if path == "" {
		return s.prefix
	}
	return s.prefix + "/" + path
}

func (s *S3Storage) guard(op string) error {
	if s.readonly {
		return &ReadonlyError{Op: op}
	}
	return nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		code := ae.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

func isS3PreconditionFailed(err error) bool {
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == 412 {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() == "PreconditionFailed"
	}
	return false
}

func (s *S3Storage) IsEmpty(ctx context.Context, path string) (bool, error) {
	exists, err := s.DirExists(ctx, path)
	return !exists, err
}

func (s *S3Storage) listPage(ctx context.Context, path string, max int, next string) (*s3.ListObjectsV2Output, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Delimiter: aws.String("/"),
	}
	if dir := s.key(path); dir != "" {
		in.Prefix = aws.String(dir + "/")
	}
	if max > 0 {
		in.MaxKeys = aws.Int32(int32(max))
	}
	if next != "" {
		in.ContinuationToken = aws.String(next)
	}
	out, err := s.c.Client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("listing s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	return out, nil
}

// ListFiles returns object base names in the order S3 yields them
// (binary key order, so "file10" precedes "file2"; the fs backend's
// numeric-aware sort puts "file2" first).
func (s *S3Storage) ListFiles(ctx context.Context, path string, max int, next string) (*ListResult, error) {
	out, err := s.listPage(ctx, path, max, next)
	if err != nil {
		return nil, err
	}
	res := &ListResult{Names: make([]string, 0, len(out.Contents))}
	base := aws.ToString(out.Prefix)
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(aws.ToString(obj.Key), base)
		if name == "" {
			continue // the directory placeholder object
		}
		res.Names = append(res.Names, name)
	}
	if aws.ToBool(out.IsTruncated) {
		res.Next = aws.ToString(out.NextContinuationToken)
	}
	return res, nil
}

// ListDirs returns common prefixes as bare directory names, delimiter
// stripped.
func (s *S3Storage) ListDirs(ctx context.Context, path string, max int, next string) (*ListResult, error) {
	out, err := s.listPage(ctx, path, max, next)
	if err != nil {
		return nil, err
	}
	res := &ListResult{Names: make([]string, 0, len(out.CommonPrefixes))}
	base := aws.ToString(out.Prefix)
	for _, cp := range out.CommonPrefixes {
		name := strings.TrimPrefix(aws.ToString(cp.Prefix), base)
		res.Names = append(res.Names, strings.TrimSuffix(name, "/"))
	}
	if aws.ToBool(out.IsTruncated) {
		res.Next = aws.ToString(out.NextContinuationToken)
	}
	return res, nil
}

func (s *S3Storage) FileExists(ctx context.Context, path string) (bool, error) {
	info, err := s.Info(ctx, path)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// DirExists is true iff at least one object carries the directory
// prefix. An empty logical directory therefore reports false.
func (s *S3Storage) DirExists(ctx context.Context, path string) (bool, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	}
	if dir := s.key(path); dir != "" {
		in.Prefix = aws.String(dir + "/")
	}
	out, err := s.c.Client.ListObjectsV2(ctx, in)
	if err != nil {
		return false, fmt.Errorf("listing s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	return aws.ToInt32(out.KeyCount) > 0, nil
}

func (s *S3Storage) Info(ctx context.Context, path string) (*FileInfo, error) {
	out, err := s.c.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("heading s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	var mod time.Time
	if out.LastModified != nil {
		mod = out.LastModified.UTC()
	}
	return &FileInfo{
		ContentType:  aws.ToString(out.ContentType),
		Length:       aws.ToInt64(out.ContentLength),
		LastModified: mod,
	}, nil
}

func (s *S3Storage) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := s.c.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	return data, nil
}

func (s *S3Storage) Write(ctx context.Context, path, contentType string, data []byte) error {
	if err := s.guard("write"); err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.c.Client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("writing s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	return nil
}

func (s *S3Storage) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.c.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	return out.Body, nil
}

func (s *S3Storage) WriteStream(ctx context.Context, path, contentType string, r io.Reader, length int64) error {
	if err := s.guard("writeStream"); err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if length >= 0 {
		in.Body = r
		in.ContentLength = aws.Int64(length)
	} else {
		// Unknown length: buffer so the SDK can size the request.
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("writing s3://%s/%s: %w", s.bucket, s.key(path), err)
		}
		in.Body = bytes.NewReader(data)
	}
	if _, err := s.c.Client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("writing s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	return nil
}

func (s *S3Storage) DeleteFile(ctx context.Context, path string) error {
	if err := s.guard("deleteFile"); err != nil {
		return err
	}
	_, err := s.c.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("deleting s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	return nil
}

// DeleteDir pages through every object under the prefix and deletes in
// batches of at most 1000, the DeleteObjects limit.
func (s *S3Storage) DeleteDir(ctx context.Context, path string) error {
	if err := s.guard("deleteDir"); err != nil {
		return err
	}
	prefix := s.key(path)
	if prefix != "" {
		prefix += "/"
	}
	var token *string
	for {
		out, err := s.c.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("deleting s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for start := 0; start < len(out.Contents); start += s3DeleteBatch {
			end := start + s3DeleteBatch
			if end > len(out.Contents) {
				end = len(out.Contents)
			}
			ids := make([]types.ObjectIdentifier, 0, end-start)
			for _, obj := range out.Contents[start:end] {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
			_, err := s.c.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return fmt.Errorf("deleting s3://%s/%s: %w", s.bucket, prefix, err)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		token = out.NextContinuationToken
	}
}

func (s *S3Storage) CopyTo(ctx context.Context, src, dest string) error {
	if err := s.guard("copyTo"); err != nil {
		return err
	}
	source := s.bucket + "/" + s.key(src)
	_, err := s.c.Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key(dest)),
		CopySource: aws.String(url.PathEscape(source)),
	})
	if err != nil {
		return fmt.Errorf("copying s3://%s to %s: %w", source, dest, err)
	}
	return nil
}

// AcquireWriteLock PUTs the lock object with an If-None-Match: *
// precondition; the service arbitrates, so exactly one of N concurrent
// callers sees success and the rest get 412.
func (s *S3Storage) AcquireWriteLock(ctx context.Context, lockPath, owner string) (bool, error) {
	if err := s.guard("acquireWriteLock"); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	data, err := json.Marshal(WriteLockInfo{
		Owner:      owner,
		AcquiredAt: now,
		Timestamp:  now.UnixMilli(),
	})
	if err != nil {
		return false, err
	}
	_, err = s.c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(lockPath)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isS3PreconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("acquiring lock s3://%s/%s: %w", s.bucket, s.key(lockPath), err)
	}
	return true, nil
}

func (s *S3Storage) ReleaseWriteLock(ctx context.Context, lockPath string) error {
	if err := s.guard("releaseWriteLock"); err != nil {
		return err
	}
	return s.DeleteFile(ctx, lockPath)
}

func (s *S3Storage) CheckWriteLock(ctx context.Context, lockPath string) (*WriteLockInfo, error) {
	data, err := s.Read(ctx, lockPath)
	if err != nil || data == nil {
		return nil, err
	}
	var info WriteLockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, nil
	}
	return &info, nil
}
