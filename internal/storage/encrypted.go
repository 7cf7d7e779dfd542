// internal/storage/encrypted.go
package storage

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"

	"media-vault/internal/vaultcrypt"
)

// EncryptedStorage transparently encrypts bodies on the way in and
// decrypts them on the way out. Everything else, including the lock
// operations, passes through. Info reports the on-disk (encrypted)
// length; callers treat length as opaque.
type EncryptedStorage struct {
	inner Storage
	pub   *rsa.PublicKey           // write key; all new writes use the headed format
	keys  vaultcrypt.PrivateKeyMap // read keys, one per rotation
}

func NewEncryptedStorage(inner Storage, pub *rsa.PublicKey, keys vaultcrypt.PrivateKeyMap) *EncryptedStorage {
	return &EncryptedStorage{inner: inner, pub: pub, keys: keys}
}

func (s *EncryptedStorage) Location() string { return s.inner.Location() }
func (s *EncryptedStorage) IsReadonly() bool { return s.inner.IsReadonly() }

func (s *EncryptedStorage) IsEmpty(ctx context.Context, path string) (bool, error) {
	return s.inner.IsEmpty(ctx, path)
}

func (s *EncryptedStorage) ListFiles(ctx context.Context, path string, max int, next string) (*ListResult, error) {
	return s.inner.ListFiles(ctx, path, max, next)
}

func (s *EncryptedStorage) ListDirs(ctx context.Context, path string, max int, next string) (*ListResult, error) {
	return s.inner.ListDirs(ctx, path, max, next)
}

func (s *EncryptedStorage) FileExists(ctx context.Context, path string) (bool, error) {
	return s.inner.FileExists(ctx, path)
}

func (s *EncryptedStorage) DirExists(ctx context.Context, path string) (bool, error) {
	return s.inner.DirExists(ctx, path)
}

func (s *EncryptedStorage) Info(ctx context.Context, path string) (*FileInfo, error) {
	return s.inner.Info(ctx, path)
}

func (s *EncryptedStorage) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := s.inner.Read(ctx, path)
	if err != nil || data == nil {
		return nil, err
	}
	pt, err := vaultcrypt.DecryptBuffer(data, s.keys)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", path, err)
	}
	return pt, nil
}

func (s *EncryptedStorage) Write(ctx context.Context, path, contentType string, data []byte) error {
	ct, err := vaultcrypt.EncryptBuffer(s.pub, data)
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", path, err)
	}
	return s.inner.Write(ctx, path, contentType, ct)
}

func (s *EncryptedStorage) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.inner.ReadStream(ctx, path)
	if err != nil {
		return nil, err
	}
	return &decryptReader{src: r, dec: vaultcrypt.NewDecryptor(s.keys)}, nil
}

func (s *EncryptedStorage) WriteStream(ctx context.Context, path, contentType string, r io.Reader, length int64) error {
	enc, err := vaultcrypt.NewEncryptor(s.pub)
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", path, err)
	}
	// The encrypted length differs from the plaintext length, so it is
	// not forwarded.
	return s.inner.WriteStream(ctx, path, contentType, &encryptReader{src: r, enc: enc}, -1)
}

func (s *EncryptedStorage) DeleteFile(ctx context.Context, path string) error {
	return s.inner.DeleteFile(ctx, path)
}

func (s *EncryptedStorage) DeleteDir(ctx context.Context, path string) error {
	return s.inner.DeleteDir(ctx, path)
}

func (s *EncryptedStorage) CopyTo(ctx context.Context, src, dest string) error {
	return s.inner.CopyTo(ctx, src, dest)
}

func (s *EncryptedStorage) AcquireWriteLock(ctx context.Context, lockPath, owner string) (bool, error) {
	return s.inner.AcquireWriteLock(ctx, lockPath, owner)
}

func (s *EncryptedStorage) ReleaseWriteLock(ctx context.Context, lockPath string) error {
	return s.inner.ReleaseWriteLock(ctx, lockPath)
}

func (s *EncryptedStorage) CheckWriteLock(ctx context.Context, lockPath string) (*WriteLockInfo, error) {
	return s.inner.CheckWriteLock(ctx, lockPath)
}

const streamChunkSize = 32 * 1024

// encryptReader adapts the incremental encryptor to io.Reader.
type encryptReader struct {
	src io.Reader
	enc *vaultcrypt.Encryptor
	buf []byte
	eof bool
	err error
}

func (r *encryptReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.eof {
			return 0, io.EOF
		}
		chunk := make([]byte, streamChunkSize)
		n, err := r.src.Read(chunk)
		if n > 0 {
			out, uerr := r.enc.Update(chunk[:n])
			if uerr != nil {
				r.err = uerr
				return 0, uerr
			}
			r.buf = out
		}
		if err == io.EOF {
			out, ferr := r.enc.Finalize()
			if ferr != nil {
				r.err = ferr
				return 0, ferr
			}
			r.buf = append(r.buf, out...)
			r.eof = true
		} else if err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// decryptReader adapts the incremental decryptor to io.ReadCloser.
type decryptReader struct {
	src io.ReadCloser
	dec *vaultcrypt.Decryptor
	buf []byte
	eof bool
	err error
}

func (r *decryptReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.eof {
			return 0, io.EOF
		}
		chunk := make([]byte, streamChunkSize)
		n, err := r.src.Read(chunk)
		if n > 0 {
			out, uerr := r.dec.Update(chunk[:n])
			if uerr != nil {
				r.err = uerr
				return 0, uerr
			}
			r.buf = out
		}
		if err == io.EOF {
			out, ferr := r.dec.Finalize()
			if ferr != nil {
				r.err = ferr
				return 0, ferr
			}
			r.buf = append(r.buf, out...)
			r.eof = true
		} else if err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *decryptReader) Close() error {
	return r.src.Close()
}
