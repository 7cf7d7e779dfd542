// internal/engine/errors.go
package engine

import "errors"

var (
	// ErrLockHeld: another engine holds the database write lock.
	ErrLockHeld = errors.New("write lock held")

	// ErrLockLost: the refresher found a foreign owner in our lock
	// file. Fatal to writes.
	ErrLockLost = errors.New("write lock lost")

	// ErrHashMismatch: a rehash of written bytes disagrees with the
	// recorded content hash.
	ErrHashMismatch = errors.New("content hash mismatch")
)
