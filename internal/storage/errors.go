// internal/storage/errors.go
package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath marks a malformed location or empty prefix.
	ErrInvalidPath = errors.New("invalid path")
)

// ReadonlyError is raised when a mutating operation reaches a readonly
// backend. The guard runs before any I/O.
type ReadonlyError struct {
	Op string
}

func (e *ReadonlyError) Error() string {
	return fmt.Sprintf("storage is readonly: %s", e.Op)
}

// IsReadonlyError reports whether err is a readonly violation.
func IsReadonlyError(err error) bool {
	var re *ReadonlyError
	return errors.As(err, &re)
}
