// internal/storage/retry.go
package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryAttempts = 3
	retryBase     = 200 * time.Millisecond
)

// WithRetry runs op up to three times with exponential backoff (200 ms
// base). Readonly violations are not retried.
func WithRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBase
	return backoff.Retry(func() error {
		err := op()
		if IsReadonlyError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, retryAttempts-1), ctx))
}
