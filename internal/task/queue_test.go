// internal/task/queue_test.go
package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFoldsResults(t *testing.T) {
	q := NewQueue(context.Background(), 4)
	var sum, failures int
	q.OnComplete(func(value interface{}, err error) {
		if err != nil {
			failures++
			return
		}
		sum += value.(int)
	})
	for i := 1; i <= 100; i++ {
		i := i
		q.Add(func(ctx context.Context) (interface{}, error) {
			if i%10 == 0 {
				return nil, errors.New("boom")
			}
			return i, nil
		})
	}
	require.NoError(t, q.AwaitAll())
	assert.Equal(t, 10, failures, "failing tasks are folded, not fatal")
	assert.Equal(t, 5050-(10+20+30+40+50+60+70+80+90+100), sum)
}

func TestQueueRespectsWorkerLimit(t *testing.T) {
	q := NewQueue(context.Background(), 2)
	var current, peak int32
	q.OnComplete(func(interface{}, error) {})
	for i := 0; i < 20; i++ {
		q.Add(func(ctx context.Context) (interface{}, error) {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			atomic.AddInt32(&current, -1)
			return nil, nil
		})
	}
	require.NoError(t, q.AwaitAll())
	assert.LessOrEqual(t, peak, int32(2))
}
