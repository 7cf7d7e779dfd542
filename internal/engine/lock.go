// internal/engine/lock.go
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"media-vault/internal/logging"
	"media-vault/internal/storage"
)

const (
	writeLockPath = ".db/write.lock"

	// A holder that has not refreshed its timestamp for this long is
	// considered dead and its lock may be broken.
	lockStaleAfter = 10 * time.Second

	lockRefreshEvery = 4 * time.Second
)

// newLockOwner builds the "<pid>@<host>:<random>" owner id.
func newLockOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("%d@%s:%s", os.Getpid(), host, hex.EncodeToString(buf))
}

// lockKeeper owns the database write lock: it acquires it, refreshes
// the timestamp in the background, and releases it on every exit path.
// The lock file is written through the raw backend so other parties can
// read its JSON regardless of database encryption.
type lockKeeper struct {
	st    storage.Storage
	log   logging.Logger
	owner string

	stop chan struct{}
	done chan struct{}
	lost chan struct{}
}

// acquireLock attempts the lock once, breaking a stale or unreadable
// holder. Returns ErrLockHeld when a live holder is present.
func acquireLock(ctx context.Context, st storage.Storage, log logging.Logger, owner string) (*lockKeeper, error) {
	ok, err := st.AcquireWriteLock(ctx, writeLockPath, owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		info, err := st.CheckWriteLock(ctx, writeLockPath)
		if err != nil {
			return nil, err
		}
		stale := info == nil || time.Since(time.UnixMilli(info.Timestamp)) > lockStaleAfter
		if !stale {
			return nil, fmt.Errorf("%w by %s", ErrLockHeld, info.Owner)
		}
		if info != nil {
			log.Warnf("breaking stale write lock held by %s", info.Owner)
		} else {
			log.Warnf("breaking unreadable write lock")
		}
		if err := st.ReleaseWriteLock(ctx, writeLockPath); err != nil {
			return nil, err
		}
		ok, err = st.AcquireWriteLock(ctx, writeLockPath, owner)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: lost race after breaking stale lock", ErrLockHeld)
		}
	}
	k := &lockKeeper{
		st:    st,
		log:   log,
		owner: owner,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		lost:  make(chan struct{}),
	}
	go k.run()
	return k, nil
}

func (k *lockKeeper) run() {
	defer close(k.done)
	ticker := time.NewTicker(lockRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			if err := k.refresh(); err != nil {
				k.log.Errorf("write lock lost: %v", err)
				close(k.lost)
				return
			}
		}
	}
}

// refresh verifies we are still the recorded owner before rewriting the
// timestamp; a foreign owner means the lock was broken under us.
func (k *lockKeeper) refresh() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockRefreshEvery)
	defer cancel()
	info, err := k.st.CheckWriteLock(ctx, writeLockPath)
	if err != nil {
		return err
	}
	if info == nil || info.Owner != k.owner {
		return ErrLockLost
	}
	now := time.Now().UTC()
	data, err := json.Marshal(storage.WriteLockInfo{
		Owner:      k.owner,
		AcquiredAt: info.AcquiredAt,
		Timestamp:  now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return k.st.Write(ctx, writeLockPath, "application/json", data)
}

// lostCh is closed when the lock is lost; the engine must stop
// accepting writes.
func (k *lockKeeper) lostCh() <-chan struct{} { return k.lost }

func (k *lockKeeper) release(ctx context.Context) error {
	close(k.stop)
	<-k.done
	select {
	case <-k.lost:
		// Not ours to delete anymore.
		return nil
	default:
	}
	return k.st.ReleaseWriteLock(ctx, writeLockPath)
}
