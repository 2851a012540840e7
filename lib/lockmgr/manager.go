package lockmgr

import (
	"context"
	"github.com/ValentinKolb/rkv/rpc/client"
	"time"
)

// releaseTimeout bounds the lease wait of a release issued by Lock.Release
const releaseTimeout = 5 * time.Second

type lockMgrImpl struct {
	source IConnSource
}

// NewLockManager creates a lock manager that runs every operation on a
// connection leased from source. The manager has no state of its own, any
// number of managers may share the same store.
func NewLockManager(source IConnSource) ILockManager {
	return &lockMgrImpl{source: source}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ILockManager)
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) AcquireLock(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	var lock *Lock
	err := lm.source.WithClient(ctx, func(conn *client.Conn) (err error) {
		lock, err = acquire(ctx, conn, key, timeout)
		return err
	})
	if err != nil {
		return nil, err
	}

	// the acquiring connection is back in the pool, release on a new lease
	lock.release = func(key string) error {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		return lm.ReleaseLock(ctx, key)
	}
	return lock, nil
}

func (lm *lockMgrImpl) ReleaseLock(ctx context.Context, key string) error {
	return lm.source.WithClient(ctx, func(conn *client.Conn) error {
		_, err := conn.Del(key)
		return err
	})
}
