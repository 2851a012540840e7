package lockmgr

import (
	"context"
	"github.com/ValentinKolb/rkv/rpc/client"
	"time"
)

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock blocks until the lock on key is held, the timeout or the
	// ctx deadline elapses (ErrLockTimeout) or ctx is canceled. The timeout
	// is also the lease duration of the lock; zero means DefaultLockTimeout.
	AcquireLock(ctx context.Context, key string, timeout time.Duration) (*Lock, error)

	// ReleaseLock deletes the lock on key, whoever holds it.
	ReleaseLock(ctx context.Context, key string) error
}

// IConnSource runs a function on a leased connection. It is implemented by
// *pool.Manager.
type IConnSource interface {
	WithClient(ctx context.Context, fn func(conn *client.Conn) error) error
}
