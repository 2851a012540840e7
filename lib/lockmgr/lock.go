package lockmgr

import (
	"context"
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/txn"
	"github.com/cenkalti/backoff/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"strconv"
	"sync"
	"time"
)

var Logger = logger.GetLogger("lockmgr")

var (
	// ErrLockTimeout is returned when a lock could not be acquired before
	// its timeout elapsed
	ErrLockTimeout = errors.New("timeout while acquiring lock")

	// errContended makes the backoff loop retry
	errContended = errors.New("lock is held")
)

// Retry pacing of Acquire
const (
	retryInitialInterval = 5 * time.Millisecond
	retryMaxInterval     = 100 * time.Millisecond
)

// Metrics holds the lock statistics
var Metrics = gometrics.NewRegistry()

var (
	acquireTimer   = gometrics.GetOrRegisterTimer("lock.acquire", Metrics)
	contendedCount = gometrics.GetOrRegisterCounter("lock.contended", Metrics)
	takeoverCount  = gometrics.GetOrRegisterCounter("lock.stale_takeover", Metrics)
	timeoutCount   = gometrics.GetOrRegisterCounter("lock.timeout", Metrics)
	releaseCount   = gometrics.GetOrRegisterCounter("lock.release", Metrics)
)

// --------------------------------------------------------------------------
// Lock
// --------------------------------------------------------------------------

// Lock is a held lease on a key. The key's value is the expiry of the
// lease in unix milliseconds; no owner is recorded.
type Lock struct {
	key       string
	token     string
	expiresAt time.Time

	release func(key string) error
	once    sync.Once
	err     error
}

// Key returns the locked key
func (l *Lock) Key() string {
	return l.key
}

// Token returns the value stored under the key
func (l *Lock) Token() string {
	return l.token
}

// ExpiresAt returns when the lease becomes stale and may be taken over
func (l *Lock) ExpiresAt() time.Time {
	return l.expiresAt
}

// Release deletes the key. Only the first call sends anything.
//
// The delete is unconditional: it does not check that the key still holds
// this lock's token. A caller that knows the key can release a lock it
// does not hold.
func (l *Lock) Release() error {
	l.once.Do(func() {
		l.err = l.release(l.key)
		if l.err == nil {
			releaseCount.Inc(1)
		}
	})
	return l.err
}

// --------------------------------------------------------------------------
// Acquire
// --------------------------------------------------------------------------

// Acquire takes the lock on key using conn. It retries until the lock is
// held, the timeout or the deadline of ctx elapses (ErrLockTimeout) or ctx
// is canceled (ctx.Err()).
// The timeout is also the lease duration, zero means DefaultLockTimeout.
//
// The returned lock is released through conn, which must still be usable
// at that point.
func Acquire(ctx context.Context, conn *client.Conn, key string, timeout time.Duration) (*Lock, error) {
	lock, err := acquire(ctx, conn, key, timeout)
	if err != nil {
		return nil, err
	}
	lock.release = func(key string) error {
		_, err := conn.Del(key)
		return err
	}
	return lock, nil
}

func acquire(ctx context.Context, conn *client.Conn, key string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = common.DefaultLockTimeout
	}

	start := time.Now()
	attemptCtx, cancel := context.WithDeadline(ctx, start.Add(timeout))
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = 0 // bounded by attemptCtx

	var lock *Lock
	err := backoff.Retry(func() error {
		expiresAt := time.Now().Add(timeout)
		token := encodeToken(expiresAt)

		ok, err := tryAcquire(conn, key, token)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			contendedCount.Inc(1)
			return errContended
		}

		lock = &Lock{key: key, token: token, expiresAt: expiresAt}
		return nil
	}, backoff.WithContext(bo, attemptCtx))

	switch {
	case err == nil:
		acquireTimer.UpdateSince(start)
		Logger.Debugf("acquired lock %q after %s", key, time.Since(start))
		return lock, nil
	case ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errContended):
		timeoutCount.Inc(1)
		return nil, errors.Wrapf(ErrLockTimeout, "lock %q not acquired within %s", key, timeout)
	default:
		return nil, errors.Wrapf(err, "failed to acquire lock %q", key)
	}
}

// tryAcquire makes one attempt. It returns false while the lock is held
// by someone else or another caller won the race.
func tryAcquire(conn *client.Conn, key, token string) (bool, error) {
	// free key
	ok, err := conn.SetNX(key, token)
	if err != nil || ok {
		return ok, err
	}

	if err := conn.Watch(key); err != nil {
		return false, err
	}

	value, found, err := conn.Get(key)
	if err != nil {
		if !conn.IsDeactivated() {
			_ = conn.Unwatch()
		}
		return false, err
	}
	if !found {
		// released in the meantime, the next SETNX will tell
		return false, conn.Unwatch()
	}

	expiry, err := decodeToken(value)
	if err != nil {
		// not a lock we understand, never take it over
		Logger.Debugf("lock %q holds invalid token %q", key, value)
		return false, conn.Unwatch()
	}
	if expiry.After(time.Now()) {
		return false, conn.Unwatch()
	}

	// stale lease, replace it unless someone else changed the key
	tx, err := txn.Begin(conn)
	if err != nil {
		return false, err
	}
	defer tx.Close()

	if _, err := tx.Set(key, token); err != nil {
		return false, err
	}
	committed, err := tx.Commit()
	if err != nil {
		return false, err
	}
	if committed {
		takeoverCount.Inc(1)
		Logger.Infof("took over stale lock %q (expired %s ago)", key, time.Since(expiry))
	}
	return committed, nil
}

// --------------------------------------------------------------------------
// Token encoding
// --------------------------------------------------------------------------

// encodeToken renders an expiry as unix milliseconds, rounded up
func encodeToken(expiresAt time.Time) string {
	return strconv.FormatInt(expiresAt.UnixMilli()+1, 10)
}

func decodeToken(value []byte) (time.Time, error) {
	ms, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if ms <= 0 {
		return time.Time{}, errors.Errorf("invalid expiry %d", ms)
	}
	return time.UnixMilli(ms), nil
}
