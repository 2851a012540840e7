// Package lockmgr implements a best-effort distributed lock on top of the
// store's SETNX, WATCH and MULTI/EXEC primitives.
//
// A lock is a key whose value is the expiry of the current lease in unix
// milliseconds. There is no owner identity and no consensus: the lock is
// mutual exclusion among lock-aware callers only.
//
// Acquiring a lock loops until it succeeds or its timeout elapses:
//
//  1. Compute the lease expiry (now + timeout) and encode it as a token.
//  2. SETNX key token. Success means the lock is held.
//  3. Otherwise WATCH the key and GET its value.
//  4. A value that is not a valid token is never taken over: UNWATCH, retry.
//  5. A lease that has not expired yet: UNWATCH, retry.
//  6. A stale lease is replaced in a transaction (SET key token). EXEC only
//     applies if the key did not change since step 3, so of several callers
//     racing for the same stale lease at most one wins; the others retry.
//
// Retries are paced with an exponential backoff. When the timeout elapses
// the acquisition fails with ErrLockTimeout. The timeout doubles as the lease
// duration; without one DefaultLockTimeout (one year) is used.
//
// Releasing a lock deletes the key unconditionally. The token is not
// compared first, so any caller can release any lock on a key it knows.
//
// Key Components:
//
//   - Acquire: Takes a lock over a connection the caller already leased.
//
//   - ILockManager / NewLockManager: Leases a connection per operation from
//     an IConnSource such as *pool.Manager.
//
//   - Metrics: go-metrics registry with acquisition timings and contention,
//     takeover, timeout and release counters.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(manager)
//
//	lock, err := locks.AcquireLock(ctx, "resource:123", 30*time.Second)
//	if err != nil {
//		// handle error (errors.Is(err, lockmgr.ErrLockTimeout))
//	}
//	defer lock.Release()
package lockmgr
