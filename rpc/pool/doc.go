// Package pool implements the connection pool manager of the client.
//
// The Manager keeps two bounded pools: read-write connections to the
// masters and read-only connections to the replicas (or to the masters when
// there are no replicas). Each pool holds at most PoolSizeMultiplier
// connections per host of its role.
//
// Leasing (GetClient, GetReadOnlyClient) reuses an idle connection when
// possible, dials a new one through the resolver while the pool is below
// its maximum and otherwise waits until a connection is returned. Waiting
// ends with ErrPoolTimeout after the configured pool timeout or the context
// deadline.
//
// DisposeClient returns a connection. A deactivated connection (lost
// socket, protocol error) is never handed out again: it is stamped,
// registered and closed once the deactivation grace period has passed.
//
// Key Components:
//
//   - Lease, WithClient, WithReadOnlyClient: scoped leases that return the
//     connection exactly once on every path, including panics.
//
//   - GetClientAsync: channel based adapter over GetClient.
//
//   - FailoverTo: replaces the topology; connections to the old topology
//     are retired instead of reused.
//
// Usage Example:
//
//	manager, err := pool.Open(common.DefaultClientConfig())
//	if err != nil {
//		// handle error
//	}
//	defer manager.Close()
//
//	err = manager.WithClient(ctx, func(conn *client.Conn) error {
//		return conn.Set("key", "value")
//	})
package pool
