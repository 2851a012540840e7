package pool

import (
	"context"
)

// LeaseResult is delivered by the asynchronous lease functions
type LeaseResult struct {
	Lease *Lease
	Err   error
}

// GetClientAsync leases a read-write connection in the background. The
// channel receives exactly one result. The caller must Release a successful
// lease, even when it stopped waiting for it.
func (m *Manager) GetClientAsync(ctx context.Context) <-chan LeaseResult {
	return m.leaseAsync(ctx, m.Lease)
}

// GetReadOnlyClientAsync is GetClientAsync for a read-only connection
func (m *Manager) GetReadOnlyClientAsync(ctx context.Context) <-chan LeaseResult {
	return m.leaseAsync(ctx, m.LeaseReadOnly)
}

func (m *Manager) leaseAsync(ctx context.Context, lease func(context.Context) (*Lease, error)) <-chan LeaseResult {
	result := make(chan LeaseResult, 1)
	go func() {
		l, err := lease(ctx)
		result <- LeaseResult{Lease: l, Err: err}
	}()
	return result
}
