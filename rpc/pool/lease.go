package pool

import (
	"context"
	"github.com/ValentinKolb/rkv/rpc/client"
	"sync"
)

// --------------------------------------------------------------------------
// Scoped lease
// --------------------------------------------------------------------------

// Lease owns one leased connection and returns it to the manager exactly
// once, no matter how often Release is called
type Lease struct {
	m    *Manager
	conn *client.Conn
	once sync.Once
}

// Lease leases a read-write connection wrapped in a Lease
func (m *Manager) Lease(ctx context.Context) (*Lease, error) {
	conn, err := m.GetClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Lease{m: m, conn: conn}, nil
}

// LeaseReadOnly leases a read-only connection wrapped in a Lease
func (m *Manager) LeaseReadOnly(ctx context.Context) (*Lease, error) {
	conn, err := m.GetReadOnlyClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Lease{m: m, conn: conn}, nil
}

// Conn returns the leased connection. It must not be used after Release.
func (l *Lease) Conn() *client.Conn {
	return l.conn
}

// Release returns the connection to the manager. Only the first call has
// an effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.DisposeClient(l.conn)
	})
}

// WithClient runs fn on a leased read-write connection and returns the
// connection afterwards, also when fn panics
func (m *Manager) WithClient(ctx context.Context, fn func(conn *client.Conn) error) error {
	lease, err := m.Lease(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Conn())
}

// WithReadOnlyClient is WithClient for a read-only connection
func (m *Manager) WithReadOnlyClient(ctx context.Context, fn func(conn *client.Conn) error) error {
	lease, err := m.LeaseReadOnly(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Conn())
}
