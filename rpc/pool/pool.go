package pool

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/rkv/lib/bufpool"
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/resolver"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("pool")

var (
	// ErrPoolTimeout is returned when no connection became available within
	// the wait timeout
	ErrPoolTimeout = errors.New("connection pool exhausted")

	// ErrPoolClosed is returned by leases on a closed manager
	ErrPoolClosed = errors.New("connection pool closed")
)

var (
	deactivatedTotal = metrics.GetOrCreateCounter(`rkv_pool_deactivated_total`)
	purgedTotal      = metrics.GetOrCreateCounter(`rkv_pool_purged_total`)
)

// --------------------------------------------------------------------------
// Role pool
// --------------------------------------------------------------------------

// rolePool is the bounded pool of one role. A token in tokens stands for
// one leased connection, so at most max connections are out at a time and
// a new one is only dialed when no idle connection is left.
type rolePool struct {
	role   client.Role
	max    int
	tokens chan struct{}
	idle   chan *client.Conn
	next   atomic.Uint64 // round-robin index handed to the resolver

	leases   *metrics.Counter
	creates  *metrics.Counter
	timeouts *metrics.Counter
	wait     *metrics.Histogram
}

func newRolePool(role client.Role, max int) *rolePool {
	label := fmt.Sprintf(`{role=%q}`, role.String())
	return &rolePool{
		role:     role,
		max:      max,
		tokens:   make(chan struct{}, max),
		idle:     make(chan *client.Conn, max),
		leases:   metrics.GetOrCreateCounter(`rkv_pool_lease_total` + label),
		creates:  metrics.GetOrCreateCounter(`rkv_pool_create_total` + label),
		timeouts: metrics.GetOrCreateCounter(`rkv_pool_timeout_total` + label),
		wait:     metrics.GetOrCreateHistogram(`rkv_pool_wait_seconds` + label),
	}
}

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

// Manager leases connections from a read-write pool (masters) and a
// read-only pool (replicas, or masters when there are none). It is safe for
// concurrent use.
type Manager struct {
	config   common.ClientConfig
	resolver *resolver.Resolver
	pools    [2]*rolePool // indexed by client.Role

	// connections taken out of circulation, closed after the grace period
	deactivated *xsync.MapOf[uuid.UUID, *client.Conn]

	generation atomic.Uint64
	closed     atomic.Bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// New creates a manager over the topology of r. Each pool holds at most
// PoolSizeMultiplier connections per host of its role.
func New(config common.ClientConfig, r *resolver.Resolver) (*Manager, error) {
	if config.PoolSizeMultiplier <= 0 {
		return nil, errors.Wrapf(common.ErrInvalidConfig, "pool size multiplier must be positive, got %d", config.PoolSizeMultiplier)
	}
	if r == nil {
		return nil, errors.Wrap(common.ErrInvalidConfig, "resolver is required")
	}

	m := &Manager{
		config:      config,
		resolver:    r,
		deactivated: xsync.NewMapOf[uuid.UUID, *client.Conn](),
		done:        make(chan struct{}),
	}
	for _, role := range []client.Role{client.ReadWrite, client.ReadOnly} {
		m.pools[role] = newRolePool(role, config.PoolSizeMultiplier*r.HostCount(role))
	}

	if config.DeactivatedExpiry > 0 {
		m.wg.Add(1)
		go m.janitor()
	}

	Logger.Infof("connection pool created (read-write max %d, read-only max %d)",
		m.pools[client.ReadWrite].max, m.pools[client.ReadOnly].max)
	return m, nil
}

// Open builds the whole client stack from config: buffer pool, TCP
// connector, connection factory, resolver and manager
func Open(config common.ClientConfig) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	buffers := bufpool.New(config.BufferPoolSlots, config.BufferSize, config.BufferPoolCeiling)
	factory := client.NewFactory(client.NewTCPConnector(config), config, buffers)

	r, err := resolver.New(config.Masters, config.Replicas, factory)
	if err != nil {
		return nil, err
	}
	return New(config, r)
}

// Resolver returns the resolver the manager dials through
func (m *Manager) Resolver() *resolver.Resolver {
	return m.resolver
}

// --------------------------------------------------------------------------
// Leasing
// --------------------------------------------------------------------------

// GetClient leases a read-write connection. It waits until a connection is
// free, ctx is done or the pool timeout elapses (ErrPoolTimeout). The
// connection must be handed back with DisposeClient.
func (m *Manager) GetClient(ctx context.Context) (*client.Conn, error) {
	return m.get(ctx, m.pools[client.ReadWrite])
}

// GetReadOnlyClient leases a read-only connection, see GetClient
func (m *Manager) GetReadOnlyClient(ctx context.Context) (*client.Conn, error) {
	return m.get(ctx, m.pools[client.ReadOnly])
}

func (m *Manager) get(ctx context.Context, p *rolePool) (*client.Conn, error) {
	if m.closed.Load() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	if err := m.acquireToken(ctx, p); err != nil {
		return nil, err
	}
	p.wait.UpdateDuration(start)

	conn, err := m.takeIdle(p)
	if conn == nil && err == nil {
		conn, err = m.create(ctx, p)
	}
	if err != nil {
		<-p.tokens
		return nil, err
	}

	conn.MarkLeased()
	p.leases.Inc()
	return conn, nil
}

// acquireToken blocks until p has room for one more leased connection
func (m *Manager) acquireToken(ctx context.Context, p *rolePool) error {
	// fast path
	select {
	case p.tokens <- struct{}{}:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if m.config.PoolTimeout > 0 {
		timer := time.NewTimer(m.config.PoolTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case p.tokens <- struct{}{}:
		return nil
	case <-timeout:
		p.timeouts.Inc()
		return errors.Wrapf(ErrPoolTimeout, "no %s connection available within %s", p.role, m.config.PoolTimeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.timeouts.Inc()
			return errors.Wrapf(ErrPoolTimeout, "no %s connection available before deadline", p.role)
		}
		return ctx.Err()
	case <-m.done:
		return ErrPoolClosed
	}
}

// takeIdle pops the first reusable idle connection. Deactivated, idle
// expired and pre-failover connections are dropped on the way.
func (m *Manager) takeIdle(p *rolePool) (*client.Conn, error) {
	for {
		select {
		case conn := <-p.idle:
			switch {
			case conn.IsDeactivated():
				m.retire(conn)
			case conn.Generation() != m.generation.Load():
				conn.Deactivate(errors.New("topology changed"))
				m.retire(conn)
			case conn.Endpoint().IdleTimeout > 0 && conn.IdleFor() > conn.Endpoint().IdleTimeout:
				Logger.Debugf("closing idle connection %s", conn)
				_ = conn.Close()
			default:
				return conn, nil
			}
		default:
			return nil, nil
		}
	}
}

// create dials a new connection to the next host of the role
func (m *Manager) create(ctx context.Context, p *rolePool) (*client.Conn, error) {
	gen := m.generation.Load()
	index := p.next.Add(1) - 1

	var ep common.Endpoint
	if p.role == client.ReadOnly {
		ep = m.resolver.GetReadOnlyHost(index)
	} else {
		ep = m.resolver.GetReadWriteHost(index)
	}

	if _, ok := ctx.Deadline(); !ok && m.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ConnectTimeout)
		defer cancel()
	}

	conn, err := m.resolver.CreateClient(ctx, ep, p.role == client.ReadWrite)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s connection", p.role)
	}
	conn.SetGeneration(gen)
	p.creates.Inc()
	return conn, nil
}

// --------------------------------------------------------------------------
// Returning
// --------------------------------------------------------------------------

// DisposeClient hands a leased connection back. An open transaction is
// rolled back first. Healthy connections are reused, deactivated ones are
// kept out of circulation and closed after the grace period. Disposing a
// connection that is not leased does nothing.
func (m *Manager) DisposeClient(conn *client.Conn) {
	if conn == nil {
		return
	}
	if !conn.MarkReturned() {
		Logger.Warningf("ignoring dispose of connection %s that is not leased", conn)
		return
	}

	if tx := conn.Transaction(); tx != nil {
		if err := tx.Rollback(); err != nil {
			Logger.Warningf("rollback of abandoned transaction on %s failed: %v", conn, err)
		}
	}

	p := m.pools[conn.Role()]
	defer func() { <-p.tokens }()

	switch {
	case m.closed.Load():
		_ = conn.Close()
		return
	case conn.Generation() != m.generation.Load():
		conn.Deactivate(errors.New("topology changed"))
	}

	if conn.IsDeactivated() {
		m.retire(conn)
		return
	}

	select {
	case p.idle <- conn:
		// Close may have drained idle between the check above and the push
		if m.closed.Load() {
			m.drainIdle(p)
		}
	default:
		// cannot happen while idle has room for every token, close anyway
		_ = conn.Close()
	}
}

// drainIdle closes every idle connection of p
func (m *Manager) drainIdle(p *rolePool) {
	for {
		select {
		case conn := <-p.idle:
			_ = conn.Close()
		default:
			return
		}
	}
}

// retire registers a deactivated connection for purging
func (m *Manager) retire(conn *client.Conn) {
	if _, loaded := m.deactivated.LoadOrStore(conn.ID(), conn); !loaded {
		deactivatedTotal.Inc()
		Logger.Debugf("connection %s scheduled for disposal", conn)
	}
	m.purge()
}

// purge closes deactivated connections whose grace period is over
func (m *Manager) purge() {
	now := time.Now()
	m.deactivated.Range(func(id uuid.UUID, conn *client.Conn) bool {
		if now.Sub(conn.DeactivatedAt()) >= m.config.DeactivatedExpiry {
			m.deactivated.Delete(id)
			_ = conn.Close()
			purgedTotal.Inc()
			Logger.Debugf("purged deactivated connection %s", conn)
		}
		return true
	})
}

// janitor purges deactivated connections in the background
func (m *Manager) janitor() {
	defer m.wg.Done()

	interval := m.config.DeactivatedExpiry / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.purge()
		case <-m.done:
			return
		}
	}
}

// --------------------------------------------------------------------------
// Topology changes and shutdown
// --------------------------------------------------------------------------

// FailoverTo replaces the topology. Connections opened before the call are
// not reused: idle ones are retired on their next lease, leased ones when
// they are disposed. Pool sizes stay as computed in New.
func (m *Manager) FailoverTo(masters, replicas []common.Endpoint) error {
	if err := m.resolver.ResetMasters(masters); err != nil {
		return err
	}
	m.resolver.ResetSlaves(replicas)
	gen := m.generation.Add(1)
	Logger.Infof("failover complete, now at topology generation %d", gen)
	return nil
}

// Close closes every idle and deactivated connection and fails pending and
// future leases with ErrPoolClosed. Leased connections are closed when they
// are disposed.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.done)
	m.wg.Wait()

	for _, p := range m.pools {
		m.drainIdle(p)
	}

	m.deactivated.Range(func(id uuid.UUID, conn *client.Conn) bool {
		m.deactivated.Delete(id)
		_ = conn.Close()
		return true
	})

	Logger.Infof("connection pool closed")
	return nil
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// RoleStats is a snapshot of one role pool
type RoleStats struct {
	Max    int
	Leased int
	Idle   int
}

// Stats is a snapshot of the manager
type Stats struct {
	ReadWrite   RoleStats
	ReadOnly    RoleStats
	Deactivated int
	Generation  uint64
}

// Stats returns a snapshot of the pool counters
func (m *Manager) Stats() Stats {
	roleStats := func(p *rolePool) RoleStats {
		return RoleStats{Max: p.max, Leased: len(p.tokens), Idle: len(p.idle)}
	}
	return Stats{
		ReadWrite:   roleStats(m.pools[client.ReadWrite]),
		ReadOnly:    roleStats(m.pools[client.ReadOnly]),
		Deactivated: m.deactivated.Size(),
		Generation:  m.generation.Load(),
	}
}
