package lockmgr

import (
	"context"
	"github.com/ValentinKolb/rkv/lib/bufpool"
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/memserver"
	"github.com/ValentinKolb/rkv/rpc/pool"
	"github.com/ValentinKolb/rkv/rpc/proto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func startServer(t *testing.T) *memserver.Server {
	srv := memserver.New(memserver.Config{})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dial(t *testing.T, srv *memserver.Server) *client.Conn {
	conf := common.DefaultClientConfig()
	factory := client.NewFactory(client.NewTCPConnector(conf), conf, bufpool.New(8, 256, 256))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := factory(ctx, common.ParseAddr(srv.Addr()), client.ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// answeringConnector connects to an in-process peer that answers every
// command through answer and records the command names it received
type answeringConnector struct {
	answer func(name string) []byte

	mu       sync.Mutex
	received []string
}

func (a *answeringConnector) GetName() string { return "pipe" }

func (a *answeringConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

func (a *answeringConnector) Connect(context.Context, common.Endpoint) (net.Conn, error) {
	clientSide, serverSide := net.Pipe()
	go func() {
		defer serverSide.Close()
		rd := proto.NewReader(serverSide, 1024)
		for {
			args, err := rd.ReadMultiBulk()
			if err != nil || len(args) == 0 {
				return
			}
			name := strings.ToUpper(string(args[0]))
			a.mu.Lock()
			a.received = append(a.received, name)
			a.mu.Unlock()
			if _, err := serverSide.Write(a.answer(name)); err != nil {
				return
			}
		}
	}()
	return clientSide, nil
}

func (a *answeringConnector) commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.received...)
}

func dialPeer(t *testing.T, connector client.IClientConnector) *client.Conn {
	conf := common.DefaultClientConfig()
	factory := client.NewFactory(connector, conf, bufpool.New(8, 256, 256))
	conn, err := factory(context.Background(), common.ParseAddr("pipe"), client.ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestAcquireFreeKey(t *testing.T) {
	conn := dial(t, startServer(t))

	before := time.Now()
	lock, err := Acquire(context.Background(), conn, "k", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "k", lock.Key())
	assert.True(t, lock.ExpiresAt().After(before.Add(9*time.Second)))

	value, found, err := conn.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, lock.Token(), string(value))

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
	_, found, err = conn.Get("k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDefaultTimeoutIsOneYear(t *testing.T) {
	conn := dial(t, startServer(t))

	lock, err := Acquire(context.Background(), conn, "k", 0)
	require.NoError(t, err)
	defer lock.Release()

	assert.WithinDuration(t, time.Now().Add(common.DefaultLockTimeout), lock.ExpiresAt(), time.Minute)
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	srv := startServer(t)
	holder, waiter := dial(t, srv), dial(t, srv)

	held, err := Acquire(context.Background(), holder, "k", time.Minute)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), waiter, "k", time.Second)
	elapsed := time.Since(start)

	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 2*time.Second)
	assert.False(t, waiter.IsDeactivated())
}

func TestConcurrentAcquirers(t *testing.T) {
	srv := startServer(t)
	first, second := dial(t, srv), dial(t, srv)

	lock, err := Acquire(context.Background(), first, "k", time.Minute)
	require.NoError(t, err)

	acquired := make(chan *Lock, 1)
	go func() {
		l, err := Acquire(context.Background(), second, "k", 5*time.Second)
		assert.NoError(t, err)
		acquired <- l
	}()

	select {
	case <-acquired:
		t.Fatal("second acquirer must wait while the lease is held")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, lock.Release())

	select {
	case l := <-acquired:
		require.NotNil(t, l)
		assert.NotEqual(t, lock.Token(), "")
		require.NoError(t, l.Release())
	case <-time.After(2 * time.Second):
		t.Fatal("second acquirer did not get the lock after release")
	}
}

func TestMutualExclusion(t *testing.T) {
	srv := startServer(t)

	var (
		mu      sync.Mutex
		holders int
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		conn := dial(t, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				lock, err := Acquire(context.Background(), conn, "shared", 10*time.Second)
				if !assert.NoError(t, err) {
					return
				}

				mu.Lock()
				holders++
				assert.Equal(t, 1, holders, "more than one holder")
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				assert.NoError(t, lock.Release())
			}
		}()
	}
	wg.Wait()
}

func TestStaleLeaseIsTakenOver(t *testing.T) {
	conn := dial(t, startServer(t))

	stale := strconv.FormatInt(time.Now().Add(-time.Minute).UnixMilli(), 10)
	require.NoError(t, conn.Set("k", stale))

	lock, err := Acquire(context.Background(), conn, "k", time.Second)
	require.NoError(t, err)

	value, _, err := conn.Get("k")
	require.NoError(t, err)
	assert.Equal(t, lock.Token(), string(value))
	assert.NotEqual(t, stale, string(value))
}

func TestInvalidTokenIsNeverTakenOver(t *testing.T) {
	conn := dial(t, startServer(t))
	require.NoError(t, conn.Set("k", "not-a-timestamp"))

	_, err := Acquire(context.Background(), conn, "k", 200*time.Millisecond)
	assert.True(t, errors.Is(err, ErrLockTimeout))

	value, _, err := conn.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "not-a-timestamp", string(value))
}

func TestParentContextCancellation(t *testing.T) {
	srv := startServer(t)
	holder, waiter := dial(t, srv), dial(t, srv)

	held, err := Acquire(context.Background(), holder, "k", time.Minute)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = Acquire(ctx, waiter, "k", time.Minute)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrLockTimeout))
}

func TestParentContextDeadlineIsLockTimeout(t *testing.T) {
	srv := startServer(t)
	holder, waiter := dial(t, srv), dial(t, srv)

	held, err := Acquire(context.Background(), holder, "k", time.Minute)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = Acquire(ctx, waiter, "k", time.Minute)
	assert.True(t, errors.Is(err, ErrLockTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestFailedGetClearsWatch(t *testing.T) {
	peer := &answeringConnector{answer: func(name string) []byte {
		switch name {
		case "SETNX":
			return proto.AppendInt(nil, 0)
		case "GET":
			return proto.AppendError(nil, "ERR read failed")
		}
		return proto.AppendStatus(nil, "OK")
	}}
	conn := dialPeer(t, peer)

	_, err := Acquire(context.Background(), conn, "k", time.Second)
	var perr *proto.Error
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.False(t, errors.Is(err, ErrLockTimeout))

	assert.False(t, conn.IsDeactivated())
	assert.Equal(t, []string{"SETNX", "WATCH", "GET", "UNWATCH"}, peer.commands())
}

func TestReleaseIsUnconditional(t *testing.T) {
	srv := startServer(t)
	owner, stranger := dial(t, srv), dial(t, srv)

	_, err := Acquire(context.Background(), owner, "k", time.Minute)
	require.NoError(t, err)

	// a caller that never held the lock can still release it
	locks := NewLockManager(poolFor(t, srv))
	require.NoError(t, locks.ReleaseLock(context.Background(), "k"))

	lock, err := Acquire(context.Background(), stranger, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestLockManagerOverPool(t *testing.T) {
	srv := startServer(t)
	manager := poolFor(t, srv)
	locks := NewLockManager(manager)

	lock, err := locks.AcquireLock(context.Background(), "k", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, manager.Stats().ReadWrite.Leased, "connection must not stay leased while the lock is held")

	_, err = locks.AcquireLock(context.Background(), "k", 100*time.Millisecond)
	assert.True(t, errors.Is(err, ErrLockTimeout))

	require.NoError(t, lock.Release())

	lock, err = locks.AcquireLock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestMetricsAreRecorded(t *testing.T) {
	conn := dial(t, startServer(t))

	before := acquireTimer.Count()
	lock, err := Acquire(context.Background(), conn, "metrics", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	assert.Equal(t, before+1, acquireTimer.Count())
}

func poolFor(t *testing.T, srv *memserver.Server) *pool.Manager {
	conf := common.DefaultClientConfig().WithTopology(common.ParseAddrs(srv.Addr()), nil)
	conf.PoolSizeMultiplier = 2
	manager, err := pool.Open(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}
