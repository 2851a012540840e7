package client

import (
	"context"
	"github.com/ValentinKolb/rkv/lib/bufpool"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/memserver"
	"github.com/ValentinKolb/rkv/rpc/proto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

type fakeTx struct{ rolledBack bool }

func (f *fakeTx) Rollback() error {
	f.rolledBack = true
	return nil
}

func startServer(t *testing.T, config memserver.Config) *memserver.Server {
	srv := memserver.New(config)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func newTestFactory(buffers *bufpool.Pool) Factory {
	conf := common.DefaultClientConfig()
	conf.ConnectTimeout = time.Second
	conf.ReceiveTimeout = 2 * time.Second
	return NewFactory(NewTCPConnector(conf), conf, buffers)
}

func dial(t *testing.T, ep common.Endpoint, buffers *bufpool.Pool) *Conn {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	conn, err := newTestFactory(buffers)(ctx, ep, ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestCommands(t *testing.T) {
	srv := startServer(t, memserver.Config{})
	conn := dial(t, common.ParseAddr(srv.Addr()), bufpool.New(4, 64, 64))

	require.NoError(t, conn.Ping())

	_, ok, err := conn.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, conn.Set("k", "v"))
	value, ok, err := conn.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(value))

	stored, err := conn.SetNX("k", "other")
	require.NoError(t, err)
	assert.False(t, stored)

	n, err := conn.Incr("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = conn.Exists("k", "counter", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = conn.Del("k", "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, conn.Watch("k"))
	require.NoError(t, conn.Unwatch())
}

func TestServerErrorKeepsConnectionActive(t *testing.T) {
	srv := startServer(t, memserver.Config{})
	conn := dial(t, common.ParseAddr(srv.Addr()), bufpool.New(4, 64, 64))

	require.NoError(t, conn.Set("k", "not a number"))
	_, err := conn.Incr("k")

	var perr *proto.Error
	require.True(t, errors.As(err, &perr))
	assert.False(t, conn.IsDeactivated())
	assert.NoError(t, conn.Ping())
}

func TestDoMultiBulk(t *testing.T) {
	srv := startServer(t, memserver.Config{})
	conn := dial(t, common.ParseAddr(srv.Addr()), bufpool.New(4, 64, 64))

	conn.WriteCommandString("MULTI")
	conn.WriteCommandString("ECHO", "a")
	conn.WriteCommandString("ECHO", "b")
	require.NoError(t, conn.Flush())
	for i := 0; i < 3; i++ {
		_, err := conn.ReadReply()
		require.NoError(t, err)
	}

	items, err := conn.DoMultiBulk("EXEC")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", string(items[0]))
	assert.Equal(t, "b", string(items[1]))
}

func TestOutboundBufferGrows(t *testing.T) {
	srv := startServer(t, memserver.Config{})
	buffers := bufpool.New(4, 32, 32)
	conn := dial(t, common.ParseAddr(srv.Addr()), buffers)

	big := strings.Repeat("x", 1000)
	require.NoError(t, conn.Set("big", big))

	value, ok, err := conn.Get("big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, string(value))
}

func TestTruncateDropsBufferedCommands(t *testing.T) {
	srv := startServer(t, memserver.Config{})
	conn := dial(t, common.ParseAddr(srv.Addr()), bufpool.New(4, 64, 64))

	mark := conn.Buffered()
	conn.WriteCommandString("SET", "k", "v")
	assert.Greater(t, conn.Buffered(), mark)

	conn.Truncate(mark)
	assert.Equal(t, mark, conn.Buffered())
	require.NoError(t, conn.Flush())

	_, ok, err := conn.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandshake(t *testing.T) {
	srv := startServer(t, memserver.Config{Password: "secret"})

	ep := common.ParseAddr("secret@" + srv.Addr())
	ep.DB = 3
	ep = ep.WithClientName("handshake-test")
	conn := dial(t, ep, bufpool.New(4, 64, 64))

	reply, err := conn.Do("CLIENT", "GETNAME")
	require.NoError(t, err)
	assert.Equal(t, "handshake-test", string(reply.Bulk))

	require.NoError(t, conn.Set("k", "db3"))

	other := dial(t, common.ParseAddr("secret@"+srv.Addr()), bufpool.New(4, 64, 64))
	_, ok, err := other.Get("k")
	require.NoError(t, err)
	assert.False(t, ok, "SELECT must isolate the database")
}

func TestHandshakeFailure(t *testing.T) {
	srv := startServer(t, memserver.Config{Password: "secret"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := newTestFactory(bufpool.New(4, 64, 64))(ctx, common.ParseAddr("wrong@"+srv.Addr()), ReadWrite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH")
}

func TestIOErrorDeactivates(t *testing.T) {
	srv := startServer(t, memserver.Config{})
	conn := dial(t, common.ParseAddr(srv.Addr()), bufpool.New(4, 64, 64))
	require.NoError(t, conn.Ping())

	srv.CloseClients()

	require.Error(t, conn.Ping())
	assert.True(t, conn.IsDeactivated())
	assert.False(t, conn.DeactivatedAt().IsZero())

	// stays dead
	assert.True(t, errors.Is(conn.Ping(), ErrConnDeactivated))
}

func TestTransactionSlot(t *testing.T) {
	srv := startServer(t, memserver.Config{})
	conn := dial(t, common.ParseAddr(srv.Addr()), bufpool.New(4, 64, 64))

	tx := &fakeTx{}
	require.NoError(t, conn.AttachTransaction(tx))
	assert.True(t, errors.Is(conn.AttachTransaction(&fakeTx{}), ErrTransactionInUse))

	_, err := conn.Do("PING")
	assert.True(t, errors.Is(err, ErrTransactionOpen))

	conn.DetachTransaction(&fakeTx{})
	assert.Equal(t, Transaction(tx), conn.Transaction(), "detaching another transaction is a no-op")

	conn.DetachTransaction(tx)
	assert.Nil(t, conn.Transaction())
	assert.NoError(t, conn.Ping())
}

func TestLeaseFlags(t *testing.T) {
	srv := startServer(t, memserver.Config{})
	conn := dial(t, common.ParseAddr(srv.Addr()), bufpool.New(4, 64, 64))

	assert.True(t, conn.MarkLeased())
	assert.False(t, conn.MarkLeased())
	assert.True(t, conn.MarkReturned())
	assert.False(t, conn.MarkReturned())
}

func TestCloseReleasesBuffer(t *testing.T) {
	srv := startServer(t, memserver.Config{})
	buffers := bufpool.New(4, 64, 64)
	conn := dial(t, common.ParseAddr(srv.Addr()), buffers)
	require.Equal(t, 0, buffers.Len())

	require.NoError(t, conn.Close())
	assert.Equal(t, 1, buffers.Len())
	assert.True(t, conn.IsDeactivated())

	// second close is a no-op
	assert.NoError(t, conn.Close())
	assert.Equal(t, 1, buffers.Len())
}
