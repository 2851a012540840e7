package client

import (
	"github.com/ValentinKolb/rkv/lib/bufpool"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/proto"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("client")

// readBufferSize is the size of the bufio reader in front of every socket
const readBufferSize = 4096

var (
	// ErrTransactionOpen is returned by Do and DoMultiBulk while a
	// transaction owns the connection
	ErrTransactionOpen = errors.New("connection has an open transaction")

	// ErrTransactionInUse is returned when a second transaction is attached
	ErrTransactionInUse = errors.New("connection already has an active transaction")

	// ErrConnDeactivated is returned for I/O on a deactivated connection
	ErrConnDeactivated = errors.New("connection is deactivated")
)

// Role tells whether a connection talks to a master or a replica
type Role int

const (
	ReadWrite Role = iota
	ReadOnly
)

func (r Role) String() string {
	if r == ReadOnly {
		return "read-only"
	}
	return "read-write"
}

// Transaction is what a connection knows about the transaction attached to
// it. The pool uses it to roll back transactions left open on dispose.
type Transaction interface {
	Rollback() error
}

// --------------------------------------------------------------------------
// Conn
// --------------------------------------------------------------------------

// Conn is one socket to one store instance.
//
// A Conn is used by one goroutine at a time (whoever leased it from the
// pool). Only the bookkeeping flags read by the pool are atomic.
type Conn struct {
	id       uuid.UUID
	endpoint common.Endpoint
	role     Role

	netConn net.Conn
	rd      *proto.Reader

	// outbound commands are collected in out[:n] until Flush
	buffers *bufpool.Pool
	out     []byte
	n       int

	tx Transaction

	createdAt     time.Time
	lastActivity  atomic.Int64
	deactivated   atomic.Bool
	deactivatedAt atomic.Int64
	leased        atomic.Bool
	generation    atomic.Uint64

	closeOnce sync.Once
}

// newConn wraps an established socket
func newConn(netConn net.Conn, ep common.Endpoint, role Role, buffers *bufpool.Pool) *Conn {
	c := &Conn{
		id:        uuid.New(),
		endpoint:  ep,
		role:      role,
		netConn:   netConn,
		rd:        proto.NewReader(netConn, readBufferSize),
		buffers:   buffers,
		out:       buffers.Acquire(0),
		createdAt: time.Now(),
	}
	c.touch()
	return c
}

// ID returns the unique identity of the connection
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// Endpoint returns the endpoint the connection was opened to
func (c *Conn) Endpoint() common.Endpoint {
	return c.endpoint
}

// Role returns whether the connection belongs to the read-write or the
// read-only pool
func (c *Conn) Role() Role {
	return c.role
}

// CreatedAt returns when the connection was opened
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// LastActivity returns the time of the last successful read or write
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// IdleFor returns how long the connection has not been used
func (c *Conn) IdleFor() time.Duration {
	return time.Since(c.LastActivity())
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Conn) String() string {
	return c.role.String() + " " + c.endpoint.String() + " (" + c.id.String()[:8] + ")"
}

// --------------------------------------------------------------------------
// Deactivation
// --------------------------------------------------------------------------

// Deactivate marks the connection as unusable. Deactivation is permanent;
// the pool drops the connection when it is disposed.
func (c *Conn) Deactivate(reason error) {
	if c.deactivated.CompareAndSwap(false, true) {
		c.deactivatedAt.Store(time.Now().UnixNano())
		Logger.Infof("deactivated connection %s: %v", c, reason)
	}
}

// IsDeactivated reports whether Deactivate was called
func (c *Conn) IsDeactivated() bool {
	return c.deactivated.Load()
}

// DeactivatedAt returns when the connection was deactivated, the zero time
// if it is still active
func (c *Conn) DeactivatedAt() time.Time {
	ns := c.deactivatedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// --------------------------------------------------------------------------
// Pool bookkeeping
// --------------------------------------------------------------------------

// MarkLeased flags the connection as handed out. It returns false if the
// connection already was.
func (c *Conn) MarkLeased() bool {
	return c.leased.CompareAndSwap(false, true)
}

// MarkReturned clears the leased flag. It returns false if the connection
// was not leased.
func (c *Conn) MarkReturned() bool {
	return c.leased.CompareAndSwap(true, false)
}

// IsLeased reports whether the connection is currently handed out
func (c *Conn) IsLeased() bool {
	return c.leased.Load()
}

// Generation returns the topology generation the connection was created in
func (c *Conn) Generation() uint64 {
	return c.generation.Load()
}

// SetGeneration records the topology generation of the connection
func (c *Conn) SetGeneration(gen uint64) {
	c.generation.Store(gen)
}

// --------------------------------------------------------------------------
// Transaction slot
// --------------------------------------------------------------------------

// AttachTransaction makes tx the active transaction of the connection
func (c *Conn) AttachTransaction(tx Transaction) error {
	if c.tx != nil {
		return ErrTransactionInUse
	}
	c.tx = tx
	return nil
}

// DetachTransaction clears the slot if tx is the active transaction
func (c *Conn) DetachTransaction(tx Transaction) {
	if c.tx == tx {
		c.tx = nil
	}
}

// Transaction returns the active transaction or nil
func (c *Conn) Transaction() Transaction {
	return c.tx
}

// --------------------------------------------------------------------------
// Wire primitives
// --------------------------------------------------------------------------

// WriteCommand encodes a command into the outbound buffer. Nothing is sent
// before Flush.
func (c *Conn) WriteCommand(args ...[]byte) {
	need := c.n + proto.CommandLen(args...)
	if need > len(c.out) {
		c.out = c.buffers.GrowWithCopy(c.out, need, 0, c.n)
	}
	c.n = len(proto.AppendCommand(c.out[:c.n], args...))
}

// WriteCommandString is WriteCommand for string arguments
func (c *Conn) WriteCommandString(args ...string) {
	c.WriteCommand(proto.Args(args...)...)
}

// Buffered returns the number of bytes waiting for Flush
func (c *Conn) Buffered() int {
	return c.n
}

// Truncate drops everything written after the given Buffered mark
func (c *Conn) Truncate(mark int) {
	if mark >= 0 && mark < c.n {
		c.n = mark
	}
}

// Flush sends the outbound buffer
func (c *Conn) Flush() error {
	if c.n == 0 {
		return nil
	}
	if c.IsDeactivated() {
		return ErrConnDeactivated
	}

	if t := c.endpoint.SendTimeout; t > 0 {
		if err := c.netConn.SetWriteDeadline(time.Now().Add(t)); err != nil {
			return c.ioError(err, "failed to set write deadline")
		}
	}

	_, err := c.netConn.Write(c.out[:c.n])
	c.n = 0
	if err != nil {
		return c.ioError(err, "failed to send commands")
	}
	c.touch()
	return nil
}

// ReadReply reads one reply. Server error replies are returned as a Reply,
// not as an error.
func (c *Conn) ReadReply() (proto.Reply, error) {
	if err := c.beforeRead(); err != nil {
		return proto.Reply{}, err
	}
	reply, err := c.rd.ReadReply()
	if err != nil {
		return proto.Reply{}, c.ioError(err, "failed to read reply")
	}
	c.touch()
	return reply, nil
}

// ReadArrayLen reads an array header, -1 is the null array. A server error
// reply is returned as *proto.Error and leaves the connection active.
func (c *Conn) ReadArrayLen() (int, error) {
	if err := c.beforeRead(); err != nil {
		return 0, err
	}
	n, err := c.rd.ReadArrayLen()
	if err != nil {
		var perr *proto.Error
		if errors.As(err, &perr) {
			c.touch()
			return 0, perr
		}
		return 0, c.ioError(err, "failed to read array header")
	}
	c.touch()
	return n, nil
}

// Do sends one command and reads its reply. A server error reply is
// returned both in the Reply and as *proto.Error.
func (c *Conn) Do(args ...string) (proto.Reply, error) {
	if c.tx != nil {
		return proto.Reply{}, ErrTransactionOpen
	}

	c.WriteCommandString(args...)
	if err := c.Flush(); err != nil {
		return proto.Reply{}, err
	}
	reply, err := c.ReadReply()
	if err != nil {
		return reply, err
	}
	return reply, reply.Err()
}

// DoMultiBulk sends one command and reads a raw multi-bulk reply
func (c *Conn) DoMultiBulk(args ...string) ([][]byte, error) {
	if c.tx != nil {
		return nil, ErrTransactionOpen
	}

	c.WriteCommandString(args...)
	if err := c.Flush(); err != nil {
		return nil, err
	}
	if err := c.beforeRead(); err != nil {
		return nil, err
	}
	items, err := c.rd.ReadMultiBulk()
	if err != nil {
		var perr *proto.Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, c.ioError(err, "failed to read multi-bulk reply")
	}
	c.touch()
	return items, nil
}

// Close closes the socket and hands the outbound buffer back to the pool.
// It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.Deactivate(errors.New("closed"))
		err = c.netConn.Close()
		c.buffers.Release(c.out)
		c.out = nil
		c.n = 0
	})
	return err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (c *Conn) beforeRead() error {
	if c.IsDeactivated() {
		return ErrConnDeactivated
	}
	if t := c.endpoint.ReceiveTimeout; t > 0 {
		if err := c.netConn.SetReadDeadline(time.Now().Add(t)); err != nil {
			return c.ioError(err, "failed to set read deadline")
		}
	}
	return nil
}

// ioError deactivates the connection, the stream position is unknown after
// a failed read or write
func (c *Conn) ioError(err error, msg string) error {
	err = errors.Wrapf(err, "%s (%s)", msg, c.endpoint)
	c.Deactivate(err)
	return err
}
