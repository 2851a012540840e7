package memserver

import (
	"github.com/ValentinKolb/rkv/lib/bufpool"
	"github.com/ValentinKolb/rkv/rpc/proto"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("memserver")

const (
	defaultBufferSize = 4096
	responseBuffers   = 64
	numDatabases      = 16
	sweepInterval     = 100 * time.Millisecond
)

var ErrServerClosed = errors.New("memserver: server closed")

// Config configures a Server
type Config struct {
	// Password enables AUTH when not empty
	Password string
	// Timeout bounds every read and write on a client socket, zero disables it
	Timeout time.Duration
}

// entry is one stored value
type entry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

type dbKey struct {
	db  int
	key string
}

// Server is an in-memory store speaking RESP
type Server struct {
	config Config

	// mu guards data, versions, version and expiry. Every command runs with
	// mu held, which makes EXEC atomic.
	mu       sync.Mutex
	data     map[dbKey]entry
	versions map[dbKey]uint64
	version  uint64
	expiry   *expiryQueue[dbKey]

	listener net.Listener
	sessions *xsync.MapOf[uint64, *session]
	nextID   atomic.Uint64
	buffers  *bufpool.Pool
	closed   atomic.Bool
	done     chan struct{}
	sweeper  sync.Once
	wg       sync.WaitGroup
}

// New creates a server, call Start or Serve to accept clients
func New(config Config) *Server {
	return &Server{
		config:   config,
		data:     make(map[dbKey]entry),
		versions: make(map[dbKey]uint64),
		expiry:   newExpiryQueue[dbKey](),
		done:     make(chan struct{}),
		sessions: xsync.NewMapOf[uint64, *session](),
		buffers:  bufpool.New(responseBuffers, defaultBufferSize, defaultBufferSize),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start listens on addr (e.g. "127.0.0.1:0") and serves in the background
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(listener); err != nil && !errors.Is(err, ErrServerClosed) {
			Logger.Errorf("serve error: %v", err)
		}
	}()
	return nil
}

// Serve accepts clients on listener until Close is called
func (s *Server) Serve(listener net.Listener) error {
	if s.listener != listener {
		s.listener = listener
	}
	Logger.Infof("serving on %s", listener.Addr())

	s.sweeper.Do(func() {
		s.wg.Add(1)
		go s.sweep()
	})

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return errors.Wrap(err, "accept failed")
		}

		sess := &session{id: s.nextID.Add(1), conn: conn}
		s.sessions.Store(sess.id, sess)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sessions.Delete(sess.id)
			s.handleConnection(sess)
		}()
	}
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Clients returns the number of connected clients
func (s *Server) Clients() int {
	return s.sessions.Size()
}

// CloseClients drops every client connection, the server keeps accepting
func (s *Server) CloseClients() {
	s.sessions.Range(func(_ uint64, sess *session) bool {
		_ = sess.conn.Close()
		return true
	})
}

// Close stops the listener, drops all clients and waits for their handlers
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.CloseClients()
	s.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

// handleConnection reads commands of one client and answers them in order
func (s *Server) handleConnection(sess *session) {
	defer sess.conn.Close()

	rd := proto.NewReader(sess.conn, defaultBufferSize)
	pooled := s.buffers.Acquire(0)
	defer s.buffers.Release(pooled)
	out := pooled[:0]

	for {
		if s.config.Timeout > 0 {
			_ = sess.conn.SetReadDeadline(time.Now().Add(s.config.Timeout))
		}

		args, err := rd.ReadMultiBulk()
		if err == io.EOF {
			Logger.Debugf("client %d disconnected", sess.id)
			return
		}
		if err != nil {
			if !s.closed.Load() {
				Logger.Debugf("client %d: %v", sess.id, err)
			}
			return
		}

		out = s.dispatch(sess, args, out[:0])

		// answer pipelined commands with one write
		for rd.Buffered() > 0 {
			if args, err = rd.ReadMultiBulk(); err != nil {
				return
			}
			out = s.dispatch(sess, args, out)
		}

		if s.config.Timeout > 0 {
			_ = sess.conn.SetWriteDeadline(time.Now().Add(s.config.Timeout))
		}
		if _, err := sess.conn.Write(out); err != nil {
			Logger.Debugf("client %d: write failed: %v", sess.id, err)
			return
		}
	}
}

// sweep removes expired keys in the background so keys that are never read
// again do not stay in memory
func (s *Server) sweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			expired := s.expiry.popExpired(now)
			for _, k := range expired {
				if e, ok := s.data[k]; ok && !e.expireAt.IsZero() && !e.expireAt.After(now) {
					delete(s.data, k)
				}
			}
			s.mu.Unlock()
			if len(expired) > 0 {
				Logger.Debugf("expired %d keys", len(expired))
			}
		}
	}
}
