package client

import (
	"context"
	"crypto/tls"
	"github.com/ValentinKolb/rkv/lib/bufpool"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/pkg/errors"
	"net"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definitions for dependency injection
// --------------------------------------------------------------------------

// IClientConnector defines the transport-specific part of opening a
// connection
type IClientConnector interface {
	// Connect establishes a single socket to the endpoint
	Connect(ctx context.Context, ep common.Endpoint) (net.Conn, error)

	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// Factory opens a ready-to-use connection for an endpoint
type Factory func(ctx context.Context, ep common.Endpoint, role Role) (*Conn, error)

// --------------------------------------------------------------------------
// TCP connector
// --------------------------------------------------------------------------

// tcpConnector implements the IClientConnector interface for TCP sockets
type tcpConnector struct {
	dialer net.Dialer
}

// NewTCPConnector creates a connector dialing TCP, with TLS on top for
// endpoints that ask for it
func NewTCPConnector(config common.ClientConfig) IClientConnector {
	return &tcpConnector{
		dialer: net.Dialer{
			Timeout:   config.ConnectTimeout,
			KeepAlive: -1, // configured in UpgradeConnection
		},
	}
}

func (c *tcpConnector) GetName() string {
	return "tcp"
}

func (c *tcpConnector) Connect(ctx context.Context, ep common.Endpoint) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", ep)
	}

	if !ep.TLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: ep.Host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "tls handshake with %s failed", ep)
	}
	return tlsConn, nil
}

// UpgradeConnection applies the TCP options of the config. TLS connections
// are upgraded through their underlying socket.
func (c *tcpConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		conn = tlsConn.NetConn()
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(config.TCPNoDelay); err != nil {
		return err
	}

	if config.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		keepAlivePeriod := time.Duration(config.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Connection Factory
// --------------------------------------------------------------------------

// NewFactory returns a Factory that dials with connector, applies the
// socket options and timeouts of config and performs the handshake (AUTH,
// SELECT, CLIENT SETNAME) required by the endpoint
func NewFactory(connector IClientConnector, config common.ClientConfig, buffers *bufpool.Pool) Factory {
	return func(ctx context.Context, ep common.Endpoint, role Role) (*Conn, error) {
		ep = config.ApplyTimeouts(ep)

		netConn, err := connector.Connect(ctx, ep)
		if err != nil {
			return nil, err
		}

		if err := connector.UpgradeConnection(netConn, config); err != nil {
			_ = netConn.Close()
			return nil, errors.Wrapf(err, "failed to configure %s connection to %s", connector.GetName(), ep)
		}

		conn := newConn(netConn, ep, role, buffers)
		if err := conn.handshake(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}

		Logger.Debugf("opened %s connection %s", connector.GetName(), conn)
		return conn, nil
	}
}

// handshake runs the per-connection setup commands. The context deadline
// bounds the whole handshake.
func (c *Conn) handshake(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.netConn.SetDeadline(deadline); err != nil {
			return errors.Wrap(err, "failed to set handshake deadline")
		}
		defer func() { _ = c.netConn.SetDeadline(time.Time{}) }()
	}

	var steps [][]string
	if c.endpoint.Password != "" {
		steps = append(steps, []string{"AUTH", c.endpoint.Password})
	}
	if c.endpoint.DB != common.DefaultDB {
		steps = append(steps, []string{"SELECT", strconv.Itoa(c.endpoint.DB)})
	}
	if c.endpoint.ClientName != "" {
		steps = append(steps, []string{"CLIENT", "SETNAME", c.endpoint.ClientName})
	}

	for _, step := range steps {
		reply, err := c.Do(step...)
		if err == nil {
			err = OKResult(reply)
		}
		if err != nil {
			return errors.Wrapf(err, "%s failed on %s", step[0], c.endpoint)
		}
	}
	return nil
}
