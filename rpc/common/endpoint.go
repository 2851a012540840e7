package common

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultHost = "localhost"
	DefaultPort = 6379
	DefaultDB   = 0
)

// --------------------------------------------------------------------------
// Endpoint
// --------------------------------------------------------------------------

// Endpoint describes one store instance: its address, credentials and the
// parameters used when connecting to it. Endpoints are compared with == and
// are never changed after construction; the With* helpers return copies.
type Endpoint struct {
	Host     string
	Port     int
	Password string // empty means no AUTH
	DB       int

	SendTimeout    time.Duration
	ReceiveTimeout time.Duration
	// IdleTimeout is how long a pooled connection may sit unused before it is
	// replaced instead of reused. Zero disables the check.
	IdleTimeout time.Duration

	TLS        bool
	ClientName string
}

// NewEndpoint creates an endpoint for host:port with default settings
func NewEndpoint(host string, port int) Endpoint {
	return Endpoint{Host: host, Port: port, DB: DefaultDB}
}

// Addr returns the dialable host:port address
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns the address, the password is never printed
func (e Endpoint) String() string {
	if e.DB != DefaultDB {
		return e.Addr() + "/" + strconv.Itoa(e.DB)
	}
	return e.Addr()
}

// WithTimeouts returns a copy with the given socket timeouts
func (e Endpoint) WithTimeouts(send, receive, idle time.Duration) Endpoint {
	e.SendTimeout = send
	e.ReceiveTimeout = receive
	e.IdleTimeout = idle
	return e
}

// WithClientName returns a copy tagged with the given client name
func (e Endpoint) WithClientName(name string) Endpoint {
	e.ClientName = name
	return e
}

// WithTLS returns a copy with TLS switched on or off
func (e Endpoint) WithTLS(tls bool) Endpoint {
	e.TLS = tls
	return e
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// ParseEndpoint builds an endpoint from a descriptor like
// "host=foo;port=7000;password=secret;db=2".
//
// Keys are case-insensitive. A pair that does not contain exactly one '=' is
// skipped, unknown keys are ignored and numbers that do not parse keep their
// default. Parsing never fails.
func ParseEndpoint(descriptor string) Endpoint {
	ep := NewEndpoint(DefaultHost, DefaultPort)

	for _, pair := range strings.Split(descriptor, ";") {
		parts := strings.Split(pair, "=")
		if len(parts) != 2 {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch key {
		case "host":
			ep.Host = value
		case "port":
			if port, err := strconv.Atoi(value); err == nil {
				ep.Port = port
			}
		case "password":
			ep.Password = value
		case "db":
			if db, err := strconv.Atoi(value); err == nil {
				ep.DB = db
			}
		}
	}

	return ep
}

// ParseAddr parses a short address of the form [password@]host[:port].
// A missing or malformed port falls back to DefaultPort.
func ParseAddr(addr string) Endpoint {
	ep := NewEndpoint(DefaultHost, DefaultPort)

	addr = strings.TrimSpace(addr)
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		ep.Password = addr[:at]
		addr = addr[at+1:]
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// no port given
		host = addr
		portStr = ""
	}
	if host != "" {
		ep.Host = host
	}
	if port, err := strconv.Atoi(portStr); err == nil {
		ep.Port = port
	}

	return ep
}

// ParseAddrs parses every non-empty address with ParseAddr
func ParseAddrs(addrs ...string) []Endpoint {
	endpoints := make([]Endpoint, 0, len(addrs))
	for _, addr := range addrs {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		endpoints = append(endpoints, ParseAddr(addr))
	}
	return endpoints
}
