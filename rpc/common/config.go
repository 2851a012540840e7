package common

import (
	"fmt"
	"github.com/pkg/errors"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultPoolSizeMultiplier = 20
	DefaultPoolTimeout        = 2 * time.Second
	DefaultDeactivatedExpiry  = time.Minute
	DefaultConnectTimeout     = 5 * time.Second

	DefaultBufferPoolSlots   = 1000
	DefaultBufferSize        = 1450
	DefaultBufferPoolCeiling = DefaultBufferSize

	// DefaultLockTimeout is used when a lock is acquired without a timeout.
	// It is meant to be "forever" while still fitting into a time.Duration.
	DefaultLockTimeout = 365 * 24 * time.Hour

	DefaultLogLevel = "info"
)

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds every tunable of the client. It is passed by value to
// the components that need it and is never modified after construction.
type ClientConfig struct {
	// Topology
	Masters  []Endpoint
	Replicas []Endpoint

	// Connection pool
	PoolSizeMultiplier int
	PoolTimeout        time.Duration
	DeactivatedExpiry  time.Duration

	// Sockets
	ConnectTimeout  time.Duration
	SendTimeout     time.Duration
	ReceiveTimeout  time.Duration
	IdleTimeout     time.Duration
	TCPNoDelay      bool
	TCPKeepAliveSec int

	// Buffer pool
	BufferPoolSlots   int
	BufferSize        int
	BufferPoolCeiling int

	// Locks
	LockTimeout time.Duration

	// Logging configuration
	LogLevel string
}

// DefaultClientConfig returns a configuration for a single master on
// localhost with every other field set to its default
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Masters:            []Endpoint{NewEndpoint(DefaultHost, DefaultPort)},
		PoolSizeMultiplier: DefaultPoolSizeMultiplier,
		PoolTimeout:        DefaultPoolTimeout,
		DeactivatedExpiry:  DefaultDeactivatedExpiry,
		ConnectTimeout:     DefaultConnectTimeout,
		TCPNoDelay:         true,
		BufferPoolSlots:    DefaultBufferPoolSlots,
		BufferSize:         DefaultBufferSize,
		BufferPoolCeiling:  DefaultBufferPoolCeiling,
		LockTimeout:        DefaultLockTimeout,
		LogLevel:           DefaultLogLevel,
	}
}

// WithTopology returns a copy of the config using the given endpoints
func (c ClientConfig) WithTopology(masters, replicas []Endpoint) ClientConfig {
	c.Masters = append([]Endpoint(nil), masters...)
	c.Replicas = append([]Endpoint(nil), replicas...)
	return c
}

// Validate reports the first configuration error found
func (c *ClientConfig) Validate() error {
	if len(c.Masters) == 0 {
		return errors.Wrap(ErrInvalidConfig, "at least one master is required")
	}
	if c.PoolSizeMultiplier <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "pool size multiplier must be positive, got %d", c.PoolSizeMultiplier)
	}
	if c.BufferSize <= 0 || c.BufferPoolSlots < 0 {
		return errors.Wrapf(ErrInvalidConfig, "invalid buffer pool settings (%d slots of %d bytes)", c.BufferPoolSlots, c.BufferSize)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ApplyTimeouts copies the socket timeouts of the config onto an endpoint
// unless the endpoint already carries its own
func (c *ClientConfig) ApplyTimeouts(ep Endpoint) Endpoint {
	if ep.SendTimeout == 0 {
		ep.SendTimeout = c.SendTimeout
	}
	if ep.ReceiveTimeout == 0 {
		ep.ReceiveTimeout = c.ReceiveTimeout
	}
	if ep.IdleTimeout == 0 {
		ep.IdleTimeout = c.IdleTimeout
	}
	return ep
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Masters")
	for i, ep := range c.Masters {
		addField(strconv.Itoa(i), ep.String())
	}

	addSection("Replicas")
	if len(c.Replicas) == 0 {
		addField("-", "none (reads go to masters)")
	}
	for i, ep := range c.Replicas {
		addField(strconv.Itoa(i), ep.String())
	}

	addSection("Connection Pool")
	addField("Size Multiplier", strconv.Itoa(c.PoolSizeMultiplier))
	addField("Wait Timeout", c.PoolTimeout.String())
	addField("Deactivated Expiry", c.DeactivatedExpiry.String())

	addSection("Sockets")
	addField("Connect Timeout", c.ConnectTimeout.String())
	addField("Send Timeout", c.SendTimeout.String())
	addField("Receive Timeout", c.ReceiveTimeout.String())
	addField("Idle Timeout", c.IdleTimeout.String())
	addField("TCP NoDelay", strconv.FormatBool(c.TCPNoDelay))

	addSection("Buffer Pool")
	addField("Slots", strconv.Itoa(c.BufferPoolSlots))
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.BufferSize))
	addField("Ceiling", fmt.Sprintf("%d bytes", c.BufferPoolCeiling))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
