package client

import (
	"github.com/ValentinKolb/rkv/rpc/proto"
	"github.com/pkg/errors"
	"strconv"
)

// --------------------------------------------------------------------------
// Typed command helpers
// --------------------------------------------------------------------------

// Ping checks the connection with PING
func (c *Conn) Ping() error {
	reply, err := c.Do("PING")
	if err != nil {
		return err
	}
	if !reply.IsStatus("PONG") {
		return errors.Wrapf(proto.ErrInvalidReply, "unexpected PING reply %s", reply)
	}
	return nil
}

// Get returns the value of key. ok is false when the key does not exist.
func (c *Conn) Get(key string) (value []byte, ok bool, err error) {
	reply, err := c.Do("GET", key)
	if err != nil {
		return nil, false, err
	}
	return BulkResult(reply)
}

// Set stores value under key
func (c *Conn) Set(key, value string) error {
	reply, err := c.Do("SET", key, value)
	if err != nil {
		return err
	}
	return OKResult(reply)
}

// SetNX stores value under key only if the key does not exist. It reports
// whether the value was stored.
func (c *Conn) SetNX(key, value string) (bool, error) {
	reply, err := c.Do("SETNX", key, value)
	if err != nil {
		return false, err
	}
	n, err := IntResult(reply)
	return n == 1, err
}

// Del removes keys and returns how many existed
func (c *Conn) Del(keys ...string) (int64, error) {
	reply, err := c.Do(append([]string{"DEL"}, keys...)...)
	if err != nil {
		return 0, err
	}
	return IntResult(reply)
}

// Exists returns how many of keys exist
func (c *Conn) Exists(keys ...string) (int64, error) {
	reply, err := c.Do(append([]string{"EXISTS"}, keys...)...)
	if err != nil {
		return 0, err
	}
	return IntResult(reply)
}

// Incr increments the integer stored at key
func (c *Conn) Incr(key string) (int64, error) {
	reply, err := c.Do("INCR", key)
	if err != nil {
		return 0, err
	}
	return IntResult(reply)
}

// Watch marks keys for optimistic locking of the next transaction
func (c *Conn) Watch(keys ...string) error {
	reply, err := c.Do(append([]string{"WATCH"}, keys...)...)
	if err != nil {
		return err
	}
	return OKResult(reply)
}

// Unwatch forgets all watched keys
func (c *Conn) Unwatch() error {
	reply, err := c.Do("UNWATCH")
	if err != nil {
		return err
	}
	return OKResult(reply)
}

// --------------------------------------------------------------------------
// Reply decoders (shared with the txn package)
// --------------------------------------------------------------------------

// OKResult expects the +OK status
func OKResult(reply proto.Reply) error {
	if err := reply.Err(); err != nil {
		return err
	}
	if !reply.IsStatus("OK") {
		return errors.Wrapf(proto.ErrInvalidReply, "expected OK, got %s", reply)
	}
	return nil
}

// IntResult expects an integer reply
func IntResult(reply proto.Reply) (int64, error) {
	switch reply.Type {
	case proto.ErrorReply:
		return 0, reply.Err()
	case proto.IntReply:
		return reply.Int, nil
	case proto.BulkReply:
		// some servers answer numbers as bulk strings
		if n, err := strconv.ParseInt(string(reply.Bulk), 10, 64); err == nil && !reply.Null {
			return n, nil
		}
	}
	return 0, errors.Wrapf(proto.ErrInvalidReply, "expected integer, got %s", reply)
}

// BulkResult expects a bulk reply, ok is false for the null bulk string
func BulkResult(reply proto.Reply) ([]byte, bool, error) {
	switch reply.Type {
	case proto.ErrorReply:
		return nil, false, reply.Err()
	case proto.BulkReply:
		if reply.Null {
			return nil, false, nil
		}
		return reply.Bulk, true, nil
	case proto.StatusReply:
		return []byte(reply.Str), true, nil
	}
	return nil, false, errors.Wrapf(proto.ErrInvalidReply, "expected bulk string, got %s", reply)
}
