package txn

import (
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/proto"
)

// --------------------------------------------------------------------------
// Typed results
// --------------------------------------------------------------------------

// StatusResult is filled by commands answering +OK
type StatusResult struct {
	Err error
}

// IntResult is filled by commands answering an integer
type IntResult struct {
	Val int64
	Err error
}

// BytesResult is filled by commands answering a bulk string
type BytesResult struct {
	Val   []byte
	Found bool
	Err   error
}

// --------------------------------------------------------------------------
// Queue helpers
// --------------------------------------------------------------------------

// Set queues SET key value
func (p *Pipeline) Set(key, value string) (*StatusResult, error) {
	res := &StatusResult{}
	return res, p.QueueCommand(func(reply proto.Reply) error {
		res.Err = client.OKResult(reply)
		return res.Err
	}, "SET", key, value)
}

// Get queues GET key
func (p *Pipeline) Get(key string) (*BytesResult, error) {
	res := &BytesResult{}
	return res, p.QueueCommand(func(reply proto.Reply) error {
		res.Val, res.Found, res.Err = client.BulkResult(reply)
		return res.Err
	}, "GET", key)
}

// Del queues DEL keys...
func (p *Pipeline) Del(keys ...string) (*IntResult, error) {
	return p.queueInt(append([]string{"DEL"}, keys...)...)
}

// Incr queues INCR key
func (p *Pipeline) Incr(key string) (*IntResult, error) {
	return p.queueInt("INCR", key)
}

func (p *Pipeline) queueInt(args ...string) (*IntResult, error) {
	res := &IntResult{}
	return res, p.QueueCommand(func(reply proto.Reply) error {
		res.Val, res.Err = client.IntResult(reply)
		return res.Err
	}, args...)
}
