package txn

import (
	"fmt"
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/proto"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"strings"
)

var Logger = logger.GetLogger("txn")

var (
	// ErrTransactionInUse is returned by Begin on a connection that already
	// has an active transaction
	ErrTransactionInUse = client.ErrTransactionInUse

	// ErrNoActiveTransaction is returned when queueing, committing or rolling
	// back a transaction that is no longer open
	ErrNoActiveTransaction = errors.New("no active transaction")

	// ErrProtocol is returned when the server answers out of protocol
	ErrProtocol = errors.New("unexpected transaction reply")
)

var (
	commitsTotal    = metrics.GetOrCreateCounter(`rkv_txn_total{result="committed"}`)
	abortsTotal     = metrics.GetOrCreateCounter(`rkv_txn_total{result="aborted"}`)
	rollbacksTotal  = metrics.GetOrCreateCounter(`rkv_txn_total{result="rolled_back"}`)
	mismatchesTotal = metrics.GetOrCreateCounter(`rkv_txn_result_mismatch_total`)
)

// ResultCountMismatchError is returned by Commit when the server reports a
// different number of results than commands were queued. The transaction
// may already have been committed; it cannot be rolled back.
type ResultCountMismatchError struct {
	Expected int
	Got      int
}

func (e *ResultCountMismatchError) Error() string {
	return fmt.Sprintf("transaction result count mismatch: queued %d commands but got %d results, the transaction may already have been committed",
		e.Expected, e.Got)
}

// Decoder processes the result of one queued command
type Decoder func(reply proto.Reply) error

type state int

const (
	stateOpen state = iota
	stateCommitted
	stateRolledBack
)

// queuedCommand is a command whose bytes are buffered on the connection
// and whose result is decoded after EXEC
type queuedCommand struct {
	name   string
	decode Decoder
}

// --------------------------------------------------------------------------
// Pipeline
// --------------------------------------------------------------------------

// Pipeline is one MULTI/EXEC transaction on a leased connection. It must
// only be used by the goroutine holding the lease.
type Pipeline struct {
	conn   *client.Conn
	mark   int // outbound buffer position before MULTI
	queued []queuedCommand
	hooks  []func()
	state  state
}

// Begin opens a transaction on conn. Fails with ErrTransactionInUse if conn
// already has one.
func Begin(conn *client.Conn) (*Pipeline, error) {
	p := &Pipeline{conn: conn}
	if err := conn.AttachTransaction(p); err != nil {
		return nil, err
	}

	p.mark = conn.Buffered()
	conn.WriteCommandString("MULTI")
	return p, nil
}

// Len returns the number of queued commands
func (p *Pipeline) Len() int {
	return len(p.queued)
}

// IsOpen reports whether the transaction can still be committed
func (p *Pipeline) IsOpen() bool {
	return p.state == stateOpen
}

// QueueCommand adds a command to the transaction. decode is called with
// the command's result after a successful commit and may be nil.
func (p *Pipeline) QueueCommand(decode Decoder, args ...string) error {
	if p.state != stateOpen {
		return ErrNoActiveTransaction
	}
	if len(args) == 0 {
		return errors.New("empty command")
	}
	if decode == nil {
		decode = func(proto.Reply) error { return nil }
	}

	p.conn.WriteCommandString(args...)
	p.queued = append(p.queued, queuedCommand{name: strings.ToUpper(args[0]), decode: decode})
	return nil
}

// OnCommit registers fn to run once the transaction has been applied
func (p *Pipeline) OnCommit(fn func()) {
	p.hooks = append(p.hooks, fn)
}

// Commit sends EXEC and processes every result in queue order.
//
// It returns false without error when the server refused the transaction
// because a watched key changed. The result of the first decoder that
// failed is returned as error, the remaining results are still decoded.
// The transaction is closed afterwards in every case.
func (p *Pipeline) Commit() (committed bool, err error) {
	if p.state != stateOpen {
		return false, ErrNoActiveTransaction
	}
	defer func() {
		p.finish(stateCommitted)
		switch {
		case committed:
			commitsTotal.Inc()
		default:
			abortsTotal.Inc()
		}
	}()

	conn := p.conn
	conn.WriteCommandString("EXEC")
	if err := conn.Flush(); err != nil {
		return false, err
	}

	// MULTI
	reply, err := conn.ReadReply()
	if err != nil {
		return false, err
	}
	if !reply.IsStatus("OK") {
		return false, p.protocolError("MULTI", reply)
	}

	// one QUEUED acknowledgement per command
	var queueErr error
	for i, cmd := range p.queued {
		reply, err := conn.ReadReply()
		if err != nil {
			return false, err
		}
		if rerr := reply.Err(); rerr != nil {
			if queueErr == nil {
				queueErr = errors.Wrapf(rerr, "queueing command %d (%s) failed", i, cmd.name)
			}
			continue
		}
		if !reply.IsStatus("QUEUED") {
			return false, p.protocolError(cmd.name, reply)
		}
	}

	// EXEC
	n, err := conn.ReadArrayLen()
	if err != nil {
		var perr *proto.Error
		if errors.As(err, &perr) && queueErr != nil {
			return false, queueErr
		}
		return false, err
	}
	if n < 0 {
		Logger.Debugf("transaction on %s aborted, watched key changed", conn)
		return false, nil
	}
	if n != len(p.queued) {
		mismatch := &ResultCountMismatchError{Expected: len(p.queued), Got: n}
		mismatchesTotal.Inc()
		conn.Deactivate(mismatch)
		Logger.Errorf("%v (%s)", mismatch, conn)
		return false, mismatch
	}

	var decodeErr error
	for i, cmd := range p.queued {
		reply, err := conn.ReadReply()
		if err != nil {
			return true, errors.Wrap(err, "reading transaction results failed after commit")
		}
		if err := cmd.decode(reply); err != nil && decodeErr == nil {
			decodeErr = errors.Wrapf(err, "result %d (%s)", i, cmd.name)
		}
	}

	for _, fn := range p.hooks {
		fn()
	}
	return true, decodeErr
}

// Rollback discards the transaction. Nothing of it has been sent yet, so
// the buffered bytes are dropped and nothing goes over the wire.
func (p *Pipeline) Rollback() error {
	if p.state != stateOpen {
		return ErrNoActiveTransaction
	}
	p.conn.Truncate(p.mark)
	p.finish(stateRolledBack)
	rollbacksTotal.Inc()
	return nil
}

// Close rolls back the transaction if it is still open
func (p *Pipeline) Close() error {
	if p.state != stateOpen {
		return nil
	}
	return p.Rollback()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (p *Pipeline) finish(s state) {
	p.state = s
	p.queued = nil
	p.hooks = nil
	p.conn.DetachTransaction(p)
}

// protocolError deactivates the connection, the reply stream can no longer
// be matched to the commands
func (p *Pipeline) protocolError(cmd string, reply proto.Reply) error {
	err := errors.Wrapf(ErrProtocol, "%s answered %s", cmd, reply)
	p.conn.Deactivate(err)
	return err
}
