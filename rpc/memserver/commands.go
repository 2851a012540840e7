package memserver

import (
	"github.com/ValentinKolb/rkv/rpc/proto"
	"net"
	"strconv"
	"strings"
	"time"
)

// session is the per-client state
type session struct {
	id     uint64
	conn   net.Conn
	name   string
	db     int
	authed bool

	inMulti bool
	aborted bool // a command failed validation while queueing
	queued  [][][]byte
	watched map[dbKey]uint64
}

func (sess *session) resetMulti() {
	sess.inMulti = false
	sess.aborted = false
	sess.queued = nil
	sess.watched = nil
}

// handler runs a command with the store lock held and appends its reply
type handler func(s *Server, sess *session, args [][]byte, out []byte) []byte

type command struct {
	// arity counts the command name. A negative arity is a minimum.
	arity int
	run   handler
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"PING":    {-1, cmdPing},
		"ECHO":    {2, cmdEcho},
		"SELECT":  {2, cmdSelect},
		"CLIENT":  {-2, cmdClient},
		"GET":     {2, cmdGet},
		"SET":     {-3, cmdSet},
		"SETNX":   {3, cmdSetNX},
		"DEL":     {-2, cmdDel},
		"EXISTS":  {-2, cmdExists},
		"INCR":    {2, cmdIncr},
		"DBSIZE":  {1, cmdDBSize},
		"FLUSHDB": {1, cmdFlushDB},
	}
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// dispatch executes one command and appends the reply to out
func (s *Server) dispatch(sess *session, args [][]byte, out []byte) []byte {
	if len(args) == 0 {
		return proto.AppendError(out, "ERR empty command")
	}
	name := strings.ToUpper(string(args[0]))

	if name == "AUTH" {
		return s.auth(sess, args, out)
	}
	if s.config.Password != "" && !sess.authed {
		return proto.AppendError(out, "NOAUTH Authentication required.")
	}

	switch name {
	case "MULTI":
		if sess.inMulti {
			return proto.AppendError(out, "ERR MULTI calls can not be nested")
		}
		sess.inMulti = true
		return proto.AppendStatus(out, "OK")

	case "EXEC":
		if !sess.inMulti {
			return proto.AppendError(out, "ERR EXEC without MULTI")
		}
		return s.exec(sess, out)

	case "DISCARD":
		if !sess.inMulti {
			return proto.AppendError(out, "ERR DISCARD without MULTI")
		}
		sess.resetMulti()
		return proto.AppendStatus(out, "OK")

	case "WATCH":
		if sess.inMulti {
			return proto.AppendError(out, "ERR WATCH inside MULTI is not allowed")
		}
		if len(args) < 2 {
			return wrongArity(out, name)
		}
		s.watch(sess, args[1:])
		return proto.AppendStatus(out, "OK")

	case "UNWATCH":
		sess.watched = nil
		return proto.AppendStatus(out, "OK")
	}

	cmd, ok := commands[name]
	if !ok {
		if sess.inMulti {
			sess.aborted = true
		}
		return proto.AppendError(out, "ERR unknown command '"+strings.ToLower(name)+"'")
	}
	if !arityOK(cmd.arity, len(args)) {
		if sess.inMulti {
			sess.aborted = true
		}
		return wrongArity(out, name)
	}

	if sess.inMulti {
		sess.queued = append(sess.queued, args)
		return proto.AppendStatus(out, "QUEUED")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return cmd.run(s, sess, args, out)
}

func (s *Server) auth(sess *session, args [][]byte, out []byte) []byte {
	if len(args) != 2 {
		return wrongArity(out, "AUTH")
	}
	if s.config.Password == "" {
		return proto.AppendError(out, "ERR Client sent AUTH, but no password is set")
	}
	if string(args[1]) != s.config.Password {
		sess.authed = false
		return proto.AppendError(out, "WRONGPASS invalid password")
	}
	sess.authed = true
	return proto.AppendStatus(out, "OK")
}

func (s *Server) watch(sess *session, keys [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.watched == nil {
		sess.watched = make(map[dbKey]uint64, len(keys))
	}
	for _, key := range keys {
		k := dbKey{sess.db, string(key)}
		if _, ok := sess.watched[k]; !ok {
			sess.watched[k] = s.versions[k]
		}
	}
}

// exec runs the queued commands atomically. A changed watched key aborts
// with the null array.
func (s *Server) exec(sess *session, out []byte) []byte {
	defer sess.resetMulti()

	if sess.aborted {
		return proto.AppendError(out, "EXECABORT Transaction discarded because of previous errors.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range sess.watched {
		if s.versions[k] != v {
			return proto.AppendArrayLen(out, -1)
		}
	}

	out = proto.AppendArrayLen(out, len(sess.queued))
	for _, args := range sess.queued {
		cmd := commands[strings.ToUpper(string(args[0]))]
		out = cmd.run(s, sess, args, out)
	}
	return out
}

// --------------------------------------------------------------------------
// Store helpers (mu held)
// --------------------------------------------------------------------------

func (s *Server) lookup(k dbKey) (entry, bool) {
	e, ok := s.data[k]
	if !ok {
		return entry{}, false
	}
	if !e.expireAt.IsZero() && time.Now().After(e.expireAt) {
		delete(s.data, k)
		s.expiry.cancel(k)
		return entry{}, false
	}
	return e, true
}

func (s *Server) store(k dbKey, e entry) {
	s.data[k] = e
	if e.expireAt.IsZero() {
		s.expiry.cancel(k)
	} else {
		s.expiry.schedule(k, e.expireAt)
	}
	s.touch(k)
}

func (s *Server) remove(k dbKey) bool {
	if _, ok := s.lookup(k); !ok {
		return false
	}
	delete(s.data, k)
	s.expiry.cancel(k)
	s.touch(k)
	return true
}

// touch bumps the version of a key, which invalidates WATCHes on it
func (s *Server) touch(k dbKey) {
	s.version++
	s.versions[k] = s.version
}

// --------------------------------------------------------------------------
// Commands
// --------------------------------------------------------------------------

func cmdPing(_ *Server, _ *session, args [][]byte, out []byte) []byte {
	if len(args) > 1 {
		return proto.AppendBulk(out, args[1])
	}
	return proto.AppendStatus(out, "PONG")
}

func cmdEcho(_ *Server, _ *session, args [][]byte, out []byte) []byte {
	return proto.AppendBulk(out, args[1])
}

func cmdSelect(_ *Server, sess *session, args [][]byte, out []byte) []byte {
	db, err := strconv.Atoi(string(args[1]))
	if err != nil || db < 0 || db >= numDatabases {
		return proto.AppendError(out, "ERR DB index is out of range")
	}
	sess.db = db
	return proto.AppendStatus(out, "OK")
}

func cmdClient(_ *Server, sess *session, args [][]byte, out []byte) []byte {
	switch strings.ToUpper(string(args[1])) {
	case "SETNAME":
		if len(args) != 3 {
			return wrongArity(out, "CLIENT|SETNAME")
		}
		sess.name = string(args[2])
		return proto.AppendStatus(out, "OK")
	case "GETNAME":
		if sess.name == "" {
			return proto.AppendBulk(out, nil)
		}
		return proto.AppendBulk(out, []byte(sess.name))
	case "ID":
		return proto.AppendInt(out, int64(sess.id))
	}
	return proto.AppendError(out, "ERR unknown subcommand '"+string(args[1])+"'")
}

func cmdGet(s *Server, sess *session, args [][]byte, out []byte) []byte {
	e, ok := s.lookup(dbKey{sess.db, string(args[1])})
	if !ok {
		return proto.AppendBulk(out, nil)
	}
	return proto.AppendBulk(out, e.value)
}

// cmdSet implements SET key value [NX|XX] [EX seconds|PX milliseconds]
func cmdSet(s *Server, sess *session, args [][]byte, out []byte) []byte {
	var nx, xx bool
	var ttl time.Duration

	for i := 3; i < len(args); i++ {
		switch opt := strings.ToUpper(string(args[i])); opt {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "EX", "PX":
			if i+1 >= len(args) {
				return proto.AppendError(out, "ERR syntax error")
			}
			n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil || n <= 0 {
				return proto.AppendError(out, "ERR invalid expire time in 'set' command")
			}
			i++
			if opt == "EX" {
				ttl = time.Duration(n) * time.Second
			} else {
				ttl = time.Duration(n) * time.Millisecond
			}
		default:
			return proto.AppendError(out, "ERR syntax error")
		}
	}
	if nx && xx {
		return proto.AppendError(out, "ERR syntax error")
	}

	k := dbKey{sess.db, string(args[1])}
	_, exists := s.lookup(k)
	if (nx && exists) || (xx && !exists) {
		return proto.AppendBulk(out, nil)
	}

	e := entry{value: append([]byte(nil), args[2]...)}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	s.store(k, e)
	return proto.AppendStatus(out, "OK")
}

func cmdSetNX(s *Server, sess *session, args [][]byte, out []byte) []byte {
	k := dbKey{sess.db, string(args[1])}
	if _, exists := s.lookup(k); exists {
		return proto.AppendInt(out, 0)
	}
	s.store(k, entry{value: append([]byte(nil), args[2]...)})
	return proto.AppendInt(out, 1)
}

func cmdDel(s *Server, sess *session, args [][]byte, out []byte) []byte {
	var n int64
	for _, key := range args[1:] {
		if s.remove(dbKey{sess.db, string(key)}) {
			n++
		}
	}
	return proto.AppendInt(out, n)
}

func cmdExists(s *Server, sess *session, args [][]byte, out []byte) []byte {
	var n int64
	for _, key := range args[1:] {
		if _, ok := s.lookup(dbKey{sess.db, string(key)}); ok {
			n++
		}
	}
	return proto.AppendInt(out, n)
}

func cmdIncr(s *Server, sess *session, args [][]byte, out []byte) []byte {
	k := dbKey{sess.db, string(args[1])}
	e, _ := s.lookup(k)

	var n int64
	if e.value != nil {
		var err error
		if n, err = strconv.ParseInt(string(e.value), 10, 64); err != nil {
			return proto.AppendError(out, "ERR value is not an integer or out of range")
		}
	}
	n++
	e.value = strconv.AppendInt(nil, n, 10)
	s.store(k, e)
	return proto.AppendInt(out, n)
}

func cmdDBSize(s *Server, sess *session, _ [][]byte, out []byte) []byte {
	var n int64
	for k := range s.data {
		if k.db != sess.db {
			continue
		}
		if _, ok := s.lookup(k); ok {
			n++
		}
	}
	return proto.AppendInt(out, n)
}

func cmdFlushDB(s *Server, sess *session, _ [][]byte, out []byte) []byte {
	for k := range s.data {
		if k.db == sess.db {
			delete(s.data, k)
			s.expiry.cancel(k)
			s.touch(k)
		}
	}
	return proto.AppendStatus(out, "OK")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func arityOK(arity, n int) bool {
	if arity < 0 {
		return n >= -arity
	}
	return n == arity
}

func wrongArity(out []byte, name string) []byte {
	return proto.AppendError(out, "ERR wrong number of arguments for '"+strings.ToLower(name)+"' command")
}

