package proto

import (
	"bufio"
	"fmt"
	"github.com/pkg/errors"
	"io"
	"strconv"
)

// Reply type markers (first byte of every reply)
const (
	StatusReply = '+'
	ErrorReply  = '-'
	IntReply    = ':'
	BulkReply   = '$'
	ArrayReply  = '*'
)

// maxBulkLen and maxArrayLen guard against garbage length headers
const (
	maxBulkLen  = 512 * 1024 * 1024
	maxArrayLen = 1 << 24
)

// preallocLimit caps the capacity reserved from an array header, longer
// arrays grow as their elements arrive
const preallocLimit = 1024

var (
	ErrInvalidReply = errors.New("proto: invalid reply")
)

// Error is an error reply sent by the server
type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return e.Msg
}

// Reply is one decoded reply. Which field is set depends on Type.
type Reply struct {
	Type  byte
	Str   string  // status and error replies
	Int   int64   // integer replies
	Bulk  []byte  // bulk replies
	Array []Reply // array replies
	Null  bool    // null bulk string or null array
}

// Err returns the server error carried by an error reply, nil otherwise
func (r Reply) Err() error {
	if r.Type == ErrorReply {
		return &Error{Msg: r.Str}
	}
	return nil
}

// IsStatus reports whether the reply is the simple string s
func (r Reply) IsStatus(s string) bool {
	return r.Type == StatusReply && r.Str == s
}

// String renders the reply for logs and the CLI
func (r Reply) String() string {
	switch r.Type {
	case StatusReply:
		return r.Str
	case ErrorReply:
		return "(error) " + r.Str
	case IntReply:
		return "(integer) " + strconv.FormatInt(r.Int, 10)
	case BulkReply:
		if r.Null {
			return "(nil)"
		}
		return strconv.Quote(string(r.Bulk))
	case ArrayReply:
		if r.Null {
			return "(nil array)"
		}
		return fmt.Sprintf("%v", r.Array)
	}
	return "(unknown)"
}

// Reader decodes replies from a buffered stream
type Reader struct {
	rd *bufio.Reader
}

// NewReader creates a reader with a read buffer of the given size
func NewReader(r io.Reader, size int) *Reader {
	return &Reader{rd: bufio.NewReaderSize(r, size)}
}

// Buffered returns the number of bytes that can be read without I/O
func (r *Reader) Buffered() int {
	return r.rd.Buffered()
}

// ReadReply reads one complete reply including nested arrays
func (r *Reader) ReadReply() (Reply, error) {
	line, err := r.readLine()
	if err != nil {
		return Reply{}, err
	}

	switch line[0] {
	case StatusReply, ErrorReply:
		return Reply{Type: line[0], Str: string(line[1:])}, nil

	case IntReply:
		n, err := parseInt(line[1:])
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: IntReply, Int: n}, nil

	case BulkReply:
		b, err := r.readBulk(line)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: BulkReply, Bulk: b, Null: b == nil}, nil

	case ArrayReply:
		n, err := parseArrayLen(line)
		if err != nil {
			return Reply{}, err
		}
		if n < 0 {
			return Reply{Type: ArrayReply, Null: true}, nil
		}
		elems := make([]Reply, 0, min(n, preallocLimit))
		for i := 0; i < n; i++ {
			elem, err := r.ReadReply()
			if err != nil {
				return Reply{}, err
			}
			elems = append(elems, elem)
		}
		return Reply{Type: ArrayReply, Array: elems}, nil
	}

	return Reply{}, errors.Wrapf(ErrInvalidReply, "unexpected reply type %q", line[0])
}

// ReadArrayLen reads an array header and returns its length, -1 for the
// null array. An error reply is returned as *Error.
func (r *Reader) ReadArrayLen() (int, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}

	switch line[0] {
	case ArrayReply:
		return parseArrayLen(line)
	case ErrorReply:
		return 0, &Error{Msg: string(line[1:])}
	}

	return 0, errors.Wrapf(ErrInvalidReply, "expected array, got %q", line[0])
}

// ReadMultiBulk reads a flat array of bulk strings. A null array is
// returned as nil, null elements as nil slices.
func (r *Reader) ReadMultiBulk() ([][]byte, error) {
	n, err := r.ReadArrayLen()
	if err != nil || n < 0 {
		return nil, err
	}

	out := make([][]byte, 0, min(n, preallocLimit))
	for i := 0; i < n; i++ {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		switch line[0] {
		case BulkReply:
			b, err := r.readBulk(line)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		case StatusReply, IntReply:
			out = append(out, append([]byte(nil), line[1:]...))
		case ErrorReply:
			return nil, &Error{Msg: string(line[1:])}
		default:
			return nil, errors.Wrapf(ErrInvalidReply, "unexpected multi-bulk element %q", line[0])
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// readLine reads a CRLF terminated line and returns it without the CRLF.
// The returned slice is only valid until the next read.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.rd.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// very long status line, fall back to an allocating read
		full := append([]byte(nil), line...)
		rest, err := r.rd.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = append(full, rest...)
	} else if err != nil {
		return nil, err
	}

	if len(line) < 3 || line[len(line)-2] != '\r' {
		return nil, errors.Wrapf(ErrInvalidReply, "malformed line %q", line)
	}
	return line[:len(line)-2], nil
}

// readBulk reads the payload announced by a $<len> header line
func (r *Reader) readBulk(header []byte) ([]byte, error) {
	n, err := parseInt(header[1:])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if n > maxBulkLen {
		return nil, errors.Wrapf(ErrInvalidReply, "bulk length %d too large", n)
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r.rd, buf); err != nil {
		return nil, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, errors.Wrap(ErrInvalidReply, "bulk string not terminated by CRLF")
	}
	return buf[:n], nil
}

// parseArrayLen parses a *<len> header line, -1 for the null array
func parseArrayLen(header []byte) (int, error) {
	n, err := parseInt(header[1:])
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return -1, nil
	}
	if n > maxArrayLen {
		return 0, errors.Wrapf(ErrInvalidReply, "array length %d too large", n)
	}
	return int(n), nil
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidReply, "invalid number %q", b)
	}
	return n, nil
}
