package proto

import (
	"strconv"
)

// CommandLen returns the number of bytes AppendCommand needs for args
func CommandLen(args ...[]byte) int {
	// *<n>\r\n
	n := 1 + intLen(len(args)) + 2
	for _, arg := range args {
		// $<len>\r\n<data>\r\n
		n += 1 + intLen(len(arg)) + 2 + len(arg) + 2
	}
	return n
}

// AppendCommand encodes args as a multi-bulk of bulk strings:
//
//	*<argc>\r\n
//	$<len>\r\n<arg>\r\n  (for every arg)
func AppendCommand(dst []byte, args ...[]byte) []byte {
	dst = append(dst, ArrayReply)
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, '\r', '\n')
	for _, arg := range args {
		dst = append(dst, BulkReply)
		dst = strconv.AppendInt(dst, int64(len(arg)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, arg...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}

// Args converts string arguments to the byte form used by AppendCommand
func Args(args ...string) [][]byte {
	out := make([][]byte, len(args))
	for i, arg := range args {
		out[i] = []byte(arg)
	}
	return out
}

// --------------------------------------------------------------------------
// Reply encoding (used by servers)
// --------------------------------------------------------------------------

// AppendStatus encodes a simple string reply
func AppendStatus(dst []byte, s string) []byte {
	dst = append(dst, StatusReply)
	dst = append(dst, s...)
	return append(dst, '\r', '\n')
}

// AppendError encodes an error reply
func AppendError(dst []byte, msg string) []byte {
	dst = append(dst, ErrorReply)
	dst = append(dst, msg...)
	return append(dst, '\r', '\n')
}

// AppendInt encodes an integer reply
func AppendInt(dst []byte, n int64) []byte {
	dst = append(dst, IntReply)
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, '\r', '\n')
}

// AppendBulk encodes a bulk reply, nil is encoded as the null bulk string
func AppendBulk(dst []byte, b []byte) []byte {
	if b == nil {
		return append(dst, '$', '-', '1', '\r', '\n')
	}
	dst = append(dst, BulkReply)
	dst = strconv.AppendInt(dst, int64(len(b)), 10)
	dst = append(dst, '\r', '\n')
	dst = append(dst, b...)
	return append(dst, '\r', '\n')
}

// AppendArrayLen encodes an array header, n < 0 is the null array
func AppendArrayLen(dst []byte, n int) []byte {
	dst = append(dst, ArrayReply)
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, '\r', '\n')
}

// AppendReply encodes a decoded reply again
func AppendReply(dst []byte, r Reply) []byte {
	switch r.Type {
	case StatusReply:
		return AppendStatus(dst, r.Str)
	case ErrorReply:
		return AppendError(dst, r.Str)
	case IntReply:
		return AppendInt(dst, r.Int)
	case BulkReply:
		if r.Null {
			return AppendBulk(dst, nil)
		}
		return AppendBulk(dst, r.Bulk)
	case ArrayReply:
		if r.Null {
			return AppendArrayLen(dst, -1)
		}
		dst = AppendArrayLen(dst, len(r.Array))
		for _, elem := range r.Array {
			dst = AppendReply(dst, elem)
		}
		return dst
	}
	return dst
}

func intLen(n int) int {
	if n == 0 {
		return 1
	}
	l := 0
	if n < 0 {
		l = 1
		n = -n
	}
	for n > 0 {
		l++
		n /= 10
	}
	return l
}
