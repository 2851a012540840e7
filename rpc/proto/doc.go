// Package proto implements the request/response wire format spoken by the
// store (RESP).
//
// Requests are arrays of bulk strings. AppendCommand encodes one into a
// caller supplied buffer and CommandLen reports how many bytes that takes,
// so callers can size pooled buffers before encoding.
//
// Replies are decoded by a Reader. It offers the two primitives the rest of
// the client is built on:
//
//   - ReadReply: decode one reply of any type (status, error, integer, bulk,
//     array) into a Reply value. Null bulk strings and null arrays are
//     reported through Reply.Null.
//   - ReadMultiBulk: decode a flat array into raw [][]byte.
//
// ReadArrayLen reads just an array header, which lets a caller consume the
// elements of a large array one by one (see the txn package).
//
// The Append* reply encoders are used by the in-memory test server.
package proto
