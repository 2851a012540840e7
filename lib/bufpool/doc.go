// Package bufpool implements a lock-free pool of fixed size byte buffers used
// for protocol I/O.
//
// The pool is a slab of slots. Each slot is an atomic pointer that is either
// nil or points to exactly one buffer of the canonical size:
//
//   - Acquire swaps the first occupied slot with nil and returns its buffer.
//     When every slot is empty a fresh buffer is allocated. Size hints above
//     the canonical size are always served by direct allocation.
//   - Release compare-and-swaps the buffer into the first empty slot. When no
//     slot is free the buffer is dropped, the pool never grows.
//
// No operation blocks and nothing returns an error. Under contention a
// goroutine simply misses a slot and allocates, which is always correct
// because callers only rely on the length of the buffer, never on which
// buffer they get. Buffers are not cleared between uses.
package bufpool
