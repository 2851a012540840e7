// Package rpc provides the client side of the communication with a RESP
// key-value store and a small in-memory server to test it against.
//
// The package is organized into several subpackages:
//
//   - common: Endpoint descriptors, the client configuration, shared errors
//     and logging.
//
//   - proto: The RESP wire codec, used by the client and the server.
//
//   - client: A single connection with its handshake, command helpers and
//     the TCP/TLS connector that dials it.
//
//   - resolver: Maps the master and replica topology to endpoints and
//     creates connections through a pluggable factory.
//
//   - pool: The connection pool manager with per-role sizing, leases and
//     failover.
//
//   - txn: MULTI/EXEC transaction pipelines on a leased connection.
//
//   - memserver: An in-memory RESP server for tests and local development.
package rpc
