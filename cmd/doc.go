// Package cmd implements the command-line interface of rkv. It provides a
// hierarchical command structure for talking to a RESP key-value store
// through the pooled client and for running a local in-memory server.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (get, set, del, txn, perf, etc.)
//   - lock: Commands for distributed locks (acquire, release)
//   - serve: Starts the in-memory development server
//   - stats: Pings every host and prints pool state and client metrics
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through an RKV_ prefixed environment variable
// or a .env file. See rkv -help for a list of all commands.
package cmd
