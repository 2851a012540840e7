// Package common provides the data structures shared by every part of the
// client: endpoint descriptions, the immutable client configuration, the
// logger factory and the configuration error.
//
// Key Components:
//
//   - Endpoint: Address, credentials and socket parameters of one store
//     instance. Endpoints are plain values compared with ==. They can be
//     parsed from a descriptor ("host=foo;port=7000;db=2", see ParseEndpoint)
//     or from a short address ("secret@foo:7000", see ParseAddr).
//
//   - ClientConfig: Topology, pool sizing, timeouts and buffer pool settings.
//     DefaultClientConfig fills every field, Validate reports configuration
//     errors and String renders the configuration for the CLI.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger package, so every package can keep a package level logger
//     created with logger.GetLogger and still share one format and level.
package common
