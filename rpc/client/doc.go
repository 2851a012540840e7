// Package client implements a single connection to a store instance.
//
// A Conn owns one socket, one outbound buffer taken from a bufpool.Pool,
// its role (read-write for masters, read-only for replicas), the
// transaction currently attached to it and the timestamps the pool uses to
// decide whether it can be reused.
//
// Commands are written into the outbound buffer with WriteCommand and sent
// with Flush, replies are read with ReadReply or ReadArrayLen. Do combines
// the three for a single command and the typed helpers (Get, Set, SetNX,
// Del, Watch, ...) are built on it. A failed read or write deactivates the
// connection for good, server error replies do not.
//
// Key Components:
//
//   - IClientConnector: Transport-specific dialing. NewTCPConnector dials TCP
//     (with TLS for endpoints that ask for it) and applies the socket
//     options of the configuration.
//
//   - Factory: Opens ready-to-use connections. NewFactory dials through a
//     connector and runs the handshake (AUTH, SELECT, CLIENT SETNAME) the
//     endpoint requires.
//
// Usage Example:
//
//	conf := common.DefaultClientConfig()
//	buffers := bufpool.New(conf.BufferPoolSlots, conf.BufferSize, conf.BufferPoolCeiling)
//	factory := client.NewFactory(client.NewTCPConnector(conf), conf, buffers)
//
//	conn, err := factory(ctx, conf.Masters[0], client.ReadWrite)
//	if err != nil {
//		// handle error
//	}
//	defer conn.Close()
//
//	_ = conn.Set("key", "value")
//	value, ok, _ := conn.Get("key")
package client
