// Package memserver is a small in-memory key-value server speaking RESP.
//
// It implements the subset of commands the rkv client relies on (strings,
// WATCH/MULTI/EXEC transactions, AUTH, SELECT and CLIENT SETNAME) and is
// used by the tests of the client packages and by `rkv serve`. It is not
// meant to be a production store: data lives in one map guarded by one
// mutex. Expired keys are removed on access and by a background sweep.
//
// Usage Example:
//
//	srv := memserver.New(memserver.Config{})
//	if err := srv.Start("127.0.0.1:0"); err != nil {
//		// handle error
//	}
//	defer srv.Close()
//
//	endpoint := common.ParseAddr(srv.Addr())
package memserver
