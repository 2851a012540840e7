// Package txn implements MULTI/EXEC transactions on a leased connection.
//
// A Pipeline moves through three states: open after Begin, then either
// committed (Commit) or rolled back (Rollback, Close). While it is open it
// is attached to its connection, a second Begin on the same connection
// fails with ErrTransactionInUse and plain commands on the connection fail
// with client.ErrTransactionOpen.
//
// Queued commands are only buffered. Commit sends MULTI, the commands and
// EXEC in one write and then reads, in order:
//
//  1. the MULTI acknowledgement (+OK),
//  2. one QUEUED acknowledgement per command,
//  3. the EXEC array header: a null array means a WATCHed key changed and
//     the transaction was not applied; any other length must equal the
//     number of queued commands,
//  4. one result per command, passed to the command's decoder.
//
// A result count mismatch is returned as *ResultCountMismatchError. At that
// point EXEC has been sent and the transaction may already be applied, so
// the connection is deactivated and nothing is rolled back.
//
// Usage Example:
//
//	tx, err := txn.Begin(conn)
//	if err != nil {
//		// handle error
//	}
//	defer tx.Close()
//
//	_, _ = tx.Set("a", "1")
//	counter, _ := tx.Incr("b")
//	if ok, err := tx.Commit(); err == nil && ok {
//		fmt.Println(counter.Val)
//	}
package txn
