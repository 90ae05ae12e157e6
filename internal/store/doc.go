// Package store provides the audit ledger for rollcall-gateway using SQLite.
//
// # What Is Stored
//
// The ledger is append-only and write-mostly:
//
//   - Exchange: one inbound message (passwords redacted), the reply, the
//     dialogue state before and after, and how long handling took
//   - AttendanceCommit: one confirmed batch write, with the roll numbers the
//     attendance service accepted and rejected
//
// Session state is deliberately absent. Conversations live in memory only
// and a restart starts every user from the login prompt.
//
// # Implementations
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) in WAL mode. The
// schema is created on open and migrations are idempotent. MockStore keeps
// everything in memory for tests.
//
// # Usage
//
//	ledger, err := store.NewSQLiteStore("/var/lib/rollcall/ledger.db")
//	if err != nil {
//	    return err
//	}
//	defer ledger.Close()
//
//	recent, err := ledger.ListExchanges(ctx, store.ExchangeFilter{UserID: "whatsapp:+15550001", Limit: 20})
package store
