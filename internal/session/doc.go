// Package session holds the per-user conversation state of rollcall-gateway.
//
// # Overview
//
// A Session is created on first contact from a user identifier (a phone
// number or chat ID) in StateUnauthenticated. It is destroyed on logout or
// after it has been idle longer than the store TTL (30 minutes by default).
// An expired session is never handed out again: the next message from that
// user starts over exactly as if it were the first.
//
// # Concurrency
//
// The Store guards its map with a short-lived mutex and hands out copies.
// Read-modify-write of one user's session is serialized by a per-user lock:
//
//	unlock, err := store.Lock(ctx, userID)
//	if err != nil {
//	    return err // ErrLockTimeout
//	}
//	defer unlock()
//	sess := store.GetOrCreate(userID)
//	// ... mutate sess ...
//	store.Save(sess)
//
// Locks for different users are independent, so one slow user never blocks
// another.
//
// # Invariants
//
// Check verifies that a token is present exactly when the session is not
// unauthenticated, and that a current class session is set exactly when the
// session is marking attendance.
package session
