// Package conversation is the dialogue engine of the attendance bot.
//
// # Overview
//
// Service.HandleMessage takes one inbound (user, text, message ID) and
// returns the plain-text reply. Transports (the Twilio webhook, the JSON
// API used by the Matrix bridge and the chat console) only wrap that reply.
//
// # Message Flow
//
//  1. Take the user's lock from the session store, bounded by the message deadline
//  2. Return the stored reply if the message ID was already handled
//  3. Load a copy of the session (expired sessions come back brand new)
//  4. Log the user out if the backend token's exp has passed
//  5. Apply global commands (help, logout, restart, assignments)
//  6. Otherwise run the handler for the current state
//  7. Check the session invariants and save the copy back
//  8. Truncate the reply, release the lock, append to the ledger
//
// # States
//
//	unauthenticated ──login──▶ authenticated ──assignments──▶ selecting_assignment
//	selecting_assignment ──n──▶ selecting_session
//	selecting_session ──new──▶ waiting_for_topic ──topic──▶ marking_attendance
//	selecting_session ──n──▶ marking_attendance
//
// # Errors
//
// Handlers return an *Error whose Kind is ValidationError, AuthError,
// BackendUnavailable, NotFoundError or InternalError, and whose Message is
// the reply. A token the backend rejects logs the user out. A panic is
// recovered, logged with its stack, and answered with a generic reply.
//
// # Live Exchanges
//
// A Broadcaster, when configured, receives every handled exchange for the
// debug stream endpoint.
package conversation
