// Package backend is the client side of the attendance-management service.
//
// # Overview
//
// The attendance service owns authentication, teaching assignments, class
// sessions and attendance records. rollcall-gateway never persists any of
// these; it reads them through the Client interface and writes attendance
// back in batches.
//
// # Endpoints
//
//	POST /api/auth/login                              Authenticate
//	GET  /api/teachers/assignments                    ListAssignments
//	GET  /api/teachers/sessions/{assignmentId}        ListSessions
//	POST /api/teachers/sessions                       CreateSession
//	GET  /api/teachers/sessions/{sessionId}/attendance GetAttendance
//	PUT  /api/teachers/attendance/batch/{sessionId}   MarkAttendanceBatch
//
// # Retries
//
// Every call is bounded by an overall timeout and retried by a RetryPolicy
// on transport errors and timeouts only. A response with a non-2xx status is
// an answer, not a transport failure, and is never retried:
//
//	policy := backend.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
//	policy.Backoff(1) // 1s
//	policy.Backoff(2) // 2s
//
// # Errors
//
//   - ErrUnavailable: retries exhausted, timeout, or malformed response
//   - ErrUnauthorized: the bearer token was rejected (401/403)
//   - ErrInvalidCredentials: login rejected
//   - *StatusError: any other non-2xx status
//
// # Testing
//
// MockClient implements Client in memory and records every call, so
// conversation-level tests never touch the network.
package backend
