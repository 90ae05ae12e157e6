// Package auth covers both sides of authentication in rollcall-gateway.
//
// # Chat Login
//
// Teachers log in from the chat itself:
//
//	login teacher@school.edu my pass phrase
//
// ParseLogin checks the message shape and the email; everything after the
// email is the password. The Authenticator then applies the Limiter rules
// and asks the attendance service to check the credentials. Only accounts
// with the TEACHER role may use the bot.
//
// Limiter rules, evaluated in order on each attempt:
//
//   - less than MinInterval since the previous attempt: ErrTooFast, not counted
//   - MaxAttempts failures and less than Lockout since the last: ErrLockedOut
//   - otherwise the attempt is counted and sent to the service
//
// A successful login resets the counter. Redact strips the password from a
// login message before it is logged or stored.
//
// # Service Tokens
//
// The attendance service issues its own JWTs. The gateway cannot verify
// them but reads their "exp" claim with TokenExpiry so an expired login
// sends the user back to the login prompt.
//
// # Gateway Tokens
//
// The HTTP API and debug endpoints accept HS256 JWTs signed with
// auth.jwt_secret:
//
//	verifier, _ := NewJWTVerifier(secret)
//	token, _ := verifier.Generate("matrix-bridge", 0)
//
// HTTPAuthMiddleware checks the Authorization header and stores the token
// subject as the Caller in the request context.
package auth
