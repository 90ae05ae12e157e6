// ABOUTME: Chat login: parses "login <email> <password>", throttles attempts, checks the role
// ABOUTME: Credentials are verified by the attendance service, never locally

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/2389/rollcall-gateway/internal/backend"
)

// Login errors
var (
	ErrInvalidFormat = errors.New("invalid login format")
	ErrTooFast       = errors.New("login attempted too soon after the previous one")
	ErrLockedOut     = errors.New("too many failed login attempts")
	ErrNotTeacher    = errors.New("account is not a teacher")
)

// LoginCommand is the keyword that starts a login message.
const LoginCommand = "login"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Credentials is a parsed login message.
type Credentials struct {
	Email    string
	Password string
}

// IsLoginAttempt reports whether the first word of text is "login".
func IsLoginAttempt(text string) bool {
	fields := strings.Fields(text)
	return len(fields) > 0 && strings.EqualFold(fields[0], LoginCommand)
}

// ParseLogin parses "login <email> <password...>". Everything after the
// email is the password, with the words joined by single spaces.
func ParseLogin(text string) (Credentials, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 || !strings.EqualFold(fields[0], LoginCommand) {
		return Credentials{}, ErrInvalidFormat
	}
	email := fields[1]
	if !emailPattern.MatchString(email) {
		return Credentials{}, fmt.Errorf("%w: email %q", ErrInvalidFormat, email)
	}
	return Credentials{
		Email:    email,
		Password: strings.Join(fields[2:], " "),
	}, nil
}

// Redact replaces the password of a login message so it can be logged.
// Other text is returned unchanged.
func Redact(text string) string {
	if !IsLoginAttempt(text) {
		return text
	}
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return text
	}
	return strings.Join([]string{fields[0], fields[1], "***"}, " ")
}

// Attempts is the login throttling state kept per user.
type Attempts struct {
	Count int
	Last  time.Time
}

// Limiter enforces the login throttling rules.
type Limiter struct {
	MinInterval time.Duration // minimum gap between attempts
	MaxAttempts int           // failures before lockout
	Lockout     time.Duration // lockout length, measured from the last attempt
}

// DefaultLimiter is 5s between attempts and a 15 minute lockout after 5 failures.
func DefaultLimiter() Limiter {
	return Limiter{MinInterval: 5 * time.Second, MaxAttempts: 5, Lockout: 15 * time.Minute}
}

// Check applies the rules in order: too fast, then locked out. An expired
// lockout resets the counter. Check never counts an attempt itself.
func (l Limiter) Check(a *Attempts, now time.Time) error {
	if a.Last.IsZero() {
		return nil
	}
	since := now.Sub(a.Last)
	if since < l.MinInterval {
		return ErrTooFast
	}
	if a.Count >= l.MaxAttempts {
		if since < l.Lockout {
			return ErrLockedOut
		}
		a.Count = 0
	}
	return nil
}

// Record counts an attempt at now.
func (l Limiter) Record(a *Attempts, now time.Time) {
	a.Count++
	a.Last = now
}

// Remaining returns how many attempts are left before lockout.
func (l Limiter) Remaining(a Attempts) int {
	return max(0, l.MaxAttempts-a.Count)
}

// Exhausted reports whether the next attempt would be refused for lockout.
func (l Limiter) Exhausted(a Attempts) bool {
	return a.Count >= l.MaxAttempts
}

// LockedFor returns how long until a locked-out user may try again.
func (l Limiter) LockedFor(a Attempts, now time.Time) time.Duration {
	if a.Count < l.MaxAttempts {
		return 0
	}
	return max(0, a.Last.Add(l.Lockout).Sub(now))
}

// Authenticator runs the chat login flow against the attendance service.
type Authenticator struct {
	client  backend.Client
	limiter Limiter
	logger  *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(client backend.Client, limiter Limiter, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{client: client, limiter: limiter, logger: logger.With("component", "auth")}
}

// Limiter returns the throttling rules in use.
func (a *Authenticator) Limiter() Limiter { return a.limiter }

// Login validates text, applies the rate rules and asks the service to
// check the credentials. A malformed message or a throttled attempt does
// not touch the counter or the service. Every attempt that reaches the
// service is counted; a successful teacher login resets the counter.
func (a *Authenticator) Login(ctx context.Context, attempts *Attempts, text string, now time.Time) (*backend.AuthResult, error) {
	creds, err := ParseLogin(text)
	if err != nil {
		return nil, err
	}
	if err := a.limiter.Check(attempts, now); err != nil {
		a.logger.Info("login throttled", "email", creds.Email, "reason", err)
		return nil, err
	}

	a.limiter.Record(attempts, now)
	res, err := a.client.Authenticate(ctx, creds.Email, creds.Password)
	if err != nil {
		a.logger.Info("login failed", "email", creds.Email, "attempts", attempts.Count, "error", err)
		return nil, err
	}
	if !res.User.IsTeacher() {
		a.logger.Info("login refused for role", "email", creds.Email, "role", res.User.Role)
		return nil, fmt.Errorf("%w: role %q", ErrNotTeacher, res.User.Role)
	}

	attempts.Count = 0
	a.logger.Info("login succeeded", "email", creds.Email)
	return res, nil
}
