// ABOUTME: Client interface for the attendance service and its error values
// ABOUTME: Every operation is fallible and blocking; callers never assume success

package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the service could not be reached or answered garbage.
	ErrUnavailable = errors.New("attendance service unavailable")

	// ErrUnauthorized means the bearer token was rejected.
	ErrUnauthorized = errors.New("token rejected by attendance service")

	// ErrInvalidCredentials means the login was rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// StatusError is returned for non-2xx responses that have no dedicated sentinel.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

// Client is the narrow contract the conversation engine consumes.
type Client interface {
	Authenticate(ctx context.Context, email, password string) (*AuthResult, error)
	ListAssignments(ctx context.Context, token string) ([]TeachingAssignment, error)
	ListSessions(ctx context.Context, assignmentID, token string) ([]ClassSession, error)
	CreateSession(ctx context.Context, assignmentID, token, topic string) (*ClassSession, error)
	GetAttendance(ctx context.Context, classSessionID, token string) ([]AttendanceRecord, error)
	MarkAttendanceBatch(ctx context.Context, classSessionID string, updates []AttendanceUpdate, token string) ([]BatchResult, error)
}
