// ABOUTME: Ledger interface and record types for rollcall-gateway persistence
// ABOUTME: Defines Exchange and AttendanceCommit and the Ledger interface for audit storage

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Exchange is one inbound message and the reply it produced.
type Exchange struct {
	ID          string
	UserID      string
	MessageID   string // transport message ID, may be empty
	Inbound     string // passwords already redacted
	Reply       string
	StateBefore string
	StateAfter  string
	Duration    time.Duration
	CreatedAt   time.Time
}

// AttendanceCommit is one confirmed batch write to the attendance service.
type AttendanceCommit struct {
	ID             string
	UserID         string
	AssignmentID   string
	ClassSessionID string
	Marked         []string // roll numbers the service confirmed
	Failed         []string // roll numbers the service rejected
	CreatedAt      time.Time
}

// ExchangeFilter selects exchanges for listing.
type ExchangeFilter struct {
	UserID string // empty means every user
	Since  *time.Time
	Limit  int // default 50, max 500
}

// Ledger is the append-only audit trail. It never stores session state,
// so a restart always begins with empty sessions.
type Ledger interface {
	AppendExchange(ctx context.Context, e *Exchange) error
	ListExchanges(ctx context.Context, f ExchangeFilter) ([]*Exchange, error)
	GetExchange(ctx context.Context, id string) (*Exchange, error)

	AppendAttendanceCommit(ctx context.Context, c *AttendanceCommit) error
	ListAttendanceCommits(ctx context.Context, classSessionID string, limit int) ([]*AttendanceCommit, error)

	Close() error
}

// normalizeLimit applies the default (50) and cap (500) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
