// ABOUTME: Per-user conversation session and the closed set of dialogue states
// ABOUTME: Includes deep copy, invariant check and the sanitized view for debug surfaces

package session

import (
	"fmt"
	"time"

	"github.com/2389/rollcall-gateway/internal/backend"
)

// State is where a user is in the attendance dialogue.
type State string

// The dialogue states. Every switch over State must handle all of them.
const (
	StateUnauthenticated     State = "unauthenticated"
	StateAuthenticated       State = "authenticated"
	StateSelectingAssignment State = "selecting_assignment"
	StateSelectingSession    State = "selecting_session"
	StateWaitingForTopic     State = "waiting_for_topic"
	StateMarkingAttendance   State = "marking_attendance"
)

// States lists every State in dialogue order.
var States = []State{
	StateUnauthenticated,
	StateAuthenticated,
	StateSelectingAssignment,
	StateSelectingSession,
	StateWaitingForTopic,
	StateMarkingAttendance,
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Session is everything the bot remembers about one user identifier.
type Session struct {
	UserID string
	State  State

	// Token is the backend bearer token, set iff State != StateUnauthenticated.
	Token string
	User  *backend.User

	Assignments   []backend.TeachingAssignment
	ClassSessions []backend.ClassSession

	CurrentAssignment   *backend.TeachingAssignment
	CurrentClassSession *backend.ClassSession

	// AttendanceRecords caches the roster of CurrentClassSession. Present flags
	// only change after the backend confirms a write.
	AttendanceRecords []backend.AttendanceRecord

	LoginAttempts    int
	LastLoginAttempt time.Time

	CreatedAt    time.Time
	LastActivity time.Time
}

// New returns a fresh unauthenticated session.
func New(userID string, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		State:        StateUnauthenticated,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone returns a deep copy; the copy shares no slices or pointers with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.User != nil {
		u := *s.User
		c.User = &u
	}
	if s.CurrentAssignment != nil {
		a := *s.CurrentAssignment
		c.CurrentAssignment = &a
	}
	if s.CurrentClassSession != nil {
		cs := *s.CurrentClassSession
		c.CurrentClassSession = &cs
	}
	c.Assignments = cloneSlice(s.Assignments)
	c.ClassSessions = cloneSlice(s.ClassSessions)
	c.AttendanceRecords = cloneSlice(s.AttendanceRecords)
	return &c
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Authenticated reports whether the session holds a backend token.
func (s *Session) Authenticated() bool {
	return s.State != StateUnauthenticated
}

// Login moves the session to StateAuthenticated with a fresh token.
func (s *Session) Login(token string, user backend.User) {
	s.State = StateAuthenticated
	s.Token = token
	s.User = &user
	s.LoginAttempts = 0
	s.clearSelection()
}

// Logout drops the token and everything fetched with it. Rate limit
// counters survive so that logging out does not reset a lockout.
func (s *Session) Logout() {
	s.State = StateUnauthenticated
	s.Token = ""
	s.User = nil
	s.clearSelection()
}

// Restart returns an authenticated session to StateAuthenticated and drops
// cached assignments, sessions and roster.
func (s *Session) Restart() {
	if !s.Authenticated() {
		return
	}
	s.State = StateAuthenticated
	s.clearSelection()
}

// LeaveClassSession forgets the selected class session and its roster.
func (s *Session) LeaveClassSession() {
	s.CurrentClassSession = nil
	s.AttendanceRecords = nil
}

func (s *Session) clearSelection() {
	s.Assignments = nil
	s.ClassSessions = nil
	s.CurrentAssignment = nil
	s.LeaveClassSession()
}

// Check verifies the structural invariants between State and the other fields.
func (s *Session) Check() error {
	if !s.State.Valid() {
		return fmt.Errorf("unknown state %q", s.State)
	}
	if (s.Token != "") != s.Authenticated() {
		return fmt.Errorf("token present=%t in state %s", s.Token != "", s.State)
	}
	if (s.CurrentClassSession != nil) != (s.State == StateMarkingAttendance) {
		return fmt.Errorf("current class session present=%t in state %s", s.CurrentClassSession != nil, s.State)
	}
	return nil
}

// View is the sanitized form of a Session exposed on debug surfaces.
type View struct {
	State               State     `json:"state"`
	Token               string    `json:"token,omitempty"`
	UserName            string    `json:"user_name,omitempty"`
	Role                string    `json:"role,omitempty"`
	Assignments         int       `json:"assignments"`
	ClassSessions       int       `json:"class_sessions"`
	CurrentAssignment   string    `json:"current_assignment,omitempty"`
	CurrentClassSession string    `json:"current_class_session,omitempty"`
	AttendanceRecords   int       `json:"attendance_records"`
	LoginAttempts       int       `json:"login_attempts"`
	LastLoginAttempt    time.Time `json:"last_login_attempt,omitzero"`
	CreatedAt           time.Time `json:"created_at"`
	LastActivity        time.Time `json:"last_activity"`
}

// MaskedToken replaces a present token in View.
const MaskedToken = "***"

// Sanitize returns the view of s with the token masked.
func (s *Session) Sanitize() View {
	v := View{
		State:             s.State,
		Assignments:       len(s.Assignments),
		ClassSessions:     len(s.ClassSessions),
		AttendanceRecords: len(s.AttendanceRecords),
		LoginAttempts:     s.LoginAttempts,
		LastLoginAttempt:  s.LastLoginAttempt,
		CreatedAt:         s.CreatedAt,
		LastActivity:      s.LastActivity,
	}
	if s.Token != "" {
		v.Token = MaskedToken
	}
	if s.User != nil {
		v.UserName = s.User.DisplayName("")
		v.Role = s.User.Role
	}
	if s.CurrentAssignment != nil {
		v.CurrentAssignment = s.CurrentAssignment.ID
	}
	if s.CurrentClassSession != nil {
		v.CurrentClassSession = s.CurrentClassSession.ID
	}
	return v
}
