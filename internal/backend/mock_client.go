// ABOUTME: Mock Client implementation for testing
// ABOUTME: Serves programmed data from memory and records every call

package backend

import (
	"context"
	"strings"
	"sync"
)

// Call records one invocation on a MockClient.
type Call struct {
	Op      string
	Token   string
	Args    []string
	Updates []AttendanceUpdate
}

// MockClient is an in-memory Client for tests. Set the exported fields to
// program responses; the *Err fields force the matching operation to fail.
type MockClient struct {
	mu sync.Mutex

	// Users maps email to password and account.
	Users     map[string]MockUser
	AuthToken string

	Assignments []TeachingAssignment
	Sessions    map[string][]ClassSession     // keyed by assignment ID
	Attendance  map[string][]AttendanceRecord // keyed by class session ID
	// Rejected lists student IDs the batch endpoint reports as failed.
	Rejected map[string]bool

	AuthErr       error
	AssignmentErr error
	SessionsErr   error
	CreateErr     error
	AttendanceErr error
	MarkErr       error

	calls     []Call
	sessionID int
}

// MockUser is a programmed account.
type MockUser struct {
	Password string
	User     User
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		Users:      make(map[string]MockUser),
		AuthToken:  "mock-token",
		Sessions:   make(map[string][]ClassSession),
		Attendance: make(map[string][]AttendanceRecord),
		Rejected:   make(map[string]bool),
	}
}

func (m *MockClient) record(c Call) {
	m.calls = append(m.calls, c)
}

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times op was invoked.
func (m *MockClient) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// LastCall returns the most recent call to op, or nil.
func (m *MockClient) LastCall(op string) *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Op == op {
			c := m.calls[i]
			return &c
		}
	}
	return nil
}

// Authenticate checks the programmed users.
func (m *MockClient) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "Authenticate", Args: []string{email}})

	if m.AuthErr != nil {
		return nil, m.AuthErr
	}
	u, ok := m.Users[strings.ToLower(email)]
	if !ok || u.Password != password {
		return nil, ErrInvalidCredentials
	}
	return &AuthResult{Token: m.AuthToken, User: u.User}, nil
}

// ListAssignments returns the programmed assignments.
func (m *MockClient) ListAssignments(ctx context.Context, token string) ([]TeachingAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "ListAssignments", Token: token})

	if m.AssignmentErr != nil {
		return nil, m.AssignmentErr
	}
	out := make([]TeachingAssignment, len(m.Assignments))
	copy(out, m.Assignments)
	return out, nil
}

// ListSessions returns the programmed sessions for an assignment.
func (m *MockClient) ListSessions(ctx context.Context, assignmentID, token string) ([]ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "ListSessions", Token: token, Args: []string{assignmentID}})

	if m.SessionsErr != nil {
		return nil, m.SessionsErr
	}
	src := m.Sessions[assignmentID]
	out := make([]ClassSession, len(src))
	copy(out, src)
	return out, nil
}

// CreateSession appends a new session to the assignment and gives it a copy
// of the roster template stored under the empty session ID.
func (m *MockClient) CreateSession(ctx context.Context, assignmentID, token, topic string) (*ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "CreateSession", Token: token, Args: []string{assignmentID, topic}})

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.sessionID++
	s := ClassSession{
		ID:           "new-session-" + itoa(m.sessionID),
		AssignmentID: assignmentID,
		Date:         "2025-01-01T09:00:00.000Z",
		Topic:        topic,
	}
	m.Sessions[assignmentID] = append([]ClassSession{s}, m.Sessions[assignmentID]...)
	if template, ok := m.Attendance[""]; ok {
		roster := make([]AttendanceRecord, len(template))
		copy(roster, template)
		for i := range roster {
			roster[i].SessionID = s.ID
		}
		m.Attendance[s.ID] = roster
	}
	return &s, nil
}

// GetAttendance returns a copy of the programmed roster.
func (m *MockClient) GetAttendance(ctx context.Context, classSessionID, token string) ([]AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: "GetAttendance", Token: token, Args: []string{classSessionID}})

	if m.AttendanceErr != nil {
		return nil, m.AttendanceErr
	}
	src := m.Attendance[classSessionID]
	out := make([]AttendanceRecord, len(src))
	copy(out, src)
	return out, nil
}

// MarkAttendanceBatch applies updates to the programmed roster.
func (m *MockClient) MarkAttendanceBatch(ctx context.Context, classSessionID string, updates []AttendanceUpdate, token string) ([]BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]AttendanceUpdate, len(updates))
	copy(cp, updates)
	m.record(Call{Op: "MarkAttendanceBatch", Token: token, Args: []string{classSessionID}, Updates: cp})

	if m.MarkErr != nil {
		return nil, m.MarkErr
	}
	results := make([]BatchResult, 0, len(updates))
	roster := m.Attendance[classSessionID]
	for _, u := range updates {
		if m.Rejected[u.StudentID] {
			results = append(results, BatchResult{StudentID: u.StudentID, Status: BatchStatusFailed, Message: "not enrolled"})
			continue
		}
		for i := range roster {
			if roster[i].StudentID == u.StudentID {
				roster[i].Present = u.Present
			}
		}
		results = append(results, BatchResult{StudentID: u.StudentID, Status: BatchStatusSuccess})
	}
	return results, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
