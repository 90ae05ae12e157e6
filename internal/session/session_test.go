// ABOUTME: Tests for Session transitions, deep copies and the invariant check
// ABOUTME: Login, logout and restart must always leave a consistent session

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/rollcall-gateway/internal/backend"
)

func markingSession() *Session {
	s := New("u1", time.Now())
	s.Login("tok", backend.User{FirstName: "Ada", Role: "TEACHER"})
	s.Assignments = []backend.TeachingAssignment{{ID: "a1"}}
	s.CurrentAssignment = &s.Assignments[0]
	s.ClassSessions = []backend.ClassSession{{ID: "s1"}}
	s.CurrentClassSession = &backend.ClassSession{ID: "s1"}
	s.AttendanceRecords = []backend.AttendanceRecord{{StudentID: "st1"}}
	s.State = StateMarkingAttendance
	return s
}

func TestClone_IsDeep(t *testing.T) {
	orig := markingSession()
	cp := orig.Clone()

	cp.AttendanceRecords[0].Present = true
	cp.User.FirstName = "Grace"
	cp.CurrentClassSession.ID = "other"
	cp.Assignments[0].ID = "other"

	assert.False(t, orig.AttendanceRecords[0].Present)
	assert.Equal(t, "Ada", orig.User.FirstName)
	assert.Equal(t, "s1", orig.CurrentClassSession.ID)
	assert.Equal(t, "a1", orig.Assignments[0].ID)
}

func TestClone_Nil(t *testing.T) {
	var s *Session
	assert.Nil(t, s.Clone())
}

func TestLogin(t *testing.T) {
	s := New("u1", time.Now())
	s.LoginAttempts = 4

	s.Login("tok", backend.User{Role: "TEACHER"})

	assert.Equal(t, StateAuthenticated, s.State)
	assert.Equal(t, "tok", s.Token)
	assert.Zero(t, s.LoginAttempts)
	assert.NoError(t, s.Check())
}

func TestLogout_KeepsRateLimitCounters(t *testing.T) {
	s := markingSession()
	s.LoginAttempts = 2

	s.Logout()

	assert.Equal(t, StateUnauthenticated, s.State)
	assert.Empty(t, s.Token)
	assert.Nil(t, s.User)
	assert.Nil(t, s.AttendanceRecords)
	assert.Equal(t, 2, s.LoginAttempts)
	assert.NoError(t, s.Check())
}

func TestRestart(t *testing.T) {
	s := markingSession()

	s.Restart()

	assert.Equal(t, StateAuthenticated, s.State)
	assert.Equal(t, "tok", s.Token)
	assert.Nil(t, s.Assignments)
	assert.Nil(t, s.ClassSessions)
	assert.Nil(t, s.CurrentAssignment)
	assert.Nil(t, s.CurrentClassSession)
	assert.Nil(t, s.AttendanceRecords)
	assert.NoError(t, s.Check())
}

func TestRestart_UnauthenticatedIsNoOp(t *testing.T) {
	s := New("u1", time.Now())
	s.Restart()
	assert.Equal(t, StateUnauthenticated, s.State)
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Session)
		ok     bool
	}{
		{"consistent marking", func(*Session) {}, true},
		{"token without auth", func(s *Session) { s.State = StateUnauthenticated }, false},
		{"auth without token", func(s *Session) { s.Token = "" }, false},
		{"class session outside marking", func(s *Session) { s.State = StateSelectingSession }, false},
		{"marking without class session", func(s *Session) { s.CurrentClassSession = nil }, false},
		{"unknown state", func(s *Session) { s.State = "bogus" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := markingSession()
			tt.mutate(s)
			err := s.Check()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestStates_AllValid(t *testing.T) {
	for _, st := range States {
		assert.True(t, st.Valid(), st)
	}
	assert.False(t, State("").Valid())
}
