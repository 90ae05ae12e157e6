// ABOUTME: Tests for the dialogue dispatcher against MockClient and MockStore
// ABOUTME: Walks every state transition plus lockout, expiry, dedupe, deadline and panic handling

package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/rollcall-gateway/internal/backend"
	"github.com/2389/rollcall-gateway/internal/dedupe"
	"github.com/2389/rollcall-gateway/internal/session"
	"github.com/2389/rollcall-gateway/internal/store"
)

const (
	testUser  = "whatsapp:+15550001"
	loginText = "login teacher@school.edu p@ss w0rd"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *Service
	client   *backend.MockClient
	sessions *session.Store
	ledger   *store.MockStore
	clock    *fakeClock
}

func roster() []backend.AttendanceRecord {
	student := func(id, roll, first string) backend.AttendanceRecord {
		return backend.AttendanceRecord{
			ID:        "rec-" + id,
			StudentID: id,
			Student: backend.Student{
				ID:         id,
				RollNumber: roll,
				User:       backend.StudentUser{FirstName: first, LastName: "Student"},
			},
		}
	}
	return []backend.AttendanceRecord{
		student("st-1", "101", "Grace"),
		student("st-2", "102", "Alan"),
		student("st-3", "103", "Edsger"),
	}
}

func newMockClient() *backend.MockClient {
	m := backend.NewMockClient()
	m.Users["teacher@school.edu"] = backend.MockUser{
		Password: "p@ss w0rd",
		User:     backend.User{ID: "u-1", Email: "teacher@school.edu", FirstName: "Ada", LastName: "Lovelace", Role: "TEACHER"},
	}
	m.Users["kid@school.edu"] = backend.MockUser{
		Password: "secret",
		User:     backend.User{ID: "u-2", Email: "kid@school.edu", Role: "STUDENT"},
	}
	m.Assignments = []backend.TeachingAssignment{
		{ID: "a1", Semester: 3, Section: "A", Course: backend.Course{Name: "Data Structures"}, Branch: backend.Branch{Name: "CSE"}},
		{ID: "a2", Semester: 5, Section: "B", Course: backend.Course{Name: "Operating Systems"}, Branch: backend.Branch{Name: "ECE"}},
	}
	for i := 1; i <= 7; i++ {
		m.Sessions["a1"] = append(m.Sessions["a1"], backend.ClassSession{
			ID:           fmt.Sprintf("s%d", i),
			AssignmentID: "a1",
			Date:         fmt.Sprintf("2025-03-%02dT09:00:00.000Z", 20-i),
			Topic:        fmt.Sprintf("Topic %d", i),
		})
		m.Attendance[fmt.Sprintf("s%d", i)] = roster()
	}
	m.Attendance[""] = roster()
	return m
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)}
	h := &harness{
		client: newMockClient(),
		ledger: store.NewMockStore(),
		clock:  clock,
	}
	h.sessions = session.NewStore(session.Options{Now: clock.Now})
	opts := Options{
		Sessions: h.sessions,
		Client:   h.client,
		Ledger:   h.ledger,
		Now:      clock.Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.svc = New(opts)
	return h
}

func (h *harness) send(text string) Reply {
	return h.svc.HandleMessage(context.Background(), Inbound{UserID: testUser, Text: text})
}

func (h *harness) session(t *testing.T) *session.Session {
	t.Helper()
	sess, ok := h.sessions.Get(testUser)
	require.True(t, ok, "session should exist")
	return sess
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	reply := h.send(loginText)
	require.Equal(t, session.StateAuthenticated, reply.State, reply.Text)
	h.clock.Advance(time.Second)
}

// toMarking logs in and opens class session n of assignment 1.
func (h *harness) toMarking(t *testing.T, n int) {
	t.Helper()
	h.login(t)
	require.Equal(t, session.StateSelectingAssignment, h.send("assignments").State)
	require.Equal(t, session.StateSelectingSession, h.send("1").State)
	reply := h.send(fmt.Sprint(n))
	require.Equal(t, session.StateMarkingAttendance, reply.State, reply.Text)
}

func TestLogin_Scenario(t *testing.T) {
	h := newHarness(t)

	reply := h.send(loginText)

	assert.Equal(t, session.StateAuthenticated, reply.State)
	assert.Contains(t, reply.Text, "Welcome, Ada Lovelace")
	sess := h.session(t)
	assert.Equal(t, "mock-token", sess.Token)
	assert.Equal(t, 0, sess.LoginAttempts)
	require.NotNil(t, sess.User)
	assert.Equal(t, "TEACHER", sess.User.Role)
}

func TestUnauthenticated_NonLoginGetsPrompt(t *testing.T) {
	h := newHarness(t)

	for _, text := range []string{"hi", "assignments", "restart", "1"} {
		reply := h.send(text)
		assert.Equal(t, replyLoginPrompt, reply.Text, text)
		assert.Equal(t, session.StateUnauthenticated, reply.State)
	}
	assert.Zero(t, h.client.CallCount("Authenticate"))
}

func TestLogin_InvalidFormatDoesNotCount(t *testing.T) {
	h := newHarness(t)

	for _, text := range []string{"login", "login teacher@school.edu", "login not-an-email pw"} {
		reply := h.send(text)
		assert.Equal(t, replyInvalidLogin, reply.Text, text)
	}
	assert.Zero(t, h.client.CallCount("Authenticate"))
	assert.Zero(t, h.session(t).LoginAttempts)
}

func TestLogin_WrongRoleIsFailure(t *testing.T) {
	h := newHarness(t)

	reply := h.send("login kid@school.edu secret")

	assert.Equal(t, session.StateUnauthenticated, reply.State)
	assert.Contains(t, reply.Text, replyNotTeacher)
	assert.Contains(t, reply.Text, "4 attempts remaining")
	sess := h.session(t)
	assert.Empty(t, sess.Token)
	assert.Equal(t, 1, sess.LoginAttempts)
}

func TestLogin_TooFastIsNotCounted(t *testing.T) {
	h := newHarness(t)

	h.send("login teacher@school.edu wrong")
	h.clock.Advance(2 * time.Second)
	reply := h.send(loginText)

	assert.Equal(t, replyTooFast, reply.Text)
	assert.Equal(t, 1, h.client.CallCount("Authenticate"))
	assert.Equal(t, 1, h.session(t).LoginAttempts)
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	h := newHarness(t)

	var reply Reply
	for i := 1; i <= 5; i++ {
		reply = h.send("login teacher@school.edu wrong")
		h.clock.Advance(6 * time.Second)
	}
	assert.Contains(t, reply.Text, "Too many failed login attempts")
	assert.Equal(t, 5, h.client.CallCount("Authenticate"))

	// Sixth attempt inside the window never reaches the backend
	reply = h.send(loginText)
	assert.Contains(t, reply.Text, "Too many failed login attempts")
	assert.Equal(t, 5, h.client.CallCount("Authenticate"))
	assert.Equal(t, session.StateUnauthenticated, reply.State)

	// After the lockout the counter resets and a good login works
	h.clock.Advance(15 * time.Minute)
	reply = h.send(loginText)
	assert.Equal(t, session.StateAuthenticated, reply.State)
	assert.Equal(t, 6, h.client.CallCount("Authenticate"))
	assert.Zero(t, h.session(t).LoginAttempts)
}

func TestLogin_RemainingAttemptsCountDown(t *testing.T) {
	h := newHarness(t)

	assert.Contains(t, h.send("login teacher@school.edu wrong").Text, "4 attempts remaining")
	h.clock.Advance(6 * time.Second)
	assert.Contains(t, h.send("login teacher@school.edu wrong").Text, "3 attempts remaining")
}

func TestLogin_SuccessResetsCounter(t *testing.T) {
	h := newHarness(t)

	h.send("login teacher@school.edu wrong")
	h.clock.Advance(6 * time.Second)
	h.send("login teacher@school.edu wrong")
	h.clock.Advance(6 * time.Second)
	require.Equal(t, 2, h.session(t).LoginAttempts)

	reply := h.send(loginText)
	assert.Equal(t, session.StateAuthenticated, reply.State)
	assert.Zero(t, h.session(t).LoginAttempts)
}

func TestLogin_BackendUnavailable(t *testing.T) {
	h := newHarness(t)
	h.client.AuthErr = fmt.Errorf("login: %w", backend.ErrUnavailable)

	reply := h.send(loginText)

	assert.Equal(t, replyLoginBackend, reply.Text)
	assert.Equal(t, session.StateUnauthenticated, reply.State)
	assert.Equal(t, 1, h.session(t).LoginAttempts)
}

func TestHelp_DependsOnState(t *testing.T) {
	h := newHarness(t)

	unauth := h.send("help")
	assert.Contains(t, unauth.Text, "login <email> <password>")
	assert.NotContains(t, unauth.Text, "assignments")
	assert.Equal(t, session.StateUnauthenticated, unauth.State)

	h.toMarking(t, 1)
	marking := h.send("HELP")
	assert.Contains(t, marking.Text, "status")
	assert.Contains(t, marking.Text, "done")
	assert.Equal(t, session.StateMarkingAttendance, marking.State, "help never transitions")
}

func TestAuthenticated_OtherTextPrompts(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	reply := h.send("what now")

	assert.Equal(t, replyAuthenticated, reply.Text)
	assert.Equal(t, session.StateAuthenticated, reply.State)
}

func TestAssignments_ListsAndSelects(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	reply := h.send("assignments")
	assert.Equal(t, session.StateSelectingAssignment, reply.State)
	assert.Contains(t, reply.Text, "1. Data Structures")
	assert.Contains(t, reply.Text, "CSE | Sem 3 | Sec A")
	assert.Contains(t, reply.Text, "2. Operating Systems")
	assert.Contains(t, reply.Text, "(1-2)")

	reply = h.send("1")
	assert.Equal(t, session.StateSelectingSession, reply.State)
	call := h.client.LastCall("ListSessions")
	require.NotNil(t, call)
	assert.Equal(t, []string{"a1"}, call.Args)
	assert.Equal(t, "mock-token", call.Token)

	// Five most recent are previewed
	assert.Contains(t, reply.Text, "1. 2025-03-19 - Topic 1")
	assert.Contains(t, reply.Text, "5. 2025-03-15 - Topic 5")
	assert.NotContains(t, reply.Text, "Topic 6")
	assert.Contains(t, reply.Text, "... and 2 older")

	sess := h.session(t)
	require.NotNil(t, sess.CurrentAssignment)
	assert.Equal(t, "a1", sess.CurrentAssignment.ID)
	assert.Len(t, sess.ClassSessions, 7)
}

func TestAssignments_Empty(t *testing.T) {
	h := newHarness(t)
	h.client.Assignments = nil
	h.login(t)

	reply := h.send("assignments")

	assert.Equal(t, replyNoAssignments, reply.Text)
	assert.Equal(t, session.StateAuthenticated, reply.State)
}

func TestAssignments_BackendFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.client.AssignmentErr = backend.ErrUnavailable

	reply := h.send("assignments")

	assert.Equal(t, replyAssignmentsFailed, reply.Text)
	assert.Equal(t, session.StateAuthenticated, reply.State)
}

func TestSelectAssignment_RejectsBadInput(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")

	for _, text := range []string{"0", "3", "abc", "1.5"} {
		reply := h.send(text)
		assert.Equal(t, "Please reply with a number between 1 and 2.", reply.Text, text)
		assert.Equal(t, session.StateSelectingAssignment, reply.State)
	}
	assert.Zero(t, h.client.CallCount("ListSessions"))
}

func TestSelectAssignment_BackendFailureStays(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")
	h.client.SessionsErr = backend.ErrUnavailable

	reply := h.send("1")

	assert.Equal(t, replySessionsFailed, reply.Text)
	assert.Equal(t, session.StateSelectingAssignment, reply.State)
	assert.Nil(t, h.session(t).CurrentAssignment)
}

func TestSelectAssignment_NoSessions(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")

	reply := h.send("2")
	assert.Equal(t, session.StateSelectingSession, reply.State)
	assert.Contains(t, reply.Text, "No sessions yet")

	reply = h.send("all")
	assert.Equal(t, replyNoSessions, reply.Text)

	reply = h.send("1")
	assert.Equal(t, "Reply 'new' to create a session.", reply.Text)
	assert.Equal(t, session.StateSelectingSession, reply.State)
}

func TestSelectSession_AllListsEverySession(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")
	h.send("1")

	reply := h.send("ALL")

	assert.Equal(t, session.StateSelectingSession, reply.State)
	assert.Contains(t, reply.Text, "All sessions (7)")
	assert.Contains(t, reply.Text, "7. 2025-03-13 - Topic 7")
}

func TestSelectSession_AnyIndexInRange(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 7)

	call := h.client.LastCall("GetAttendance")
	require.NotNil(t, call)
	assert.Equal(t, []string{"s7"}, call.Args)
	sess := h.session(t)
	require.NotNil(t, sess.CurrentClassSession)
	assert.Equal(t, "s7", sess.CurrentClassSession.ID)
	assert.Len(t, sess.AttendanceRecords, 3)
}

func TestSelectSession_ShowsCurrentStatus(t *testing.T) {
	h := newHarness(t)
	h.client.Attendance["s1"][0].Present = true
	h.login(t)
	h.send("assignments")
	h.send("1")

	reply := h.send("1")

	assert.Contains(t, reply.Text, "Session: 2025-03-19")
	assert.Contains(t, reply.Text, "Topic: Topic 1")
	assert.Contains(t, reply.Text, "Current Status: 1/3 present")
}

func TestSelectSession_InvalidChoice(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")
	h.send("1")

	reply := h.send("42")

	assert.Equal(t, "Reply 'new', 'all' or a session number (1-7).", reply.Text)
	assert.Equal(t, session.StateSelectingSession, reply.State)
}

func TestSelectSession_AttendanceFailureStays(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")
	h.send("1")
	h.client.AttendanceErr = backend.ErrUnavailable

	reply := h.send("1")

	assert.Equal(t, replyAttendanceFailed, reply.Text)
	assert.Equal(t, session.StateSelectingSession, reply.State)
	assert.Nil(t, h.session(t).CurrentClassSession)
}

func TestNewSession_CreatesAndOpensRoster(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")
	h.send("1")

	reply := h.send("new")
	assert.Equal(t, replyTopicPrompt, reply.Text)
	assert.Equal(t, session.StateWaitingForTopic, reply.State)

	reply = h.send("  Binary trees  ")
	assert.Equal(t, session.StateMarkingAttendance, reply.State)
	assert.Contains(t, reply.Text, "Session created")
	assert.Contains(t, reply.Text, "Current Status: 0/3 present")

	call := h.client.LastCall("CreateSession")
	require.NotNil(t, call)
	assert.Equal(t, []string{"a1", "Binary trees"}, call.Args)

	sess := h.session(t)
	require.NotNil(t, sess.CurrentClassSession)
	assert.Equal(t, "new-session-1", sess.CurrentClassSession.ID)
	assert.Len(t, sess.ClassSessions, 8)
	assert.Equal(t, "new-session-1", sess.ClassSessions[0].ID)
}

func TestNewSession_TopicValidation(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")
	h.send("1")
	h.send("new")

	reply := h.send(strings.Repeat("x", MaxTopicLength+1))
	assert.Equal(t, replyTopicTooLong, reply.Text)
	assert.Equal(t, session.StateWaitingForTopic, reply.State)
	assert.Zero(t, h.client.CallCount("CreateSession"))

	reply = h.send(strings.Repeat("é", MaxTopicLength))
	assert.Equal(t, session.StateMarkingAttendance, reply.State, "limit counts characters")
}

func TestNewSession_CreateFailureReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")
	h.send("1")
	h.send("new")
	h.client.CreateErr = backend.ErrUnavailable

	reply := h.send("Graphs")

	assert.Equal(t, replyCreateFailed, reply.Text)
	assert.Equal(t, session.StateSelectingSession, reply.State)
	assert.Len(t, h.session(t).ClassSessions, 7)
}

func TestNewSession_RosterFailureKeepsCreatedSession(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.send("assignments")
	h.send("1")
	h.send("new")
	h.client.AttendanceErr = backend.ErrUnavailable

	reply := h.send("Graphs")

	assert.Contains(t, reply.Text, "could not be loaded")
	assert.Equal(t, session.StateSelectingSession, reply.State)
	sess := h.session(t)
	assert.Len(t, sess.ClassSessions, 8)
	assert.Equal(t, "Graphs", sess.ClassSessions[0].Topic)
	assert.Nil(t, sess.CurrentClassSession)
}

func TestMarking_Scenario(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)

	reply := h.send("101,102,999")

	assert.Equal(t, session.StateMarkingAttendance, reply.State)
	assert.Contains(t, reply.Text, "Marked present (2)")
	assert.Contains(t, reply.Text, "101 (Grace Student)")
	assert.Contains(t, reply.Text, "102 (Alan Student)")
	assert.Contains(t, reply.Text, "Roll numbers not found: 999")
	assert.Contains(t, reply.Text, "2/3")

	call := h.client.LastCall("MarkAttendanceBatch")
	require.NotNil(t, call)
	assert.Equal(t, []string{"s1"}, call.Args)
	assert.Equal(t, []backend.AttendanceUpdate{
		{StudentID: "st-1", Present: true},
		{StudentID: "st-2", Present: true},
	}, call.Updates)

	records := h.session(t).AttendanceRecords
	assert.True(t, records[0].Present)
	assert.True(t, records[1].Present)
	assert.False(t, records[2].Present)

	done := h.send("done")
	assert.Contains(t, done.Text, "Present: 2/3 students")
	assert.Contains(t, done.Text, "66.7%")
	assert.Equal(t, session.StateMarkingAttendance, done.State)

	commits, err := h.ledger.ListAttendanceCommits(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, []string{"101", "102"}, commits[0].Marked)
	assert.Equal(t, "a1", commits[0].AssignmentID)
}

func TestMarking_AlreadyPresentNotSent(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)
	h.send("101")

	reply := h.send("101 103")

	assert.Contains(t, reply.Text, "Already present (1)")
	call := h.client.LastCall("MarkAttendanceBatch")
	require.NotNil(t, call)
	assert.Equal(t, []backend.AttendanceUpdate{{StudentID: "st-3", Present: true}}, call.Updates)
}

func TestMarking_FailedBatchLeavesCache(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)
	h.client.MarkErr = fmt.Errorf("mark: %w", backend.ErrUnavailable)

	reply := h.send("101,102")

	assert.Equal(t, replyMarkFailed, reply.Text)
	assert.Equal(t, session.StateMarkingAttendance, reply.State)
	for _, r := range h.session(t).AttendanceRecords {
		assert.False(t, r.Present, r.Student.RollNumber)
	}
	commits, err := h.ledger.ListAttendanceCommits(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestMarking_RejectedRecordsListed(t *testing.T) {
	h := newHarness(t)
	h.client.Rejected["st-2"] = true
	h.toMarking(t, 1)

	reply := h.send("101 102")

	assert.Contains(t, reply.Text, "Marked present (1)")
	assert.Contains(t, reply.Text, "Could not be marked (1)")
	assert.Contains(t, reply.Text, "not enrolled")
	records := h.session(t).AttendanceRecords
	assert.True(t, records[0].Present)
	assert.False(t, records[1].Present)
}

func TestMarking_NoRollNumbers(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)

	reply := h.send("!!! ???")

	assert.Equal(t, replyNoRollNumbers, reply.Text)
	assert.Zero(t, h.client.CallCount("MarkAttendanceBatch"))
}

func TestMarking_Status(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)
	h.send("103")

	reply := h.send("status")

	assert.Contains(t, reply.Text, "Present (1)")
	assert.Contains(t, reply.Text, "Absent (2)")
	assert.Equal(t, session.StateMarkingAttendance, reply.State)
}

func TestRestart_ClearsCaches(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)

	reply := h.send("restart")

	assert.Equal(t, replyRestarted, reply.Text)
	assert.Equal(t, session.StateAuthenticated, reply.State)
	sess := h.session(t)
	assert.Equal(t, "mock-token", sess.Token)
	assert.Nil(t, sess.Assignments)
	assert.Nil(t, sess.ClassSessions)
	assert.Nil(t, sess.CurrentAssignment)
	assert.Nil(t, sess.CurrentClassSession)
	assert.Nil(t, sess.AttendanceRecords)
}

func TestAssignments_FromAnyAuthenticatedState(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)

	reply := h.send("assignments")

	assert.Equal(t, session.StateSelectingAssignment, reply.State)
	assert.Nil(t, h.session(t).CurrentClassSession)
}

func TestLogout_DestroysSession(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)

	reply := h.send("logout")

	assert.Contains(t, reply.Text, "Logged out successfully")
	assert.Equal(t, session.StateUnauthenticated, reply.State)
	_, ok := h.sessions.Get(testUser)
	assert.False(t, ok)

	assert.Equal(t, replyLoginPrompt, h.send("assignments").Text)
}

func TestLogout_DoesNotResetLockout(t *testing.T) {
	h := newHarness(t)
	for range 5 {
		h.send("login teacher@school.edu wrong")
		h.clock.Advance(6 * time.Second)
	}

	h.send("logout")
	reply := h.send(loginText)

	assert.Contains(t, reply.Text, "Too many failed login attempts")
	assert.Equal(t, 5, h.client.CallCount("Authenticate"))
}

func TestIdleSessionExpires(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)

	h.clock.Advance(30*time.Minute + time.Second)
	reply := h.send("status")

	assert.Equal(t, replyLoginPrompt, reply.Text)
	assert.Equal(t, session.StateUnauthenticated, reply.State)
	sess := h.session(t)
	assert.Empty(t, sess.Token)
	assert.Zero(t, sess.LoginAttempts)
}

func TestSessionKeptAtExactlyTTL(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	// login advanced the clock by a second already
	h.clock.Advance(30*time.Minute - time.Second)
	reply := h.send("assignments")

	assert.Equal(t, session.StateSelectingAssignment, reply.State)
}

func TestBackendRejectsToken_LogsOut(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.client.AssignmentErr = fmt.Errorf("list assignments: %w", backend.ErrUnauthorized)

	reply := h.send("assignments")

	assert.Equal(t, replySessionExpired, reply.Text)
	assert.Equal(t, session.StateUnauthenticated, reply.State)
	assert.Empty(t, h.session(t).Token)
}

func TestExpiredBackendToken_LogsOut(t *testing.T) {
	h := newHarness(t)
	exp := h.clock.Now().Add(10 * time.Minute)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	h.client.AuthToken = token
	h.login(t)

	h.clock.Advance(11 * time.Minute)
	reply := h.send("assignments")

	assert.Equal(t, replySessionExpired, reply.Text)
	assert.Equal(t, session.StateUnauthenticated, reply.State)
	assert.Zero(t, h.client.CallCount("ListAssignments"))
}

func TestEmptyMessage(t *testing.T) {
	h := newHarness(t)

	reply := h.send("   ")

	assert.Equal(t, replyEmptyMessage, reply.Text)
}

func TestMissingSender(t *testing.T) {
	h := newHarness(t)

	reply := h.svc.HandleMessage(context.Background(), Inbound{Text: "help"})

	assert.Equal(t, replyNoSender, reply.Text)
	assert.Zero(t, h.sessions.Len())
}

func TestDuplicateMessageReturnsFirstReply(t *testing.T) {
	cache := dedupe.New(time.Minute, 100)
	defer cache.Close()
	h := newHarness(t, func(o *Options) { o.Replies = cache })
	h.login(t)

	in := Inbound{UserID: testUser, Text: "assignments", MessageID: "SM1"}
	first := h.svc.HandleMessage(context.Background(), in)
	second := h.svc.HandleMessage(context.Background(), in)

	assert.Equal(t, first.Text, second.Text)
	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, h.client.CallCount("ListAssignments"))

	// Same message ID from another user is a different message
	other := h.svc.HandleMessage(context.Background(), Inbound{UserID: "whatsapp:+15550002", Text: "help", MessageID: "SM1"})
	assert.NotEqual(t, first.Text, other.Text)
}

func TestReplyIsTruncated(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxReplyLength = 40 })

	reply := h.send("help")

	assert.Equal(t, 40, len([]rune(reply.Text)))
	assert.True(t, strings.HasSuffix(reply.Text, "..."))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", Truncate("éééééééé", 6))
	assert.Equal(t, "unlimited", Truncate("unlimited", 0))
	assert.Equal(t, strings.Repeat("a", 1597)+"...", Truncate(strings.Repeat("a", 2000), 1600))
}

func TestLedgerRecordsRedactedExchange(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	exchanges := h.ledger.Exchanges()
	require.Len(t, exchanges, 1)
	e := exchanges[0]
	assert.Equal(t, "login teacher@school.edu ***", e.Inbound)
	assert.NotContains(t, e.Inbound, "w0rd")
	assert.Equal(t, string(session.StateUnauthenticated), e.StateBefore)
	assert.Equal(t, string(session.StateAuthenticated), e.StateAfter)
}

func TestLedgerFailureDoesNotAffectReply(t *testing.T) {
	h := newHarness(t)
	h.ledger.AppendErr = fmt.Errorf("disk full")

	reply := h.send(loginText)

	assert.Equal(t, session.StateAuthenticated, reply.State)
}

func TestBroadcasterReceivesExchanges(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	h := newHarness(t, func(o *Options) { o.Broadcaster = b })

	ch, _ := b.Subscribe(t.Context(), testUser)
	h.send("help")

	select {
	case e := <-ch:
		assert.Equal(t, "help", e.Inbound)
	case <-time.After(time.Second):
		t.Fatal("no exchange published")
	}
}

// blockingClient waits for the context on ListAssignments.
type blockingClient struct {
	*backend.MockClient
}

func (c blockingClient) ListAssignments(ctx context.Context, token string) ([]backend.TeachingAssignment, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("list assignments: %w: %w", backend.ErrUnavailable, ctx.Err())
}

func TestDeadlineProducesFallbackReply(t *testing.T) {
	mock := newMockClient()
	h := newHarness(t, func(o *Options) {
		o.Client = blockingClient{mock}
		o.Deadline = 50 * time.Millisecond
	})
	h.client = mock
	h.login(t)

	reply := h.send("assignments")

	assert.Equal(t, replyTimeout, reply.Text)
	assert.Equal(t, session.StateAuthenticated, reply.State)
}

// panickingClient panics on ListAssignments.
type panickingClient struct {
	*backend.MockClient
}

func (c panickingClient) ListAssignments(ctx context.Context, token string) ([]backend.TeachingAssignment, error) {
	panic("boom")
}

func TestPanicIsRecovered(t *testing.T) {
	mock := newMockClient()
	h := newHarness(t, func(o *Options) { o.Client = panickingClient{mock} })
	h.client = mock
	h.login(t)

	reply := h.send("assignments")
	assert.Equal(t, replyUnexpected, reply.Text)
	assert.Equal(t, session.StateAuthenticated, reply.State)

	// The user's lock was released
	assert.Equal(t, replyAuthenticated, h.send("anything").Text)
}

func TestTokenIffAuthenticated_Throughout(t *testing.T) {
	h := newHarness(t)
	script := []string{
		"hi", "login teacher@school.edu wrong", "login", loginText, "assignments", "9", "1",
		"all", "new", "Trees", "101", "status", "done", "restart", "assignments", "2", "new",
		"", "Heaps", "102", "logout", "help",
	}

	for _, text := range script {
		h.send(text)
		h.clock.Advance(6 * time.Second)
		sess, ok := h.sessions.Get(testUser)
		if !ok {
			continue
		}
		assert.NoError(t, sess.Check(), "after %q", text)
		assert.Equal(t, sess.Token != "", sess.State != session.StateUnauthenticated, "after %q", text)
	}
}

func TestUsersHandledConcurrently(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			user := fmt.Sprintf("whatsapp:+1555000%02d", i)
			reply := h.svc.HandleMessage(context.Background(), Inbound{UserID: user, Text: loginText})
			assert.Equal(t, session.StateAuthenticated, reply.State, user)
		})
	}
	wg.Wait()

	assert.Equal(t, 20, h.sessions.Len())
}

func TestSameUserMessagesSerialize(t *testing.T) {
	h := newHarness(t)
	h.toMarking(t, 1)

	var wg sync.WaitGroup
	for _, roll := range []string{"101", "102", "103"} {
		wg.Go(func() {
			h.svc.HandleMessage(context.Background(), Inbound{UserID: testUser, Text: roll})
		})
	}
	wg.Wait()

	// No update was lost to an interleaved read-modify-write
	present := 0
	for _, r := range h.session(t).AttendanceRecords {
		if r.Present {
			present++
		}
	}
	assert.Equal(t, 3, present)
	assert.Equal(t, 3, h.client.CallCount("MarkAttendanceBatch"))
}
