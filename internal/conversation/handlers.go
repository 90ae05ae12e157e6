// ABOUTME: State handlers: login, assignment and session selection, topic entry, marking
// ABOUTME: Each handler changes the session only on the paths its reply describes

package conversation

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/2389/rollcall-gateway/internal/attendance"
	"github.com/2389/rollcall-gateway/internal/auth"
	"github.com/2389/rollcall-gateway/internal/backend"
	"github.com/2389/rollcall-gateway/internal/session"
	"github.com/2389/rollcall-gateway/internal/store"
)

// parseChoice reads a 1-based menu number.
func parseChoice(text string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

func (s *Service) handleLogin(ctx context.Context, sess *session.Session, text string) (string, error) {
	if !auth.IsLoginAttempt(text) {
		return replyLoginPrompt, nil
	}

	now := s.now()
	attempts := auth.Attempts{Count: sess.LoginAttempts, Last: sess.LastLoginAttempt}
	res, err := s.auth.Login(ctx, &attempts, text, now)
	// Counters are written back even on failure
	sess.LoginAttempts, sess.LastLoginAttempt = attempts.Count, attempts.Last

	if err == nil {
		sess.Login(res.Token, res.User)
		return replyWelcome(res.User), nil
	}

	limiter := s.auth.Limiter()
	switch {
	case errors.Is(err, auth.ErrInvalidFormat):
		return "", &Error{Kind: ValidationError, Message: replyInvalidLogin, Err: err}
	case errors.Is(err, auth.ErrTooFast):
		return "", &Error{Kind: AuthError, Message: replyTooFast, Err: err}
	case errors.Is(err, auth.ErrLockedOut):
		wait := limiter.LockedFor(attempts, now)
		return "", &Error{Kind: AuthError, Message: replyLockedOut(int(math.Ceil(wait.Minutes()))), Err: err}
	case errors.Is(err, backend.ErrInvalidCredentials), errors.Is(err, auth.ErrNotTeacher):
		msg := replyLoginFailed(limiter.Remaining(attempts))
		if limiter.Exhausted(attempts) {
			msg = replyLockedOut(int(limiter.Lockout.Minutes()))
		}
		if errors.Is(err, auth.ErrNotTeacher) {
			msg = replyNotTeacher + " " + msg
		}
		return "", &Error{Kind: AuthError, Message: msg, Err: err}
	default:
		return "", &Error{Kind: BackendUnavailable, Message: replyLoginBackend, Err: err}
	}
}

// listAssignments fetches the teacher's assignments and opens the menu.
// Any earlier selection is dropped.
func (s *Service) listAssignments(ctx context.Context, sess *session.Session) (string, error) {
	assignments, err := s.client.ListAssignments(ctx, sess.Token)
	if err != nil {
		return "", backendFailure(err, replyAssignmentsFailed)
	}
	if len(assignments) == 0 {
		return "", notFound(replyNoAssignments)
	}

	sess.Restart()
	sess.Assignments = assignments
	sess.State = session.StateSelectingAssignment
	return assignmentMenu(assignments), nil
}

func (s *Service) selectAssignment(ctx context.Context, sess *session.Session, text string) (string, error) {
	idx, ok := parseChoice(text, len(sess.Assignments))
	if !ok {
		if len(sess.Assignments) == 0 {
			return "", notFound(replyNoAssignments)
		}
		return "", validation(replyPickNumber(len(sess.Assignments)))
	}

	assignment := sess.Assignments[idx]
	sessions, err := s.client.ListSessions(ctx, assignment.ID, sess.Token)
	if err != nil {
		return "", backendFailure(err, replySessionsFailed)
	}

	sess.CurrentAssignment = &assignment
	sess.ClassSessions = sessions
	sess.LeaveClassSession()
	sess.State = session.StateSelectingSession
	return sessionMenu(assignment, sessions), nil
}

func (s *Service) selectSession(ctx context.Context, sess *session.Session, text string) (string, error) {
	switch strings.ToLower(text) {
	case cmdNew:
		sess.State = session.StateWaitingForTopic
		return replyTopicPrompt, nil
	case cmdAll:
		if len(sess.ClassSessions) == 0 {
			return "", notFound(replyNoSessions)
		}
		return allSessions(sess.ClassSessions), nil
	}

	idx, ok := parseChoice(text, len(sess.ClassSessions))
	if !ok {
		return "", validation(replyPickSession(len(sess.ClassSessions)))
	}

	chosen := sess.ClassSessions[idx]
	records, err := s.client.GetAttendance(ctx, chosen.ID, sess.Token)
	if err != nil {
		return "", backendFailure(err, replyAttendanceFailed)
	}

	sess.CurrentClassSession = &chosen
	sess.AttendanceRecords = records
	sess.State = session.StateMarkingAttendance
	return markingIntro(chosen, records), nil
}

// createSession takes the topic for a new class session. A failed create
// returns to the session menu; a created session whose roster cannot be
// loaded is added to the menu so it can be opened later.
func (s *Service) createSession(ctx context.Context, sess *session.Session, text string) (string, error) {
	topic := strings.TrimSpace(text)
	if topic == "" {
		return "", validation(replyTopicEmpty)
	}
	if utf8.RuneCountInString(topic) > MaxTopicLength {
		return "", validation(replyTopicTooLong)
	}
	if sess.CurrentAssignment == nil {
		return "", internal(errors.New("waiting for topic without an assignment"))
	}

	created, err := s.client.CreateSession(ctx, sess.CurrentAssignment.ID, sess.Token, topic)
	if err != nil {
		sess.State = session.StateSelectingSession
		return "", backendFailure(err, replyCreateFailed)
	}

	sess.ClassSessions = append([]backend.ClassSession{*created}, sess.ClassSessions...)
	records, err := s.client.GetAttendance(ctx, created.ID, sess.Token)
	if err != nil {
		sess.State = session.StateSelectingSession
		return "", backendFailure(err, replyCreatedButNoRoster(*created))
	}

	sess.CurrentClassSession = created
	sess.AttendanceRecords = records
	sess.State = session.StateMarkingAttendance
	return "✅ Session created.\n\n" + markingIntro(*created, records), nil
}

func (s *Service) markAttendance(ctx context.Context, t *turn, text string) (string, error) {
	sess := t.sess
	if sess.CurrentClassSession == nil {
		return "", internal(errors.New("marking without a class session"))
	}

	switch strings.ToLower(text) {
	case cmdStatus:
		return attendance.StatusReport(sess.AttendanceRecords), nil
	case cmdDone:
		return attendance.SummaryReport(sess.AttendanceRecords), nil
	}

	res, err := s.reconciler.Mark(ctx, sess.CurrentClassSession.ID, sess.Token, sess.AttendanceRecords, text)
	switch {
	case errors.Is(err, attendance.ErrNoRollNumbers):
		return "", &Error{Kind: ValidationError, Message: replyNoRollNumbers, Err: err}
	case errors.Is(err, attendance.ErrEmptyRoster):
		return "", &Error{Kind: NotFoundError, Message: replyEmptyRoster, Err: err}
	case err != nil:
		return "", backendFailure(err, replyMarkFailed)
	}

	sess.AttendanceRecords = res.Records
	if len(res.Marked)+len(res.Failed) > 0 {
		t.commit = commitFor(sess, res)
	}
	return res.Report(), nil
}

func commitFor(sess *session.Session, res *attendance.Result) *store.AttendanceCommit {
	c := &store.AttendanceCommit{
		UserID:         sess.UserID,
		ClassSessionID: sess.CurrentClassSession.ID,
	}
	if sess.CurrentAssignment != nil {
		c.AssignmentID = sess.CurrentAssignment.ID
	}
	for _, r := range res.Marked {
		c.Marked = append(c.Marked, r.Student.RollNumber)
	}
	for _, f := range res.Failed {
		c.Failed = append(c.Failed, f.Record.Student.RollNumber)
	}
	return c
}
