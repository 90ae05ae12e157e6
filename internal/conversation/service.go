// ABOUTME: Service is the dialogue dispatcher: one inbound message in, one reply out
// ABOUTME: Holds the user's lock for the whole step, applies global commands, then the state handler

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/2389/rollcall-gateway/internal/attendance"
	"github.com/2389/rollcall-gateway/internal/auth"
	"github.com/2389/rollcall-gateway/internal/backend"
	"github.com/2389/rollcall-gateway/internal/dedupe"
	"github.com/2389/rollcall-gateway/internal/session"
	"github.com/2389/rollcall-gateway/internal/store"
)

// Defaults for Options.
const (
	DefaultDeadline       = 12 * time.Second
	DefaultMaxReplyLength = 1600
)

// Global commands, matched case-insensitively against the whole message.
const (
	cmdHelp        = "help"
	cmdLogout      = "logout"
	cmdRestart     = "restart"
	cmdAssignments = "assignments"
	cmdNew         = "new"
	cmdAll         = "all"
	cmdStatus      = "status"
	cmdDone        = "done"
)

// Inbound is one message from a user.
type Inbound struct {
	UserID    string
	Text      string
	MessageID string // transport ID used for redelivery detection, may be empty
}

// Reply is the plain-text answer to an Inbound.
type Reply struct {
	Text  string
	State session.State // state after the message, for logging and tests
	// Duplicate is set when MessageID was already handled and Text is the
	// stored reply.
	Duplicate bool
}

// Options wires a Service. Sessions and Client are required.
type Options struct {
	Sessions *session.Store
	Client   backend.Client
	Limiter  auth.Limiter

	// Ledger, Replies and Broadcaster are optional.
	Ledger      store.Ledger
	Replies     *dedupe.Cache
	Broadcaster *Broadcaster

	Deadline       time.Duration
	MaxReplyLength int
	Now            func() time.Time
	Logger         *slog.Logger
}

// Service routes inbound messages through the dialogue state machine.
type Service struct {
	sessions   *session.Store
	client     backend.Client
	auth       *auth.Authenticator
	reconciler *attendance.Reconciler

	ledger      store.Ledger
	replies     *dedupe.Cache
	broadcaster *Broadcaster

	deadline time.Duration
	maxReply int
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := opts.Limiter
	if limiter.MaxAttempts <= 0 {
		limiter = auth.DefaultLimiter()
	}
	s := &Service{
		sessions:    opts.Sessions,
		client:      opts.Client,
		auth:        auth.NewAuthenticator(opts.Client, limiter, logger),
		reconciler:  attendance.NewReconciler(opts.Client, logger),
		ledger:      opts.Ledger,
		replies:     opts.Replies,
		broadcaster: opts.Broadcaster,
		deadline:    opts.Deadline,
		maxReply:    opts.MaxReplyLength,
		now:         opts.Now,
		logger:      logger.With("component", "conversation"),
	}
	if s.deadline <= 0 {
		s.deadline = DefaultDeadline
	}
	if s.maxReply <= 0 {
		s.maxReply = DefaultMaxReplyLength
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// outcome is what one handled message produced.
type outcome struct {
	reply  string
	before session.State
	after  session.State
	commit *store.AttendanceCommit
}

// HandleMessage processes one inbound message and returns the reply. It
// never fails: every error becomes reply text. Messages from the same user
// are handled one at a time; different users never wait on each other.
func (s *Service) HandleMessage(ctx context.Context, in Inbound) Reply {
	start := s.now()
	if in.UserID == "" {
		return Reply{Text: replyNoSender, State: session.StateUnauthenticated}
	}

	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	unlock, err := s.sessions.Lock(ctx, in.UserID)
	if err != nil {
		s.logger.Warn("user busy", "user_id", in.UserID, "error", err)
		return Reply{Text: replyBusy}
	}

	key := dedupeKey(in)
	if s.replies != nil {
		if cached, ok := s.replies.Lookup(key); ok {
			unlock()
			s.logger.Info("duplicate message", "user_id", in.UserID, "message_id", in.MessageID)
			return Reply{Text: cached, Duplicate: true}
		}
	}

	out := s.process(ctx, in)
	out.reply = Truncate(out.reply, s.maxReply)
	if s.replies != nil {
		s.replies.Store(key, out.reply)
	}
	unlock()

	s.logger.Info("message handled",
		"user_id", in.UserID,
		"transition", string(out.before)+"->"+string(out.after),
		"duration", s.now().Sub(start))
	s.record(in, out, s.now().Sub(start))

	return Reply{Text: out.reply, State: out.after}
}

func dedupeKey(in Inbound) string {
	if in.MessageID == "" {
		return ""
	}
	return in.UserID + "\x00" + in.MessageID
}

// turn is one message's working copy of the session and what it produced
// beyond the reply.
type turn struct {
	sess    *session.Session
	removed bool
	commit  *store.AttendanceCommit
}

// process runs one message against the user's session and saves the
// result. The caller holds the user's lock.
func (s *Service) process(ctx context.Context, in Inbound) (out outcome) {
	t := &turn{sess: s.sessions.GetOrCreate(in.UserID)}
	out.before = t.sess.State
	out.after = t.sess.State

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic handling message",
				"user_id", in.UserID,
				"state", out.before,
				"panic", r,
				"stack", string(debug.Stack()))
			out.reply = replyUnexpected
			out.after = out.before
			out.commit = nil
		}
	}()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		out.reply = replyEmptyMessage
		return out
	}

	var reply string
	if t.sess.Authenticated() && auth.TokenExpired(t.sess.Token, s.now()) {
		s.logger.Info("backend token expired", "user_id", in.UserID)
		t.sess.Logout()
		// A login or help still gets its normal answer
		if !auth.IsLoginAttempt(text) && !strings.EqualFold(text, cmdHelp) {
			reply = replySessionExpired
		}
	}
	if reply == "" {
		var err error
		reply, err = s.dispatch(ctx, t, text)
		if err != nil {
			reply = s.replyFor(ctx, t.sess, in, err)
		}
	}

	if err := t.sess.Check(); err != nil {
		s.logger.Error("session invariant broken, discarding changes",
			"user_id", in.UserID, "state", t.sess.State, "error", err)
		out.reply = replyUnexpected
		return out
	}

	if t.removed {
		s.sessions.Remove(in.UserID)
		out.after = session.StateUnauthenticated
	} else {
		s.sessions.Save(t.sess)
		out.after = t.sess.State
	}
	out.reply = reply
	out.commit = t.commit
	return out
}

// replyFor turns a handler error into reply text, logging the cause.
// A rejected backend token logs the user out.
func (s *Service) replyFor(ctx context.Context, sess *session.Session, in Inbound, err error) string {
	logger := s.logger.With("user_id", in.UserID, "state", sess.State, "kind", KindOf(err))

	switch {
	case tokenRejected(err):
		logger.Info("backend rejected token, logging out", "error", err)
		sess.Logout()
		return replySessionExpired
	case timedOut(err) || ctx.Err() != nil:
		logger.Warn("message deadline exceeded", "error", err)
		return replyTimeout
	}

	var e *Error
	if !errors.As(err, &e) {
		logger.Error("unexpected handler error", "error", err)
		return replyUnexpected
	}
	switch e.Kind {
	case InternalError:
		logger.Error("internal error", "error", err)
	case BackendUnavailable:
		logger.Warn("backend unavailable", "error", err)
	case ValidationError, AuthError, NotFoundError:
		logger.Debug("handler refused input", "error", err)
	}
	return e.Message
}

// dispatch applies global commands first, then the handler for the current
// state. Handlers mutate t.sess in place.
func (s *Service) dispatch(ctx context.Context, t *turn, text string) (string, error) {
	sess := t.sess
	switch strings.ToLower(text) {
	case cmdHelp:
		return helpText(sess.State), nil
	case cmdLogout:
		sess.Logout()
		// Keep a session only while it carries login throttling state, so
		// logging out never resets a lockout.
		t.removed = sess.LoginAttempts == 0
		return replyLoggedOut, nil
	case cmdRestart:
		if sess.Authenticated() {
			sess.Restart()
			return replyRestarted, nil
		}
	case cmdAssignments:
		if sess.Authenticated() {
			return s.listAssignments(ctx, sess)
		}
	}

	switch sess.State {
	case session.StateUnauthenticated:
		return s.handleLogin(ctx, sess, text)
	case session.StateAuthenticated:
		return replyAuthenticated, nil
	case session.StateSelectingAssignment:
		return s.selectAssignment(ctx, sess, text)
	case session.StateSelectingSession:
		return s.selectSession(ctx, sess, text)
	case session.StateWaitingForTopic:
		return s.createSession(ctx, sess, text)
	case session.StateMarkingAttendance:
		return s.markAttendance(ctx, t, text)
	}
	return "", internal(fmt.Errorf("unknown state %q", sess.State))
}
