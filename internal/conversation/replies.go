// ABOUTME: Reply texts and menu formatting for every dialogue state
// ABOUTME: Plain text only, sized for SMS and WhatsApp

package conversation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/2389/rollcall-gateway/internal/attendance"
	"github.com/2389/rollcall-gateway/internal/backend"
	"github.com/2389/rollcall-gateway/internal/session"
)

// Fixed replies.
const (
	replyLoginPrompt = "👋 Welcome to the attendance bot.\n\n" +
		"Please log in with:\nlogin <email> <password>"
	replyInvalidLogin   = "Invalid format. Use:\nlogin <email> <password>"
	replyTooFast        = "Please wait a few seconds before trying again."
	replyNotTeacher     = "Only teachers can use this bot."
	replyLoginBackend   = "Unable to reach the attendance service right now. Please try again in a moment."
	replyEmptyMessage   = "Empty message received. Type 'help' for available commands."
	replyLoggedOut      = "Logged out successfully. Send 'login <email> <password>' to start again."
	replyRestarted      = "Session restarted. Type 'assignments' to see your teaching assignments."
	replyAuthenticated  = "Type 'assignments' to see your teaching assignments or 'help' for commands."
	replyGenericError   = "Something went wrong. Type 'help' for available commands or 'restart' to start over."
	replyUnexpected     = "An unexpected error occurred. Please try again or type 'restart'."
	replyBusy           = "Still working on your previous message. Please wait a moment and try again."
	replyTimeout        = "This is taking longer than expected. Please try again in a moment."
	replySessionExpired = "Your login has expired. Please log in again with:\nlogin <email> <password>"
	replyNoSender       = "Unable to identify the sender."

	replyAssignmentsFailed = "Unable to load your teaching assignments. Please try again."
	replyNoAssignments     = "No teaching assignments found for your account."
	replySessionsFailed    = "Unable to load class sessions. Please try again or pick another assignment."
	replyAttendanceFailed  = "Unable to load the attendance list. Please try again."
	replyNoSessions        = "No sessions found for this assignment. Type 'new' to create one."
	replyTopicPrompt       = "Enter the topic for the new session (max 200 characters):"
	replyTopicEmpty        = "Topic cannot be empty. Please enter a topic for the session."
	replyTopicTooLong      = "Topic is too long (max 200 characters). Please send a shorter topic."
	replyCreateFailed      = "Failed to create the session. Type 'new' to try again or pick an existing session."
	replyNoRollNumbers     = "No valid roll numbers found. Send roll numbers like: 101, 102, 103"
	replyEmptyRoster       = "No attendance records for this session. Type 'assignments' to pick another."
	replyMarkFailed        = "❌ Failed to mark attendance. No changes were saved, please try again."
)

// MaxTopicLength is the longest accepted session topic, in characters.
const MaxTopicLength = 200

// SessionPreview is how many recent sessions are listed after choosing an assignment.
const SessionPreview = 5

// Truncate cuts text to at most limit characters, ending with "..." when cut.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	if limit <= 3 {
		return string([]rune(text)[:limit])
	}
	return string([]rune(text)[:limit-3]) + "..."
}

func replyWelcome(user backend.User) string {
	return fmt.Sprintf("✅ Welcome, %s!\n\n%s", user.DisplayName("Teacher"), replyAuthenticated)
}

func replyLoginFailed(remaining int) string {
	if remaining == 1 {
		return "Login failed. 1 attempt remaining."
	}
	return fmt.Sprintf("Login failed. %d attempts remaining.", remaining)
}

func replyLockedOut(minutes int) string {
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Too many failed login attempts. Please try again in %d minutes.", minutes)
}

func replyPickNumber(n int) string {
	return fmt.Sprintf("Please reply with a number between 1 and %d.", n)
}

func replyPickSession(n int) string {
	if n == 0 {
		return "Reply 'new' to create a session."
	}
	return fmt.Sprintf("Reply 'new', 'all' or a session number (1-%d).", n)
}

// assignmentLine is "CSE | Sem 3 | Sec A".
func assignmentLine(a backend.TeachingAssignment) string {
	return fmt.Sprintf("%s | Sem %d | Sec %s", a.Branch.Name, a.Semester, a.Section)
}

func assignmentMenu(assignments []backend.TeachingAssignment) string {
	var b strings.Builder
	b.WriteString("📚 Your teaching assignments:\n\n")
	for i, a := range assignments {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, a.Course.Name, assignmentLine(a))
	}
	fmt.Fprintf(&b, "\nReply with assignment number (1-%d)", len(assignments))
	return b.String()
}

func sessionLine(n int, cs backend.ClassSession) string {
	topic := cs.Topic
	if topic == "" {
		topic = "No topic"
	}
	return fmt.Sprintf("%d. %s - %s", n, cs.Day(), topic)
}

func sessionMenu(a backend.TeachingAssignment, sessions []backend.ClassSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📖 %s (%s)\n\n", a.Course.Name, assignmentLine(a))
	if len(sessions) == 0 {
		b.WriteString("No sessions yet.\n\nType 'new' to create the first session.")
		return b.String()
	}

	b.WriteString("Recent sessions:\n")
	shown := min(len(sessions), SessionPreview)
	for i := 0; i < shown; i++ {
		b.WriteString(sessionLine(i+1, sessions[i]) + "\n")
	}
	if len(sessions) > shown {
		fmt.Fprintf(&b, "... and %d older\n", len(sessions)-shown)
	}
	b.WriteString("\nOptions:\n")
	b.WriteString("• 'new' to create a new session\n")
	fmt.Fprintf(&b, "• 1-%d to mark attendance for a session\n", shown)
	b.WriteString("• 'all' to see every session")
	return b.String()
}

func allSessions(sessions []backend.ClassSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 All sessions (%d):\n\n", len(sessions))
	for i, cs := range sessions {
		b.WriteString(sessionLine(i+1, cs) + "\n")
	}
	fmt.Fprintf(&b, "\nReply with a session number (1-%d) or 'new'.", len(sessions))
	return b.String()
}

func markingIntro(cs backend.ClassSession, records []backend.AttendanceRecord) string {
	topic := cs.Topic
	if topic == "" {
		topic = "No topic"
	}
	present, total := attendance.Tally(records)

	var b strings.Builder
	fmt.Fprintf(&b, "📅 Session: %s\nTopic: %s\n", cs.Day(), topic)
	fmt.Fprintf(&b, "Current Status: %d/%d present\n\n", present, total)
	b.WriteString("Send roll numbers separated by commas or spaces (e.g. 101, 102, 103).\n")
	b.WriteString("Commands: 'status' to review, 'done' to finish")
	return b.String()
}

func replyCreatedButNoRoster(cs backend.ClassSession) string {
	return fmt.Sprintf("✅ Session created for %s, but the attendance list could not be loaded. "+
		"Reply 1 to open it once the service is back.", cs.Day())
}

// helpText is the help for the user's current state.
func helpText(state session.State) string {
	if state == session.StateUnauthenticated {
		return "🤖 Attendance Bot Help\n\n" +
			"Log in to get started:\nlogin <email> <password>\n\n" +
			"Commands:\n• help - show this message"
	}

	var b strings.Builder
	b.WriteString("🤖 Attendance Bot Help\n\n")
	b.WriteString("Commands:\n")
	b.WriteString("• assignments - list your teaching assignments\n")
	b.WriteString("• restart - go back to the start\n")
	b.WriteString("• logout - end your session\n")
	b.WriteString("• help - show this message\n\n")

	switch state {
	case session.StateAuthenticated:
		b.WriteString("Type 'assignments' to begin.")
	case session.StateSelectingAssignment:
		b.WriteString("Reply with an assignment number to continue.")
	case session.StateSelectingSession:
		b.WriteString("Reply 'new' to create a session, 'all' to list every session, or a session number.")
	case session.StateWaitingForTopic:
		b.WriteString("Send the topic for the new session.")
	case session.StateMarkingAttendance:
		b.WriteString("Send roll numbers separated by commas or spaces.\n")
		b.WriteString("• status - show present and absent students\n")
		b.WriteString("• done - finish and show the summary")
	case session.StateUnauthenticated:
	}
	return b.String()
}
