// ABOUTME: Reconciles free-text roll numbers against a cached roster and commits batches
// ABOUTME: The cached present flags change only for records the service confirmed

package attendance

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/2389/rollcall-gateway/internal/backend"
)

var (
	// ErrNoRollNumbers means the message held nothing that looks like a roll number.
	ErrNoRollNumbers = errors.New("no valid roll numbers")

	// ErrEmptyRoster means the class session has no attendance records to mark.
	ErrEmptyRoster = errors.New("no attendance records for this class session")
)

var (
	separators = strings.NewReplacer(",", " ", ";", " ", "|", " ")
	rollNumber = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// ParseRollNumbers splits text on whitespace and , ; | and returns the
// alphanumeric tokens in upper case, in input order.
func ParseRollNumbers(text string) []string {
	var out []string
	for _, tok := range strings.Fields(separators.Replace(text)) {
		if rollNumber.MatchString(tok) {
			out = append(out, strings.ToUpper(tok))
		}
	}
	return out
}

// Plan is the classification of parsed roll numbers against a roster.
type Plan struct {
	// Pending holds indices into the roster of absent students to mark.
	Pending []int
	// AlreadyPresent holds indices of students already marked present.
	AlreadyPresent []int
	// NotFound holds roll numbers with no roster match, as typed.
	NotFound []string
}

// Match classifies each roll number against records. The first record
// whose roll number matches case-insensitively wins. A roll number repeated
// in one message is only considered once.
func Match(records []backend.AttendanceRecord, rolls []string) Plan {
	var p Plan
	seen := make(map[string]bool, len(rolls))
	for _, roll := range rolls {
		key := strings.ToUpper(roll)
		if seen[key] {
			continue
		}
		seen[key] = true

		idx := find(records, roll)
		switch {
		case idx < 0:
			p.NotFound = append(p.NotFound, roll)
		case records[idx].Present:
			p.AlreadyPresent = append(p.AlreadyPresent, idx)
		default:
			p.Pending = append(p.Pending, idx)
		}
	}
	return p
}

func find(records []backend.AttendanceRecord, roll string) int {
	for i, r := range records {
		if strings.EqualFold(strings.TrimSpace(r.Student.RollNumber), roll) {
			return i
		}
	}
	return -1
}

// Updates builds the batch payload for the pending records.
func (p Plan) Updates(records []backend.AttendanceRecord) []backend.AttendanceUpdate {
	out := make([]backend.AttendanceUpdate, 0, len(p.Pending))
	for _, idx := range p.Pending {
		out = append(out, backend.AttendanceUpdate{StudentID: records[idx].StudentID, Present: true})
	}
	return out
}

// Failure is a record the service refused to mark.
type Failure struct {
	Record backend.AttendanceRecord
	Reason string
}

// Result is the outcome of one marking message.
type Result struct {
	Marked         []backend.AttendanceRecord
	AlreadyPresent []backend.AttendanceRecord
	NotFound       []string
	Failed         []Failure
	// Records is the roster after the confirmed updates were applied.
	Records []backend.AttendanceRecord
}

// Tally counts present students in the updated roster.
func (r *Result) Tally() (present, total int) {
	return Tally(r.Records)
}

// Changed reports whether anything was marked, already present or not found.
func (r *Result) Changed() bool {
	return len(r.Marked)+len(r.AlreadyPresent)+len(r.NotFound)+len(r.Failed) > 0
}

// Reconciler marks attendance through the backend Client.
type Reconciler struct {
	client backend.Client
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(client backend.Client, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{client: client, logger: logger.With("component", "attendance")}
}

// Mark parses text, sends one batch for the absent students it names and
// returns what happened. records is never modified; Result.Records is a
// copy with present flags set only for confirmed updates. When the batch
// call fails the error is returned and no flag changes anywhere.
func (r *Reconciler) Mark(ctx context.Context, classSessionID, token string, records []backend.AttendanceRecord, text string) (*Result, error) {
	rolls := ParseRollNumbers(text)
	if len(rolls) == 0 {
		return nil, ErrNoRollNumbers
	}
	if len(records) == 0 {
		return nil, ErrEmptyRoster
	}

	plan := Match(records, rolls)
	res := &Result{
		NotFound: plan.NotFound,
		Records:  make([]backend.AttendanceRecord, len(records)),
	}
	copy(res.Records, records)
	for _, idx := range plan.AlreadyPresent {
		res.AlreadyPresent = append(res.AlreadyPresent, records[idx])
	}

	if len(plan.Pending) == 0 {
		return res, nil
	}

	updates := plan.Updates(records)
	results, err := r.client.MarkAttendanceBatch(ctx, classSessionID, updates, token)
	if err != nil {
		r.logger.Error("batch mark failed", "session_id", classSessionID, "updates", len(updates), "error", err)
		return nil, err
	}

	verdicts := make(map[string]backend.BatchResult, len(results))
	for _, br := range results {
		verdicts[br.StudentID] = br
	}
	for _, idx := range plan.Pending {
		rec := records[idx]
		v, ok := verdicts[rec.StudentID]
		if !ok || !v.OK() {
			reason := v.Message
			if !ok {
				reason = "no confirmation from server"
			}
			res.Failed = append(res.Failed, Failure{Record: rec, Reason: reason})
			continue
		}
		res.Records[idx].Present = true
		marked := res.Records[idx]
		res.Marked = append(res.Marked, marked)
	}

	r.logger.Info("attendance marked",
		"session_id", classSessionID,
		"marked", len(res.Marked),
		"failed", len(res.Failed),
		"already_present", len(res.AlreadyPresent),
		"not_found", len(res.NotFound))
	return res, nil
}

// Tally counts present students and the roster size.
func Tally(records []backend.AttendanceRecord) (present, total int) {
	for _, r := range records {
		if r.Present {
			present++
		}
	}
	return present, len(records)
}

// Rate returns the attendance percentage, 0 for an empty roster.
func Rate(present, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(present) / float64(total) * 100
}
