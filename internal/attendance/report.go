// ABOUTME: Plain-text reports for marking results, roster status and the final summary
// ABOUTME: Long lists are cut to a preview with a remainder count

package attendance

import (
	"fmt"
	"strings"

	"github.com/2389/rollcall-gateway/internal/backend"
)

// Preview sizes for long lists.
const (
	MarkedPreview         = 10
	AlreadyPresentPreview = 5
	StatusPreview         = 10
)

// Label renders a student as "101 (Grace Hopper)".
func Label(r backend.AttendanceRecord) string {
	roll := r.Student.RollNumber
	if roll == "" {
		roll = "?"
	}
	if name := r.Student.Name(); name != "" {
		return roll + " (" + name + ")"
	}
	return roll
}

// FormatTally renders "2/3 (66.7%)".
func FormatTally(present, total int) string {
	return fmt.Sprintf("%d/%d (%.1f%%)", present, total, Rate(present, total))
}

// writeList writes one bullet per item, at most limit, then a remainder line.
func writeList(b *strings.Builder, items []string, limit int) {
	for i, item := range items {
		if i == limit {
			fmt.Fprintf(b, "... and %d more\n", len(items)-limit)
			break
		}
		b.WriteString("• " + item + "\n")
	}
}

func labels(records []backend.AttendanceRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = Label(r)
	}
	return out
}

// Report renders the reply for one marking message.
func (r *Result) Report() string {
	var b strings.Builder

	if len(r.Marked) > 0 {
		fmt.Fprintf(&b, "✅ Marked present (%d):\n", len(r.Marked))
		writeList(&b, labels(r.Marked), MarkedPreview)
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, "\n❌ Could not be marked (%d):\n", len(r.Failed))
		items := make([]string, len(r.Failed))
		for i, f := range r.Failed {
			items[i] = Label(f.Record)
			if f.Reason != "" {
				items[i] += ": " + f.Reason
			}
		}
		writeList(&b, items, MarkedPreview)
	}
	if len(r.AlreadyPresent) > 0 {
		fmt.Fprintf(&b, "\nAlready present (%d):\n", len(r.AlreadyPresent))
		writeList(&b, labels(r.AlreadyPresent), AlreadyPresentPreview)
	}
	if len(r.NotFound) > 0 {
		fmt.Fprintf(&b, "\nRoll numbers not found: %s\n", strings.Join(r.NotFound, ", "))
	}

	present, total := r.Tally()
	fmt.Fprintf(&b, "\nTotal present: %s\n", FormatTally(present, total))
	b.WriteString("Send more roll numbers, 'status' to review or 'done' to finish.")
	return strings.TrimLeft(b.String(), "\n")
}

// StatusReport partitions the roster into present and absent students.
func StatusReport(records []backend.AttendanceRecord) string {
	if len(records) == 0 {
		return "No attendance records found for this session."
	}

	var present, absent []string
	for _, r := range records {
		if r.Present {
			present = append(present, Label(r))
		} else {
			absent = append(absent, Label(r))
		}
	}

	var b strings.Builder
	b.WriteString("Attendance status\n\n")
	fmt.Fprintf(&b, "✅ Present (%d):\n", len(present))
	writeList(&b, present, StatusPreview)
	fmt.Fprintf(&b, "\n❌ Absent (%d):\n", len(absent))
	writeList(&b, absent, StatusPreview)
	fmt.Fprintf(&b, "\nTotal: %s present", FormatTally(len(present), len(records)))
	return b.String()
}

// SummaryReport is the final tally sent on "done".
func SummaryReport(records []backend.AttendanceRecord) string {
	present, total := Tally(records)
	var b strings.Builder
	b.WriteString("✅ Attendance session completed.\n\n")
	fmt.Fprintf(&b, "Present: %d/%d students\n", present, total)
	fmt.Fprintf(&b, "Attendance rate: %.1f%%\n\n", Rate(present, total))
	b.WriteString("Type 'assignments' to start another session or 'help' for commands.")
	return b.String()
}
