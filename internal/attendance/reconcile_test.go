// ABOUTME: Tests for roll number parsing, roster matching and confirmed-only commits
// ABOUTME: The attendance service is backend.MockClient

package attendance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/rollcall-gateway/internal/backend"
)

func record(studentID, roll, first string, present bool) backend.AttendanceRecord {
	return backend.AttendanceRecord{
		ID:        "rec-" + studentID,
		SessionID: "s1",
		StudentID: studentID,
		Present:   present,
		Student: backend.Student{
			ID:         studentID,
			RollNumber: roll,
			User:       backend.StudentUser{FirstName: first},
		},
	}
}

func threeAbsent() []backend.AttendanceRecord {
	return []backend.AttendanceRecord{
		record("st1", "101", "Ada", false),
		record("st2", "102", "Grace", false),
		record("st3", "103", "Linus", false),
	}
}

func newMock(records []backend.AttendanceRecord) *backend.MockClient {
	m := backend.NewMockClient()
	m.Attendance["s1"] = records
	return m
}

func TestParseRollNumbers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"101, 102  103;104|105", []string{"101", "102", "103", "104", "105"}},
		{"cs101 Cs102", []string{"CS101", "CS102"}},
		{"101, 10-2, @@, 103", []string{"101", "103"}},
		{"  ", nil},
		{"", nil},
		{"hello", []string{"HELLO"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRollNumbers(tt.in))
		})
	}
}

func TestMatch(t *testing.T) {
	records := []backend.AttendanceRecord{
		record("st1", "101", "Ada", false),
		record("st2", "cs102", "Grace", true),
		record("st3", "103", "Linus", false),
	}

	p := Match(records, []string{"101", "CS102", "999", "101", "103"})

	assert.Equal(t, []int{0, 2}, p.Pending)
	assert.Equal(t, []int{1}, p.AlreadyPresent)
	assert.Equal(t, []string{"999"}, p.NotFound)
	assert.Equal(t, []backend.AttendanceUpdate{
		{StudentID: "st1", Present: true},
		{StudentID: "st3", Present: true},
	}, p.Updates(records))
}

func TestMatch_FirstRecordWins(t *testing.T) {
	records := []backend.AttendanceRecord{
		record("st1", "101", "Ada", false),
		record("st9", "101", "Dup", false),
	}

	p := Match(records, []string{"101"})
	assert.Equal(t, []int{0}, p.Pending)
}

func TestMark_Scenario(t *testing.T) {
	records := threeAbsent()
	mock := newMock(threeAbsent())
	r := NewReconciler(mock, nil)

	res, err := r.Mark(context.Background(), "s1", "tok", records, "101,102,999")
	require.NoError(t, err)

	call := mock.LastCall("MarkAttendanceBatch")
	require.NotNil(t, call)
	assert.Len(t, call.Updates, 2, "backend receives exactly the pending updates")
	assert.Equal(t, "tok", call.Token)

	require.Len(t, res.Marked, 2)
	assert.Equal(t, "101", res.Marked[0].Student.RollNumber)
	assert.Equal(t, "102", res.Marked[1].Student.RollNumber)
	assert.Equal(t, []string{"999"}, res.NotFound)

	present, total := res.Tally()
	assert.Equal(t, 2, present)
	assert.Equal(t, 3, total)

	assert.False(t, records[0].Present, "input roster is not modified")

	report := res.Report()
	assert.Contains(t, report, "101 (Ada)")
	assert.Contains(t, report, "102 (Grace)")
	assert.Contains(t, report, "Roll numbers not found: 999")
	assert.Contains(t, report, "2/3 (66.7%)")
}

func TestMark_AlreadyPresentNotSent(t *testing.T) {
	records := threeAbsent()
	records[0].Present = true
	mock := newMock(records)
	r := NewReconciler(mock, nil)

	res, err := r.Mark(context.Background(), "s1", "tok", records, "101 102")
	require.NoError(t, err)

	call := mock.LastCall("MarkAttendanceBatch")
	require.NotNil(t, call)
	assert.Equal(t, []backend.AttendanceUpdate{{StudentID: "st2", Present: true}}, call.Updates)
	require.Len(t, res.AlreadyPresent, 1)
	assert.Equal(t, "st1", res.AlreadyPresent[0].StudentID)
}

func TestMark_OnlyAlreadyPresentSkipsBackend(t *testing.T) {
	records := threeAbsent()
	records[1].Present = true
	mock := newMock(records)
	r := NewReconciler(mock, nil)

	res, err := r.Mark(context.Background(), "s1", "tok", records, "102")
	require.NoError(t, err)
	assert.Zero(t, mock.CallCount("MarkAttendanceBatch"))
	assert.Len(t, res.AlreadyPresent, 1)
	assert.Empty(t, res.Marked)
}

func TestMark_FailedBatchLeavesFlags(t *testing.T) {
	records := threeAbsent()
	records[2].Present = true
	before := make([]backend.AttendanceRecord, len(records))
	copy(before, records)

	mock := newMock(records)
	mock.MarkErr = backend.ErrUnavailable
	r := NewReconciler(mock, nil)

	res, err := r.Mark(context.Background(), "s1", "tok", records, "101 102")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrUnavailable))
	assert.Nil(t, res)
	assert.Equal(t, before, records)
}

func TestMark_PartialConfirmation(t *testing.T) {
	records := threeAbsent()
	mock := newMock(records)
	mock.Rejected["st2"] = true
	r := NewReconciler(mock, nil)

	res, err := r.Mark(context.Background(), "s1", "tok", records, "101 102")
	require.NoError(t, err)

	require.Len(t, res.Marked, 1)
	assert.Equal(t, "st1", res.Marked[0].StudentID)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "st2", res.Failed[0].Record.StudentID)
	assert.Equal(t, "not enrolled", res.Failed[0].Reason)
	assert.True(t, res.Records[0].Present)
	assert.False(t, res.Records[1].Present)
	assert.Contains(t, res.Report(), "Could not be marked (1)")
}

func TestMark_ValidationErrors(t *testing.T) {
	mock := newMock(threeAbsent())
	r := NewReconciler(mock, nil)

	_, err := r.Mark(context.Background(), "s1", "tok", threeAbsent(), ",,; |")
	assert.ErrorIs(t, err, ErrNoRollNumbers)

	_, err = r.Mark(context.Background(), "s1", "tok", nil, "101")
	assert.ErrorIs(t, err, ErrEmptyRoster)

	assert.Zero(t, mock.CallCount("MarkAttendanceBatch"))
}

func TestRate(t *testing.T) {
	assert.InDelta(t, 66.666, Rate(2, 3), 0.01)
	assert.Zero(t, Rate(0, 0))
	assert.Equal(t, "2/3 (66.7%)", FormatTally(2, 3))
	assert.Equal(t, "0/0 (0.0%)", FormatTally(0, 0))
}
