// Package attendance turns roll numbers typed by a teacher into confirmed
// attendance writes.
//
// # Flow
//
//	"101, 102 999"
//	    │ ParseRollNumbers
//	    ▼
//	[101 102 999]
//	    │ Match against the cached roster
//	    ▼
//	Pending: 101 102   AlreadyPresent: -   NotFound: 999
//	    │ one MarkAttendanceBatch call for Pending
//	    ▼
//	Result: Marked, Failed, AlreadyPresent, NotFound, updated Records
//
// Students already present are never sent to the service. The cached roster
// passed to Reconciler.Mark is not modified: the returned Result.Records is
// a copy where only records the service confirmed are flipped to present.
// If the batch call fails outright, Mark returns the error and the caller
// keeps its roster as it was.
//
// Report, StatusReport and SummaryReport render the replies.
package attendance
