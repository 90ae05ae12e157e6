// ABOUTME: Value types mirrored from the attendance service JSON API
// ABOUTME: Assignments, class sessions, attendance records and batch updates

package backend

import (
	"strings"
)

// Role names as reported by the attendance service.
const (
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
	RoleAdmin   = "ADMIN"
)

// User is the authenticated account returned by login.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// DisplayName joins first and last name, falling back to fallback when both are empty.
func (u User) DisplayName(fallback string) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return fallback
	}
	return name
}

// IsTeacher reports whether the role is TEACHER, ignoring case.
func (u User) IsTeacher() bool {
	return strings.EqualFold(strings.TrimSpace(u.Role), RoleTeacher)
}

// AuthResult is a successful login.
type AuthResult struct {
	Token string
	User  User
}

// Course is the course a teaching assignment covers.
type Course struct {
	ID   string `json:"id"`
	Code string `json:"code,omitempty"`
	Name string `json:"name"`
}

// Branch is the department/branch a teaching assignment belongs to.
type Branch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TeachingAssignment links a teacher to a course section.
type TeachingAssignment struct {
	ID           string `json:"id"`
	TeacherID    string `json:"teacherId"`
	CourseID     string `json:"courseId"`
	BranchID     string `json:"branchId"`
	Semester     int    `json:"semester"`
	Section      string `json:"section"`
	AcademicYear string `json:"academicYear"`
	Active       bool   `json:"active"`
	Course       Course `json:"course"`
	Branch       Branch `json:"branch"`
}

// ClassSession is one lecture of a teaching assignment.
type ClassSession struct {
	ID           string `json:"id"`
	AssignmentID string `json:"assignmentId"`
	Date         string `json:"date"`
	Topic        string `json:"topic,omitempty"`
}

// Day returns the date portion of the ISO timestamp.
func (s ClassSession) Day() string {
	day, _, _ := strings.Cut(s.Date, "T")
	return day
}

// StudentUser carries the name fields the roster includes for each student.
type StudentUser struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Student is the roster entry embedded in an attendance record.
type Student struct {
	ID         string      `json:"id"`
	RollNumber string      `json:"rollNumber"`
	User       StudentUser `json:"user"`
}

// Name returns the student's full name.
func (s Student) Name() string {
	return strings.TrimSpace(s.User.FirstName + " " + s.User.LastName)
}

// AttendanceRecord is one student's attendance in one class session.
type AttendanceRecord struct {
	ID           string  `json:"id"`
	SessionID    string  `json:"sessionId"`
	StudentID    string  `json:"studentId"`
	EnrollmentID string  `json:"enrollmentId"`
	Present      bool    `json:"present"`
	Student      Student `json:"student"`
}

// AttendanceUpdate is one entry of a batch write.
type AttendanceUpdate struct {
	StudentID string `json:"studentId"`
	Present   bool   `json:"present"`
}

// Batch result statuses.
const (
	BatchStatusSuccess = "success"
	BatchStatusFailed  = "failed"
)

// BatchResult is the service's verdict for one entry of a batch write.
type BatchResult struct {
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
	Message   string `json:"msg,omitempty"`
}

// OK reports whether the entry was applied.
func (r BatchResult) OK() bool {
	return r.Status == BatchStatusSuccess
}
