package model

import (
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/geo"
)

type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "PRESENT"
	StatusLate    AttendanceStatus = "LATE"
	StatusAbsent  AttendanceStatus = "ABSENT"
)

// Attended reports whether the status counts as attendance.
func (s AttendanceStatus) Attended() bool {
	return s == StatusPresent || s == StatusLate
}

func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	default:
		return false
	}
}

type WriterKind string

const (
	WriterSelfScan   WriterKind = "SELF_SCAN"
	WriterInstructor WriterKind = "INSTRUCTOR"
	WriterSystem     WriterKind = "SYSTEM"
)

// Writer identifies who produced a record change.
type Writer struct {
	Kind    WriterKind
	ActorID string
}

func SelfScan(studentID string) Writer {
	return Writer{Kind: WriterSelfScan, ActorID: studentID}
}

func Instructor(instructorID string) Writer {
	return Writer{Kind: WriterInstructor, ActorID: instructorID}
}

func System() Writer {
	return Writer{Kind: WriterSystem}
}

type Session struct {
	ID         uuid.UUID
	CourseCode string
	Date       time.Time
	Token      string
	Anchors    []geo.Point
	Locked     bool
	IssuedBy   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Record struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	StudentID string
	Status    AttendanceStatus
	Writer    Writer
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
)

// EnrollmentFact is the registry's statement that a user holds a role in a course.
type EnrollmentFact struct {
	UserID       string
	CourseCode   string
	Role         Role
	IsActive     bool
	AcademicYear string
}

// AttendanceCount tallies the attended records of one student in one course.
type AttendanceCount struct {
	Present int
	Late    int
}
