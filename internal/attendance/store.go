package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/model"
)

// SessionStore persists one session per course and institutional day.
type SessionStore interface {
	// IssueSession inserts the session or, when the course-day exists, unlocks it and returns it
	// with its original token.
	IssueSession(ctx context.Context, in model.Session) (model.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (model.Session, error)
	GetSessionByToken(ctx context.Context, token string) (model.Session, error)
	SetSessionLocked(ctx context.Context, id uuid.UUID, locked bool) (model.Session, error)
	ListPastSessions(ctx context.Context, day time.Time, all bool, courses []string) ([]model.Session, error)
	CountSessions(ctx context.Context, courseCode string) (int, error)
}

// RecordStore persists at most one record per session and student.
type RecordStore interface {
	UpgradeAbsent(ctx context.Context, sessionID uuid.UUID, studentID string, status model.AttendanceStatus, writer model.Writer) (model.Record, bool, error)
	UpsertRecord(ctx context.Context, sessionID uuid.UUID, studentID string, status model.AttendanceStatus, writer model.Writer) (model.Record, error)
	UpsertRecords(ctx context.Context, sessionID uuid.UUID, statuses map[string]model.AttendanceStatus, writer model.Writer) (int, error)
	InsertMissing(ctx context.Context, sessionID uuid.UUID, studentIDs []string, status model.AttendanceStatus, writer model.Writer) (int, error)
	GetRecord(ctx context.Context, sessionID uuid.UUID, studentID string) (model.Record, error)
	ListRecords(ctx context.Context, sessionID uuid.UUID) ([]model.Record, error)
	AttendanceCounts(ctx context.Context, courseCode, studentID string) (map[string]model.AttendanceCount, error)
}

type Store interface {
	SessionStore
	RecordStore
}
