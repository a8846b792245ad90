package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type AttendanceSession struct {
	ID          pgtype.UUID
	CourseCode  string
	SessionDate pgtype.Date
	QrToken     pgtype.Text
	Anchors     []byte
	IsLocked    bool
	IssuedBy    string
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

type AttendanceRecord struct {
	ID        pgtype.UUID
	SessionID pgtype.UUID
	StudentID string
	Status    string
	Writer    string
	WrittenBy string
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

type StudentCount struct {
	StudentID string
	Present   int64
	Late      int64
}
