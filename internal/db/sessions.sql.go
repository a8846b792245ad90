package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const sessionColumns = `id, course_code, session_date, qr_token, anchors, is_locked, issued_by, created_at, updated_at`

func scanSession(row interface{ Scan(...interface{}) error }) (AttendanceSession, error) {
	var i AttendanceSession
	err := row.Scan(
		&i.ID,
		&i.CourseCode,
		&i.SessionDate,
		&i.QrToken,
		&i.Anchors,
		&i.IsLocked,
		&i.IssuedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const issueSession = `-- name: IssueSession :one
INSERT INTO attendance_sessions (id, course_code, session_date, qr_token, anchors, is_locked, issued_by)
VALUES ($1, $2, $3, $4, $5, false, $6)
ON CONFLICT (course_code, session_date) DO UPDATE
SET qr_token = COALESCE(attendance_sessions.qr_token, EXCLUDED.qr_token),
    is_locked = false,
    updated_at = now()
RETURNING ` + sessionColumns

type IssueSessionParams struct {
	ID          pgtype.UUID
	CourseCode  string
	SessionDate pgtype.Date
	QrToken     pgtype.Text
	Anchors     []byte
	IssuedBy    string
}

// IssueSession creates the course-day session or returns the existing one unlocked. An existing
// token is never replaced.
func (q *Queries) IssueSession(ctx context.Context, arg IssueSessionParams) (AttendanceSession, error) {
	row := q.db.QueryRow(ctx, issueSession,
		arg.ID,
		arg.CourseCode,
		arg.SessionDate,
		arg.QrToken,
		arg.Anchors,
		arg.IssuedBy,
	)
	return scanSession(row)
}

const getSession = `-- name: GetSession :one
SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE id = $1`

func (q *Queries) GetSession(ctx context.Context, id pgtype.UUID) (AttendanceSession, error) {
	return scanSession(q.db.QueryRow(ctx, getSession, id))
}

const getSessionByToken = `-- name: GetSessionByToken :one
SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE qr_token = $1`

func (q *Queries) GetSessionByToken(ctx context.Context, qrToken string) (AttendanceSession, error) {
	return scanSession(q.db.QueryRow(ctx, getSessionByToken, qrToken))
}

const setSessionLocked = `-- name: SetSessionLocked :one
UPDATE attendance_sessions SET is_locked = $2, updated_at = now()
WHERE id = $1
RETURNING ` + sessionColumns

func (q *Queries) SetSessionLocked(ctx context.Context, id pgtype.UUID, locked bool) (AttendanceSession, error) {
	return scanSession(q.db.QueryRow(ctx, setSessionLocked, id, locked))
}

const listSessionsBefore = `-- name: ListSessionsBefore :many
SELECT ` + sessionColumns + ` FROM attendance_sessions
WHERE session_date < $1
  AND ($2::bool OR course_code = ANY($3::text[]))
ORDER BY session_date, course_code`

type ListSessionsBeforeParams struct {
	Before      pgtype.Date
	AllCourses  bool
	CourseCodes []string
}

func (q *Queries) ListSessionsBefore(ctx context.Context, arg ListSessionsBeforeParams) ([]AttendanceSession, error) {
	codes := arg.CourseCodes
	if codes == nil {
		codes = []string{}
	}
	rows, err := q.db.Query(ctx, listSessionsBefore, arg.Before, arg.AllCourses, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AttendanceSession
	for rows.Next() {
		i, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countSessionsByCourse = `-- name: CountSessionsByCourse :one
SELECT count(*) FROM attendance_sessions WHERE course_code = $1`

func (q *Queries) CountSessionsByCourse(ctx context.Context, courseCode string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countSessionsByCourse, courseCode).Scan(&count)
	return count, err
}
