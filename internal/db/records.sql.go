package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const recordColumns = `id, session_id, student_id, status, writer, written_by, created_at, updated_at`

func scanRecord(row interface{ Scan(...interface{}) error }) (AttendanceRecord, error) {
	var i AttendanceRecord
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.StudentID,
		&i.Status,
		&i.Writer,
		&i.WrittenBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

type WriteRecordParams struct {
	ID        pgtype.UUID
	SessionID pgtype.UUID
	StudentID string
	Status    string
	Writer    string
	WrittenBy string
}

const upgradeAbsentRecord = `-- name: UpgradeAbsentRecord :one
INSERT INTO attendance_records (id, session_id, student_id, status, writer, written_by)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id, student_id) DO UPDATE
SET status = EXCLUDED.status,
    writer = EXCLUDED.writer,
    written_by = EXCLUDED.written_by,
    updated_at = now()
WHERE attendance_records.status = 'ABSENT'
RETURNING ` + recordColumns

// UpgradeAbsentRecord inserts the record or overwrites an ABSENT one. Any other existing status
// is left untouched and pgx.ErrNoRows is returned.
func (q *Queries) UpgradeAbsentRecord(ctx context.Context, arg WriteRecordParams) (AttendanceRecord, error) {
	row := q.db.QueryRow(ctx, upgradeAbsentRecord,
		arg.ID,
		arg.SessionID,
		arg.StudentID,
		arg.Status,
		arg.Writer,
		arg.WrittenBy,
	)
	return scanRecord(row)
}

const upsertRecord = `-- name: UpsertRecord :one
INSERT INTO attendance_records (id, session_id, student_id, status, writer, written_by)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id, student_id) DO UPDATE
SET status = EXCLUDED.status,
    writer = EXCLUDED.writer,
    written_by = EXCLUDED.written_by,
    updated_at = now()
RETURNING ` + recordColumns

func (q *Queries) UpsertRecord(ctx context.Context, arg WriteRecordParams) (AttendanceRecord, error) {
	row := q.db.QueryRow(ctx, upsertRecord,
		arg.ID,
		arg.SessionID,
		arg.StudentID,
		arg.Status,
		arg.Writer,
		arg.WrittenBy,
	)
	return scanRecord(row)
}

const insertMissingRecords = `-- name: InsertMissingRecords :execrows
INSERT INTO attendance_records (id, session_id, student_id, status, writer, written_by)
SELECT gen_random_uuid(), $1, student_id, $3, $4, $5
FROM unnest($2::text[]) AS student_id
ON CONFLICT (session_id, student_id) DO NOTHING`

type InsertMissingRecordsParams struct {
	SessionID  pgtype.UUID
	StudentIDs []string
	Status     string
	Writer     string
	WrittenBy  string
}

func (q *Queries) InsertMissingRecords(ctx context.Context, arg InsertMissingRecordsParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertMissingRecords,
		arg.SessionID,
		arg.StudentIDs,
		arg.Status,
		arg.Writer,
		arg.WrittenBy,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getRecord = `-- name: GetRecord :one
SELECT ` + recordColumns + ` FROM attendance_records WHERE session_id = $1 AND student_id = $2`

func (q *Queries) GetRecord(ctx context.Context, sessionID pgtype.UUID, studentID string) (AttendanceRecord, error) {
	return scanRecord(q.db.QueryRow(ctx, getRecord, sessionID, studentID))
}

const listRecordsBySession = `-- name: ListRecordsBySession :many
SELECT ` + recordColumns + ` FROM attendance_records WHERE session_id = $1 ORDER BY student_id`

func (q *Queries) ListRecordsBySession(ctx context.Context, sessionID pgtype.UUID) ([]AttendanceRecord, error) {
	rows, err := q.db.Query(ctx, listRecordsBySession, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AttendanceRecord
	for rows.Next() {
		i, err := scanRecord(rows)
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

const countAttendanceByCourse = `-- name: CountAttendanceByCourse :many
SELECT r.student_id,
       count(*) FILTER (WHERE r.status = 'PRESENT') AS present,
       count(*) FILTER (WHERE r.status = 'LATE') AS late
FROM attendance_records r
JOIN attendance_sessions s ON s.id = r.session_id
WHERE s.course_code = $1
  AND ($2::text = '' OR r.student_id = $2)
GROUP BY r.student_id
ORDER BY r.student_id`

// CountAttendanceByCourse returns PRESENT and LATE totals per student. An empty studentID covers
// every student with a record in the course.
func (q *Queries) CountAttendanceByCourse(ctx context.Context, courseCode, studentID string) ([]StudentCount, error) {
	rows, err := q.db.Query(ctx, countAttendanceByCourse, courseCode, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StudentCount
	for rows.Next() {
		var i StudentCount
		if err := rows.Scan(&i.StudentID, &i.Present, &i.Late); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
