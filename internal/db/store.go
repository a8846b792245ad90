package db

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"rollcall/attendance/internal/geo"
	"rollcall/attendance/internal/metrics"
	"rollcall/attendance/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type Store struct {
	Pool    *pgxpool.Pool
	Queries *Queries
	metrics *metrics.Metrics
}

func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{Pool: pool, Queries: New(pool), metrics: m}
}

func (s *Store) WithTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	queries := s.Queries.WithTx(tx)
	if err := fn(queries); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) IssueSession(ctx context.Context, in model.Session) (model.Session, error) {
	defer s.metrics.ObserveStore("issue_session")()
	anchors, err := json.Marshal(nonNilAnchors(in.Anchors))
	if err != nil {
		return model.Session{}, errors.Wrap(err, "encode anchors")
	}
	row, err := s.Queries.IssueSession(ctx, IssueSessionParams{
		ID:          pgUUID(in.ID),
		CourseCode:  in.CourseCode,
		SessionDate: pgDate(in.Date),
		QrToken:     pgText(in.Token),
		Anchors:     anchors,
		IssuedBy:    in.IssuedBy,
	})
	if err != nil {
		return model.Session{}, wrap(err, "issue session")
	}
	return toSession(row)
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	row, err := s.Queries.GetSession(ctx, pgUUID(id))
	if err != nil {
		return model.Session{}, wrap(err, "get session")
	}
	return toSession(row)
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (model.Session, error) {
	defer s.metrics.ObserveStore("get_session_by_token")()
	row, err := s.Queries.GetSessionByToken(ctx, token)
	if err != nil {
		return model.Session{}, wrap(err, "get session by token")
	}
	return toSession(row)
}

func (s *Store) SetSessionLocked(ctx context.Context, id uuid.UUID, locked bool) (model.Session, error) {
	row, err := s.Queries.SetSessionLocked(ctx, pgUUID(id), locked)
	if err != nil {
		return model.Session{}, wrap(err, "set session lock")
	}
	return toSession(row)
}

// ListPastSessions returns sessions dated before day. With all unset only the given courses are
// considered.
func (s *Store) ListPastSessions(ctx context.Context, day time.Time, all bool, courses []string) ([]model.Session, error) {
	defer s.metrics.ObserveStore("list_past_sessions")()
	rows, err := s.Queries.ListSessionsBefore(ctx, ListSessionsBeforeParams{
		Before:      pgDate(day),
		AllCourses:  all,
		CourseCodes: courses,
	})
	if err != nil {
		return nil, wrap(err, "list past sessions")
	}
	sessions := make([]model.Session, 0, len(rows))
	for _, row := range rows {
		session, err := toSession(row)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *Store) CountSessions(ctx context.Context, courseCode string) (int, error) {
	count, err := s.Queries.CountSessionsByCourse(ctx, courseCode)
	if err != nil {
		return 0, wrap(err, "count sessions")
	}
	return int(count), nil
}

// UpgradeAbsent writes status unless a non-ABSENT record already exists. The returned bool is
// false when nothing changed; the record is then the existing one.
func (s *Store) UpgradeAbsent(ctx context.Context, sessionID uuid.UUID, studentID string, status model.AttendanceStatus, writer model.Writer) (model.Record, bool, error) {
	defer s.metrics.ObserveStore("upgrade_absent")()
	row, err := s.Queries.UpgradeAbsentRecord(ctx, writeParams(sessionID, studentID, status, writer))
	if err == nil {
		return toRecord(row), true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, false, wrap(err, "upgrade absent record")
	}
	existing, err := s.Queries.GetRecord(ctx, pgUUID(sessionID), studentID)
	if err != nil {
		return model.Record{}, false, wrap(err, "get record")
	}
	return toRecord(existing), false, nil
}

func (s *Store) UpsertRecord(ctx context.Context, sessionID uuid.UUID, studentID string, status model.AttendanceStatus, writer model.Writer) (model.Record, error) {
	defer s.metrics.ObserveStore("upsert_record")()
	row, err := s.Queries.UpsertRecord(ctx, writeParams(sessionID, studentID, status, writer))
	if err != nil {
		return model.Record{}, wrap(err, "upsert record")
	}
	return toRecord(row), nil
}

// UpsertRecords writes every status in one transaction.
func (s *Store) UpsertRecords(ctx context.Context, sessionID uuid.UUID, statuses map[string]model.AttendanceStatus, writer model.Writer) (int, error) {
	defer s.metrics.ObserveStore("upsert_records")()
	written := 0
	err := s.WithTx(ctx, func(q *Queries) error {
		for _, studentID := range sortedKeys(statuses) {
			if _, err := q.UpsertRecord(ctx, writeParams(sessionID, studentID, statuses[studentID], writer)); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, wrap(err, "upsert records")
	}
	return written, nil
}

// InsertMissing creates records for the students that have none yet and returns how many were
// created.
func (s *Store) InsertMissing(ctx context.Context, sessionID uuid.UUID, studentIDs []string, status model.AttendanceStatus, writer model.Writer) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	defer s.metrics.ObserveStore("insert_missing")()
	created, err := s.Queries.InsertMissingRecords(ctx, InsertMissingRecordsParams{
		SessionID:  pgUUID(sessionID),
		StudentIDs: studentIDs,
		Status:     string(status),
		Writer:     string(writer.Kind),
		WrittenBy:  writer.ActorID,
	})
	if err != nil {
		return 0, wrap(err, "insert missing records")
	}
	return int(created), nil
}

func (s *Store) GetRecord(ctx context.Context, sessionID uuid.UUID, studentID string) (model.Record, error) {
	row, err := s.Queries.GetRecord(ctx, pgUUID(sessionID), studentID)
	if err != nil {
		return model.Record{}, wrap(err, "get record")
	}
	return toRecord(row), nil
}

func (s *Store) ListRecords(ctx context.Context, sessionID uuid.UUID) ([]model.Record, error) {
	rows, err := s.Queries.ListRecordsBySession(ctx, pgUUID(sessionID))
	if err != nil {
		return nil, wrap(err, "list records")
	}
	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, toRecord(row))
	}
	return records, nil
}

// AttendanceCounts returns per-student tallies for the course, restricted to studentID when set.
func (s *Store) AttendanceCounts(ctx context.Context, courseCode, studentID string) (map[string]model.AttendanceCount, error) {
	defer s.metrics.ObserveStore("attendance_counts")()
	rows, err := s.Queries.CountAttendanceByCourse(ctx, courseCode, studentID)
	if err != nil {
		return nil, wrap(err, "count attendance")
	}
	counts := make(map[string]model.AttendanceCount, len(rows))
	for _, row := range rows {
		counts[row.StudentID] = model.AttendanceCount{Present: int(row.Present), Late: int(row.Late)}
	}
	return counts, nil
}

func wrap(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errors.Wrap(ErrConflict, op)
		case "23503":
			return ErrNotFound
		}
	}
	return errors.Wrap(err, op)
}

func writeParams(sessionID uuid.UUID, studentID string, status model.AttendanceStatus, writer model.Writer) WriteRecordParams {
	return WriteRecordParams{
		ID:        pgUUID(uuid.New()),
		SessionID: pgUUID(sessionID),
		StudentID: studentID,
		Status:    string(status),
		Writer:    string(writer.Kind),
		WrittenBy: writer.ActorID,
	}
}

func toSession(row AttendanceSession) (model.Session, error) {
	var anchors []geo.Point
	if len(row.Anchors) > 0 {
		if err := json.Unmarshal(row.Anchors, &anchors); err != nil {
			return model.Session{}, errors.Wrap(err, "decode anchors")
		}
	}
	return model.Session{
		ID:         uuid.UUID(row.ID.Bytes),
		CourseCode: row.CourseCode,
		Date:       row.SessionDate.Time,
		Token:      row.QrToken.String,
		Anchors:    anchors,
		Locked:     row.IsLocked,
		IssuedBy:   row.IssuedBy,
		CreatedAt:  row.CreatedAt.Time,
		UpdatedAt:  row.UpdatedAt.Time,
	}, nil
}

func toRecord(row AttendanceRecord) model.Record {
	return model.Record{
		ID:        uuid.UUID(row.ID.Bytes),
		SessionID: uuid.UUID(row.SessionID.Bytes),
		StudentID: row.StudentID,
		Status:    model.AttendanceStatus(row.Status),
		Writer:    model.Writer{Kind: model.WriterKind(row.Writer), ActorID: row.WrittenBy},
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
}

func nonNilAnchors(points []geo.Point) []geo.Point {
	if points == nil {
		return []geo.Point{}
	}
	return points
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
}

func pgText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func sortedKeys(m map[string]model.AttendanceStatus) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
