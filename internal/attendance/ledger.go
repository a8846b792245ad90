package attendance

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"rollcall/attendance/internal/db"
	"rollcall/attendance/internal/enrollment"
	"rollcall/attendance/internal/model"
)

// Actor is the caller of an administrative operation.
type Actor struct {
	ID string
	// Superuser may act on every course. It is granted by an explicit capability, never inferred.
	Superuser bool
}

// SystemActor is used by scheduled jobs.
func SystemActor() Actor {
	return Actor{Superuser: true}
}

type BulkResult struct {
	Written int
	Ignored []string
}

// Ledger owns attendance records. Every write goes through Upsert so the self-scan rule is
// enforced in one place.
type Ledger struct {
	store  Store
	oracle enrollment.Oracle
}

func NewLedger(store Store, oracle enrollment.Oracle) *Ledger {
	return &Ledger{store: store, oracle: oracle}
}

// Upsert writes a record according to the writer:
// self-scans never overwrite PRESENT or LATE, instructors may set anything and the system only
// fills in missing records. The bool reports whether the stored record changed.
func (l *Ledger) Upsert(ctx context.Context, sessionID uuid.UUID, studentID string, status model.AttendanceStatus, writer model.Writer) (model.Record, bool, error) {
	if !status.Valid() {
		return model.Record{}, false, fail(ErrInvalidStatus)
	}
	var (
		record  model.Record
		changed bool
		err     error
	)
	switch writer.Kind {
	case model.WriterSelfScan:
		record, changed, err = l.store.UpgradeAbsent(ctx, sessionID, studentID, status, writer)
	case model.WriterInstructor:
		record, err = l.store.UpsertRecord(ctx, sessionID, studentID, status, writer)
		changed = err == nil
	case model.WriterSystem:
		var created int
		created, err = l.store.InsertMissing(ctx, sessionID, []string{studentID}, status, writer)
		if err == nil {
			changed = created > 0
			record, err = l.store.GetRecord(ctx, sessionID, studentID)
		}
	default:
		return model.Record{}, false, errors.Errorf("unknown writer %q", writer.Kind)
	}
	if errors.Is(err, db.ErrNotFound) {
		return model.Record{}, false, fail(ErrSessionNotFound)
	}
	if err != nil {
		return model.Record{}, false, err
	}
	return record, changed, nil
}

// Mark is the instructor's manual entry for one student.
func (l *Ledger) Mark(ctx context.Context, actor Actor, sessionID uuid.UUID, studentID string, status model.AttendanceStatus) (model.Record, error) {
	session, err := l.session(ctx, sessionID)
	if err != nil {
		return model.Record{}, err
	}
	if err := l.authorize(ctx, actor, session.CourseCode); err != nil {
		return model.Record{}, err
	}
	enrolled, err := l.oracle.IsActiveStudent(ctx, studentID, session.CourseCode)
	if err != nil {
		return model.Record{}, errors.Wrap(err, "check student enrollment")
	}
	if !enrolled {
		return model.Record{}, fail(ErrNotEnrolled)
	}
	record, _, err := l.Upsert(ctx, sessionID, studentID, status, model.Instructor(actor.ID))
	return record, err
}

// BulkUpsert saves a whole roster. Enrolled students absent from statuses are written as
// ABSENT; supplied ids that are not enrolled are skipped and reported.
func (l *Ledger) BulkUpsert(ctx context.Context, actor Actor, sessionID uuid.UUID, statuses map[string]model.AttendanceStatus) (BulkResult, error) {
	for _, status := range statuses {
		if !status.Valid() {
			return BulkResult{}, fail(ErrInvalidStatus)
		}
	}
	session, err := l.session(ctx, sessionID)
	if err != nil {
		return BulkResult{}, err
	}
	if err := l.authorize(ctx, actor, session.CourseCode); err != nil {
		return BulkResult{}, err
	}
	roster, err := l.oracle.ActiveStudents(ctx, session.CourseCode)
	if err != nil {
		return BulkResult{}, errors.Wrap(err, "list enrolled students")
	}

	rows := make(map[string]model.AttendanceStatus, len(roster))
	for _, studentID := range roster {
		status, ok := statuses[studentID]
		if !ok {
			status = model.StatusAbsent
		}
		rows[studentID] = status
	}
	result := BulkResult{Ignored: []string{}}
	for studentID := range statuses {
		if _, ok := rows[studentID]; !ok {
			result.Ignored = append(result.Ignored, studentID)
		}
	}
	sort.Strings(result.Ignored)

	written, err := l.store.UpsertRecords(ctx, sessionID, rows, model.Instructor(actor.ID))
	if errors.Is(err, db.ErrNotFound) {
		return BulkResult{}, fail(ErrSessionNotFound)
	}
	if err != nil {
		return BulkResult{}, err
	}
	result.Written = written
	return result, nil
}

// Records lists a session's records for its instructor.
func (l *Ledger) Records(ctx context.Context, actor Actor, sessionID uuid.UUID) (model.Session, []model.Record, error) {
	session, err := l.session(ctx, sessionID)
	if err != nil {
		return model.Session{}, nil, err
	}
	if err := l.authorize(ctx, actor, session.CourseCode); err != nil {
		return model.Session{}, nil, err
	}
	records, err := l.store.ListRecords(ctx, sessionID)
	if err != nil {
		return model.Session{}, nil, err
	}
	return session, records, nil
}

// SetLocked locks or unlocks a session. Issuing the token again also unlocks it.
func (l *Ledger) SetLocked(ctx context.Context, actor Actor, sessionID uuid.UUID, locked bool) (model.Session, error) {
	session, err := l.session(ctx, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	if err := l.authorize(ctx, actor, session.CourseCode); err != nil {
		return model.Session{}, err
	}
	return l.store.SetSessionLocked(ctx, sessionID, locked)
}

func (l *Ledger) session(ctx context.Context, sessionID uuid.UUID) (model.Session, error) {
	session, err := l.store.GetSession(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return model.Session{}, fail(ErrSessionNotFound)
	}
	return session, err
}

func (l *Ledger) authorize(ctx context.Context, actor Actor, courseCode string) error {
	return authorizeCourse(ctx, l.oracle, actor, courseCode)
}

func authorizeCourse(ctx context.Context, oracle enrollment.Oracle, actor Actor, courseCode string) error {
	if actor.Superuser {
		return nil
	}
	if actor.ID == "" {
		return fail(ErrUnauthorized)
	}
	teaches, err := oracle.IsActiveInstructor(ctx, actor.ID, courseCode)
	if err != nil {
		return errors.Wrap(err, "check instructor enrollment")
	}
	if !teaches {
		return fail(ErrUnauthorized)
	}
	return nil
}
