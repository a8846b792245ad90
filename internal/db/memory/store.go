// Package memory is an in-process store with the same semantics as the Postgres store. It backs
// tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/attendance/internal/db"
	"rollcall/attendance/internal/model"
)

type sessionKey struct {
	course string
	date   string
}

type recordKey struct {
	session uuid.UUID
	student string
}

type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.Session
	byDay    map[sessionKey]uuid.UUID
	byToken  map[string]uuid.UUID
	records  map[recordKey]*model.Record
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*model.Session),
		byDay:    make(map[sessionKey]uuid.UUID),
		byToken:  make(map[string]uuid.UUID),
		records:  make(map[recordKey]*model.Record),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func dayKey(course string, date time.Time) sessionKey {
	return sessionKey{course: course, date: date.Format("2006-01-02")}
}

func (s *Store) IssueSession(_ context.Context, in model.Session) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := dayKey(in.CourseCode, in.Date)
	if id, ok := s.byDay[key]; ok {
		existing := s.sessions[id]
		if existing.Token == "" && in.Token != "" {
			if _, taken := s.byToken[in.Token]; taken {
				return model.Session{}, db.ErrConflict
			}
			existing.Token = in.Token
			s.byToken[in.Token] = id
		}
		existing.Locked = false
		existing.UpdatedAt = now
		return copySession(existing), nil
	}
	if in.Token != "" {
		if _, taken := s.byToken[in.Token]; taken {
			return model.Session{}, db.ErrConflict
		}
	}

	session := in
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.Date = time.Date(in.Date.Year(), in.Date.Month(), in.Date.Day(), 0, 0, 0, 0, time.UTC)
	session.Locked = false
	session.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[session.ID] = &session
	s.byDay[key] = session.ID
	if session.Token != "" {
		s.byToken[session.Token] = session.ID
	}
	return copySession(&session), nil
}

func (s *Store) GetSession(_ context.Context, id uuid.UUID) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return model.Session{}, db.ErrNotFound
	}
	return copySession(session), nil
}

func (s *Store) GetSessionByToken(_ context.Context, token string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byToken[token]
	if !ok {
		return model.Session{}, db.ErrNotFound
	}
	return copySession(s.sessions[id]), nil
}

func (s *Store) SetSessionLocked(_ context.Context, id uuid.UUID, locked bool) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return model.Session{}, db.ErrNotFound
	}
	session.Locked = locked
	session.UpdatedAt = s.now()
	return copySession(session), nil
}

func (s *Store) ListPastSessions(_ context.Context, day time.Time, all bool, courses []string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := make(map[string]bool, len(courses))
	for _, c := range courses {
		allowed[c] = true
	}
	cutoff := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	var out []model.Session
	for _, session := range s.sessions {
		if !session.Date.Before(cutoff) {
			continue
		}
		if !all && !allowed[session.CourseCode] {
			continue
		}
		out = append(out, copySession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CourseCode < out[j].CourseCode
	})
	return out, nil
}

func (s *Store) CountSessions(_ context.Context, courseCode string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, session := range s.sessions {
		if session.CourseCode == courseCode {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpgradeAbsent(_ context.Context, sessionID uuid.UUID, studentID string, status model.AttendanceStatus, writer model.Writer) (model.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return model.Record{}, false, db.ErrNotFound
	}
	key := recordKey{session: sessionID, student: studentID}
	if existing, ok := s.records[key]; ok && existing.Status != model.StatusAbsent {
		return *existing, false, nil
	}
	return s.put(key, status, writer), true, nil
}

func (s *Store) UpsertRecord(_ context.Context, sessionID uuid.UUID, studentID string, status model.AttendanceStatus, writer model.Writer) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return model.Record{}, db.ErrNotFound
	}
	return s.put(recordKey{session: sessionID, student: studentID}, status, writer), nil
}

func (s *Store) UpsertRecords(_ context.Context, sessionID uuid.UUID, statuses map[string]model.AttendanceStatus, writer model.Writer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return 0, db.ErrNotFound
	}
	for studentID, status := range statuses {
		s.put(recordKey{session: sessionID, student: studentID}, status, writer)
	}
	return len(statuses), nil
}

func (s *Store) InsertMissing(_ context.Context, sessionID uuid.UUID, studentIDs []string, status model.AttendanceStatus, writer model.Writer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return 0, db.ErrNotFound
	}
	created := 0
	for _, studentID := range studentIDs {
		key := recordKey{session: sessionID, student: studentID}
		if _, ok := s.records[key]; ok {
			continue
		}
		s.put(key, status, writer)
		created++
	}
	return created, nil
}

func (s *Store) GetRecord(_ context.Context, sessionID uuid.UUID, studentID string) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordKey{session: sessionID, student: studentID}]
	if !ok {
		return model.Record{}, db.ErrNotFound
	}
	return *record, nil
}

func (s *Store) ListRecords(_ context.Context, sessionID uuid.UUID) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Record
	for key, record := range s.records {
		if key.session == sessionID {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *Store) AttendanceCounts(_ context.Context, courseCode, studentID string) (map[string]model.AttendanceCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]model.AttendanceCount)
	for key, record := range s.records {
		if studentID != "" && key.student != studentID {
			continue
		}
		if s.sessions[key.session].CourseCode != courseCode {
			continue
		}
		c := counts[key.student]
		switch record.Status {
		case model.StatusPresent:
			c.Present++
		case model.StatusLate:
			c.Late++
		}
		counts[key.student] = c
	}
	return counts, nil
}

// put must be called with mu held.
func (s *Store) put(key recordKey, status model.AttendanceStatus, writer model.Writer) model.Record {
	now := s.now()
	record, ok := s.records[key]
	if !ok {
		record = &model.Record{
			ID:        uuid.New(),
			SessionID: key.session,
			StudentID: key.student,
			CreatedAt: now,
		}
		s.records[key] = record
	}
	record.Status = status
	record.Writer = writer
	record.UpdatedAt = now
	return *record
}

func copySession(s *model.Session) model.Session {
	out := *s
	if s.Anchors != nil {
		out.Anchors = append(out.Anchors[:0:0], s.Anchors...)
	}
	return out
}
