// Package enrollment answers who may teach or attend a course. The registry data is owned by
// an external system; everything here is read-only.
package enrollment

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"rollcall/attendance/internal/model"
)

type Oracle interface {
	IsActiveInstructor(ctx context.Context, userID, courseCode string) (bool, error)
	IsActiveStudent(ctx context.Context, userID, courseCode string) (bool, error)
	// ActiveStudents lists the ids of every active student of the course.
	ActiveStudents(ctx context.Context, courseCode string) ([]string, error)
	// CoursesTaught lists the courses the user actively teaches.
	CoursesTaught(ctx context.Context, instructorID string) ([]string, error)
}

// Static serves facts held in memory.
type Static struct {
	mu           sync.RWMutex
	facts        []model.EnrollmentFact
	academicYear string
}

var _ Oracle = (*Static)(nil)

func NewStatic(academicYear string, facts ...model.EnrollmentFact) *Static {
	return &Static{facts: facts, academicYear: academicYear}
}

// LoadStatic reads a JSON array of facts from path.
func LoadStatic(path, academicYear string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		UserID       string `json:"userId"`
		CourseCode   string `json:"courseCode"`
		Role         string `json:"role"`
		IsActive     bool   `json:"isActive"`
		AcademicYear string `json:"academicYear"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	facts := make([]model.EnrollmentFact, 0, len(raw))
	for _, r := range raw {
		facts = append(facts, model.EnrollmentFact{
			UserID:       r.UserID,
			CourseCode:   r.CourseCode,
			Role:         model.Role(r.Role),
			IsActive:     r.IsActive,
			AcademicYear: r.AcademicYear,
		})
	}
	return NewStatic(academicYear, facts...), nil
}

// Put adds or replaces the fact for (user, course, role).
func (s *Static) Put(fact model.EnrollmentFact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.facts {
		if existing.UserID == fact.UserID && existing.CourseCode == fact.CourseCode && existing.Role == fact.Role {
			s.facts[i] = fact
			return
		}
	}
	s.facts = append(s.facts, fact)
}

func (s *Static) current(f model.EnrollmentFact) bool {
	return f.IsActive && (s.academicYear == "" || f.AcademicYear == s.academicYear)
}

func (s *Static) has(userID, courseCode string, role model.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.facts {
		if f.UserID == userID && f.CourseCode == courseCode && f.Role == role && s.current(f) {
			return true
		}
	}
	return false
}

func (s *Static) IsActiveInstructor(_ context.Context, userID, courseCode string) (bool, error) {
	return s.has(userID, courseCode, model.RoleInstructor), nil
}

func (s *Static) IsActiveStudent(_ context.Context, userID, courseCode string) (bool, error) {
	return s.has(userID, courseCode, model.RoleStudent), nil
}

func (s *Static) ActiveStudents(_ context.Context, courseCode string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, f := range s.facts {
		if f.CourseCode != courseCode || f.Role != model.RoleStudent || !s.current(f) {
			continue
		}
		if _, ok := seen[f.UserID]; ok {
			continue
		}
		seen[f.UserID] = struct{}{}
		out = append(out, f.UserID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Static) CoursesTaught(_ context.Context, instructorID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, f := range s.facts {
		if f.UserID != instructorID || f.Role != model.RoleInstructor || !s.current(f) {
			continue
		}
		if _, ok := seen[f.CourseCode]; ok {
			continue
		}
		seen[f.CourseCode] = struct{}{}
		out = append(out, f.CourseCode)
	}
	sort.Strings(out)
	return out, nil
}

// Timeout bounds every registry call.
type Timeout struct {
	next    Oracle
	timeout time.Duration
}

var _ Oracle = (*Timeout)(nil)

func WithTimeout(next Oracle, timeout time.Duration) *Timeout {
	return &Timeout{next: next, timeout: timeout}
}

func (t *Timeout) IsActiveInstructor(ctx context.Context, userID, courseCode string) (bool, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.IsActiveInstructor(ctx, userID, courseCode)
}

func (t *Timeout) IsActiveStudent(ctx context.Context, userID, courseCode string) (bool, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.IsActiveStudent(ctx, userID, courseCode)
}

func (t *Timeout) ActiveStudents(ctx context.Context, courseCode string) ([]string, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.ActiveStudents(ctx, courseCode)
}

func (t *Timeout) CoursesTaught(ctx context.Context, instructorID string) ([]string, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.CoursesTaught(ctx, instructorID)
}

func (t *Timeout) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}
