package attendance

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"rollcall/attendance/internal/calendar"
	"rollcall/attendance/internal/db"
	"rollcall/attendance/internal/enrollment"
	"rollcall/attendance/internal/geo"
	"rollcall/attendance/internal/metrics"
	"rollcall/attendance/internal/model"
)

const issueAttempts = 3

type Issued struct {
	Token      string
	SessionID  uuid.UUID
	CourseCode string
	Date       time.Time
	ExpiresAt  time.Time
}

// TokenIssuer hands out the daily check-in token of a course.
type TokenIssuer struct {
	sessions SessionStore
	oracle   enrollment.Oracle
	calendar *calendar.Calendar
	anchors  []geo.Point
	metrics  *metrics.Metrics
	newToken func() (string, error)
}

func NewTokenIssuer(sessions SessionStore, oracle enrollment.Oracle, cal *calendar.Calendar, anchors []geo.Point, m *metrics.Metrics) *TokenIssuer {
	return &TokenIssuer{
		sessions: sessions,
		oracle:   oracle,
		calendar: cal,
		anchors:  anchors,
		metrics:  m,
		newToken: randomToken,
	}
}

// IssueToken returns today's token for the course, creating the session on first request.
// Repeated calls return the same token and unlock the session.
func (t *TokenIssuer) IssueToken(ctx context.Context, instructorID, courseCode string) (Issued, error) {
	courseCode = strings.TrimSpace(courseCode)
	if courseCode == "" {
		return Issued{}, fail(ErrInvalidCourse)
	}
	teaches, err := t.oracle.IsActiveInstructor(ctx, instructorID, courseCode)
	if err != nil {
		t.metrics.Issuance("error")
		return Issued{}, errors.Wrap(err, "check instructor enrollment")
	}
	if !teaches {
		t.metrics.Issuance("unauthorized")
		return Issued{}, fail(ErrUnauthorized)
	}

	today := t.calendar.Today()
	for attempt := 0; attempt < issueAttempts; attempt++ {
		token, err := t.newToken()
		if err != nil {
			t.metrics.Issuance("error")
			return Issued{}, errors.Wrap(err, "generate token")
		}
		session, err := t.sessions.IssueSession(ctx, model.Session{
			ID:         uuid.New(),
			CourseCode: courseCode,
			Date:       today,
			Token:      token,
			Anchors:    t.anchors,
			IssuedBy:   instructorID,
		})
		if errors.Is(err, db.ErrConflict) {
			continue
		}
		if err != nil {
			t.metrics.Issuance("error")
			return Issued{}, err
		}
		t.metrics.Issuance("ok")
		return Issued{
			Token:      session.Token,
			SessionID:  session.ID,
			CourseCode: session.CourseCode,
			Date:       session.Date,
			ExpiresAt:  t.calendar.EndOfDay(session.Date),
		}, nil
	}
	t.metrics.Issuance("error")
	return Issued{}, fail(ErrTokenCollision)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
