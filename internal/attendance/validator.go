package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"rollcall/attendance/internal/calendar"
	"rollcall/attendance/internal/db"
	"rollcall/attendance/internal/enrollment"
	"rollcall/attendance/internal/geo"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/metrics"
	"rollcall/attendance/internal/model"
	"rollcall/attendance/internal/notify"
)

const (
	OutcomeRecorded      = "Recorded"
	OutcomeAlreadyMarked = "AlreadyMarked"
)

type ScanRequest struct {
	StudentID string
	Email     string
	Token     string
	Latitude  *float64
	Longitude *float64
}

type ScanResult struct {
	Outcome    string
	Status     model.AttendanceStatus
	SessionID  uuid.UUID
	CourseCode string
	Tier       FeedbackTier
	Message    string
	Rate       Rate
}

// Notifier sends a notification without blocking the caller.
type Notifier interface {
	Send(n notify.Notification) <-chan struct{}
}

type ValidatorConfig struct {
	// Anchors apply to sessions issued without an anchor snapshot.
	Anchors      []geo.Point
	RadiusMeters float64
}

// ScanValidator redeems check-in tokens.
type ScanValidator struct {
	store    Store
	oracle   enrollment.Oracle
	calendar *calendar.Calendar
	ledger   *Ledger
	rates    *RateCalculator
	notifier Notifier
	cfg      ValidatorConfig
	logger   logging.Logger
	metrics  *metrics.Metrics
}

func NewScanValidator(store Store, oracle enrollment.Oracle, cal *calendar.Calendar, ledger *Ledger, rates *RateCalculator, notifier Notifier, cfg ValidatorConfig, logger logging.Logger, m *metrics.Metrics) *ScanValidator {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &ScanValidator{
		store:    store,
		oracle:   oracle,
		calendar: cal,
		ledger:   ledger,
		rates:    rates,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Redeem checks the token, the student's enrollment and location, then records the student
// PRESENT. A student already PRESENT or LATE gets OutcomeAlreadyMarked with the stored status.
func (v *ScanValidator) Redeem(ctx context.Context, req ScanRequest) (ScanResult, error) {
	result, err := v.redeem(ctx, req)
	switch {
	case err == nil:
		v.metrics.Scan(result.Outcome)
	case CodeOf(err) != "":
		v.metrics.Scan(CodeOf(err))
	default:
		v.metrics.Scan("error")
	}
	return result, err
}

func (v *ScanValidator) redeem(ctx context.Context, req ScanRequest) (ScanResult, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return ScanResult{}, fail(ErrTokenNotFound)
	}
	session, err := v.store.GetSessionByToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return ScanResult{}, fail(ErrTokenNotFound)
	}
	if err != nil {
		return ScanResult{}, err
	}
	if session.Locked {
		return ScanResult{}, fail(ErrSessionLocked)
	}
	if !v.calendar.IsToday(session.Date) {
		return ScanResult{}, fail(ErrStaleToken)
	}

	enrolled, err := v.oracle.IsActiveStudent(ctx, req.StudentID, session.CourseCode)
	if err != nil {
		return ScanResult{}, errors.Wrap(err, "check student enrollment")
	}
	if !enrolled {
		return ScanResult{}, fail(ErrNotEnrolled)
	}

	if req.Latitude == nil || req.Longitude == nil {
		return ScanResult{}, fail(ErrLocationRequired)
	}
	point := geo.Point{Lat: *req.Latitude, Lon: *req.Longitude}
	if !point.Valid() {
		return ScanResult{}, fail(ErrLocationRequired)
	}
	if distance, ok := v.fence(session).Nearest(point); !ok {
		v.logger.Debug("scan outside geofence", "student", req.StudentID, "course", session.CourseCode, "distance_m", distance)
		return ScanResult{}, fail(ErrOutOfRange)
	}

	record, written, err := v.ledger.Upsert(ctx, session.ID, req.StudentID, model.StatusPresent, model.SelfScan(req.StudentID))
	if err != nil {
		return ScanResult{}, err
	}

	result := ScanResult{
		Outcome:    OutcomeRecorded,
		Status:     record.Status,
		SessionID:  session.ID,
		CourseCode: session.CourseCode,
	}
	rate, err := v.rates.Rate(ctx, req.StudentID, session.CourseCode, StrictRate)
	if err != nil {
		// The record is committed; feedback is informational.
		v.logger.Warn("scan feedback rate unavailable", "student", req.StudentID, "course", session.CourseCode, "err", err)
		rate = Rate{StudentID: req.StudentID, CourseCode: session.CourseCode, Variant: StrictRate}
	}
	result.Rate = rate

	if !written {
		result.Outcome = OutcomeAlreadyMarked
		result.Message = fmt.Sprintf(alreadyMarkedTemplate, session.CourseCode, record.Status)
		return result, nil
	}

	result.Tier = TierFor(rate.Percentage)
	result.Message = feedbackMessage(result.Tier, session.CourseCode, rate.Percentage)
	if v.notifier != nil {
		v.notifier.Send(notify.Notification{
			UserID:     req.StudentID,
			Email:      req.Email,
			CourseCode: session.CourseCode,
			Title:      "Attendance recorded",
			Body:       result.Message,
			CreatedAt:  time.Now().UTC(),
		})
	}
	return result, nil
}

func (v *ScanValidator) fence(session model.Session) geo.Fence {
	anchors := session.Anchors
	if len(anchors) == 0 {
		anchors = v.cfg.Anchors
	}
	return geo.Fence{Anchors: anchors, RadiusMeters: v.cfg.RadiusMeters}
}
