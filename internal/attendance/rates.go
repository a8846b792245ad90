package attendance

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"rollcall/attendance/internal/enrollment"
	"rollcall/attendance/internal/model"
)

// RateVariant selects how LATE records are weighted. Callers always pass one explicitly.
type RateVariant string

const (
	// StrictRate counts PRESENT and LATE at full weight. Scan feedback and the default report
	// use it.
	StrictRate RateVariant = "strict"
	// WeightedRate counts LATE at half weight. Only the weighted course report uses it.
	WeightedRate RateVariant = "weighted"
)

func ParseRateVariant(value string) (RateVariant, bool) {
	switch RateVariant(value) {
	case "", StrictRate:
		return StrictRate, true
	case WeightedRate:
		return WeightedRate, true
	default:
		return "", false
	}
}

type Rate struct {
	StudentID     string
	CourseCode    string
	Variant       RateVariant
	Percentage    float64
	Present       int
	Late          int
	TotalSessions int
}

// Attended is the number of sessions the student attended, on time or late.
func (r Rate) Attended() int {
	return r.Present + r.Late
}

type RateCalculator struct {
	store  Store
	oracle enrollment.Oracle
}

func NewRateCalculator(store Store, oracle enrollment.Oracle) *RateCalculator {
	return &RateCalculator{store: store, oracle: oracle}
}

func (c *RateCalculator) Rate(ctx context.Context, studentID, courseCode string, variant RateVariant) (Rate, error) {
	total, err := c.store.CountSessions(ctx, courseCode)
	if err != nil {
		return Rate{}, err
	}
	counts, err := c.store.AttendanceCounts(ctx, courseCode, studentID)
	if err != nil {
		return Rate{}, err
	}
	return newRate(studentID, courseCode, variant, counts[studentID], total), nil
}

// CourseRates returns a rate for every active student of the course, ordered by student id.
func (c *RateCalculator) CourseRates(ctx context.Context, actor Actor, courseCode string, variant RateVariant) ([]Rate, error) {
	if err := authorizeCourse(ctx, c.oracle, actor, courseCode); err != nil {
		return nil, err
	}
	students, err := c.oracle.ActiveStudents(ctx, courseCode)
	if err != nil {
		return nil, errors.Wrap(err, "list enrolled students")
	}
	total, err := c.store.CountSessions(ctx, courseCode)
	if err != nil {
		return nil, err
	}
	counts, err := c.store.AttendanceCounts(ctx, courseCode, "")
	if err != nil {
		return nil, err
	}
	rates := make([]Rate, 0, len(students))
	for _, studentID := range students {
		rates = append(rates, newRate(studentID, courseCode, variant, counts[studentID], total))
	}
	return rates, nil
}

// OwnRate is the student's view of their strict rate in a course they attend.
func (c *RateCalculator) OwnRate(ctx context.Context, studentID, courseCode string) (Rate, error) {
	enrolled, err := c.oracle.IsActiveStudent(ctx, studentID, courseCode)
	if err != nil {
		return Rate{}, errors.Wrap(err, "check student enrollment")
	}
	if !enrolled {
		return Rate{}, fail(ErrNotEnrolled)
	}
	return c.Rate(ctx, studentID, courseCode, StrictRate)
}

func newRate(studentID, courseCode string, variant RateVariant, count model.AttendanceCount, total int) Rate {
	return Rate{
		StudentID:     studentID,
		CourseCode:    courseCode,
		Variant:       variant,
		Percentage:    percentage(count, total, variant),
		Present:       count.Present,
		Late:          count.Late,
		TotalSessions: total,
	}
}

// percentage is 0 when the course has no sessions.
func percentage(count model.AttendanceCount, total int, variant RateVariant) float64 {
	if total <= 0 {
		return 0
	}
	attended := float64(count.Present + count.Late)
	if variant == WeightedRate {
		attended = float64(count.Present) + 0.5*float64(count.Late)
	}
	return round2(attended / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
