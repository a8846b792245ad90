// Package calendar computes institutional calendar days. Token issuance, redemption and
// reconciliation all derive "today" from the same Calendar so the day boundary cannot drift.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// New builds a calendar on a fixed UTC offset such as "+05:00" or "-03:30".
func New(offset string) (*Calendar, error) {
	seconds, err := ParseOffset(offset)
	if err != nil {
		return nil, err
	}
	return &Calendar{
		loc: time.FixedZone("institution", seconds),
		now: time.Now,
	}, nil
}

// WithClock returns a copy reading the current time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	cp := *c
	cp.now = now
	return &cp
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the current institutional day as a UTC midnight date value.
func (c *Calendar) Today() time.Time {
	return c.DayOf(c.now())
}

// DayOf returns the institutional day containing t as a UTC midnight date value.
func (c *Calendar) DayOf(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last instant of day in institutional time.
func (c *Calendar) EndOfDay(day time.Time) time.Time {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
	return start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func (c *Calendar) IsToday(day time.Time) bool {
	return SameDay(day, c.Today())
}

// IsPast reports whether day is strictly before today.
func (c *Calendar) IsPast(day time.Time) bool {
	return Normalize(day).Before(c.Today())
}

// Normalize drops any clock and zone information from a date value.
func Normalize(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

func SameDay(a, b time.Time) bool {
	return Normalize(a).Equal(Normalize(b))
}

func Format(day time.Time) string {
	return day.Format(DateLayout)
}

var errInvalidOffset = errors.New("invalid utc offset")

// ParseOffset turns "+HH:MM", "-HH:MM", "+HH" or "Z" into seconds east of UTC.
func ParseOffset(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "Z" || strings.EqualFold(value, "UTC") {
		return 0, nil
	}
	sign := 1
	switch value[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, errInvalidOffset
	}
	parts := strings.SplitN(value[1:], ":", 2)
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours > 14 {
		return 0, fmt.Errorf("%w: %q", errInvalidOffset, value)
	}
	minutes := 0
	if len(parts) == 2 {
		minutes, err = strconv.Atoi(parts[1])
		if err != nil || minutes >= 60 {
			return 0, fmt.Errorf("%w: %q", errInvalidOffset, value)
		}
	}
	return sign * (hours*3600 + minutes*60), nil
}
