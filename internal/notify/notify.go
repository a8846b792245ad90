// Package notify delivers best-effort messages to students after a scan.
package notify

import (
	"context"
	"time"

	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/metrics"
)

type Notification struct {
	UserID     string    `json:"userId"`
	Email      string    `json:"email,omitempty"`
	CourseCode string    `json:"courseCode"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// Async sends notifications on their own goroutine under a bounded timeout. Failures are logged
// and counted, never returned.
type Async struct {
	next    Dispatcher
	timeout time.Duration
	logger  logging.Logger
	metrics *metrics.Metrics
}

func NewAsync(next Dispatcher, timeout time.Duration, logger logging.Logger, m *metrics.Metrics) *Async {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Async{next: next, timeout: timeout, logger: logger, metrics: m}
}

// Send returns immediately. The returned channel is closed once delivery finished or failed.
func (a *Async) Send(n Notification) <-chan struct{} {
	done := make(chan struct{})
	if a == nil || a.next == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				a.metrics.NotifyFailure()
				a.logger.Error("notification dispatcher panicked", "user", n.UserID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, n); err != nil {
			a.metrics.NotifyFailure()
			a.logger.Warn("notification failed", "user", n.UserID, "course", n.CourseCode, "err", err)
		}
	}()
	return done
}

// Log writes notifications to the logger.
type Log struct {
	logger logging.Logger
}

func NewLog(logger logging.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, n Notification) error {
	l.logger.Info("notification", "user", n.UserID, "course", n.CourseCode, "title", n.Title, "body", n.Body)
	return nil
}
