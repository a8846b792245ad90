package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/model"
)

// Cached keeps membership answers in redis for ttl. Roster listings always go to next.
// Redis failures fall through to next.
type Cached struct {
	next   Oracle
	redis  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger logging.Logger
}

var _ Oracle = (*Cached)(nil)

func NewCached(next Oracle, client *redis.Client, ttl time.Duration, logger logging.Logger) *Cached {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Cached{next: next, redis: client, ttl: ttl, logger: logger}
}

func (c *Cached) IsActiveInstructor(ctx context.Context, userID, courseCode string) (bool, error) {
	return c.membership(ctx, model.RoleInstructor, userID, courseCode, c.next.IsActiveInstructor)
}

func (c *Cached) IsActiveStudent(ctx context.Context, userID, courseCode string) (bool, error) {
	return c.membership(ctx, model.RoleStudent, userID, courseCode, c.next.IsActiveStudent)
}

func (c *Cached) ActiveStudents(ctx context.Context, courseCode string) ([]string, error) {
	return c.next.ActiveStudents(ctx, courseCode)
}

func (c *Cached) CoursesTaught(ctx context.Context, instructorID string) ([]string, error) {
	return c.next.CoursesTaught(ctx, instructorID)
}

type lookupFunc func(ctx context.Context, userID, courseCode string) (bool, error)

func (c *Cached) membership(ctx context.Context, role model.Role, userID, courseCode string, lookup lookupFunc) (bool, error) {
	if c.redis == nil || c.ttl <= 0 {
		return lookup(ctx, userID, courseCode)
	}
	key := membershipKey(role, userID, courseCode)
	value, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		return value == "1", nil
	case err != redis.Nil:
		c.logger.Warn("enrollment cache read failed", "key", key, "err", err)
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		allowed, err := lookup(ctx, userID, courseCode)
		if err != nil {
			return false, err
		}
		flag := "0"
		if allowed {
			flag = "1"
		}
		if err := c.redis.Set(ctx, key, flag, c.ttl).Err(); err != nil {
			c.logger.Warn("enrollment cache write failed", "key", key, "err", err)
		}
		return allowed, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func membershipKey(role model.Role, userID, courseCode string) string {
	return fmt.Sprintf("enrollment:%s:%s:%s", role, courseCode, userID)
}
