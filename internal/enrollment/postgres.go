package enrollment

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"rollcall/attendance/internal/model"
)

// Registry reads the registry's enrollments table.
type Registry struct {
	pool         *pgxpool.Pool
	academicYear string
}

var _ Oracle = (*Registry)(nil)

func NewRegistry(pool *pgxpool.Pool, academicYear string) *Registry {
	return &Registry{pool: pool, academicYear: academicYear}
}

func (r *Registry) has(ctx context.Context, userID, courseCode string, role model.Role) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
    SELECT EXISTS (
      SELECT 1 FROM enrollments
      WHERE user_id = $1 AND course_code = $2 AND role = $3 AND is_active
        AND ($4::text = '' OR academic_year = $4)
    )
  `, userID, courseCode, string(role), r.academicYear).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "enrollment lookup")
	}
	return exists, nil
}

func (r *Registry) IsActiveInstructor(ctx context.Context, userID, courseCode string) (bool, error) {
	return r.has(ctx, userID, courseCode, model.RoleInstructor)
}

func (r *Registry) IsActiveStudent(ctx context.Context, userID, courseCode string) (bool, error) {
	return r.has(ctx, userID, courseCode, model.RoleStudent)
}

func (r *Registry) ActiveStudents(ctx context.Context, courseCode string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
    SELECT DISTINCT user_id FROM enrollments
    WHERE course_code = $1 AND role = $2 AND is_active
      AND ($3::text = '' OR academic_year = $3)
    ORDER BY user_id
  `, courseCode, string(model.RoleStudent), r.academicYear)
	if err != nil {
		return nil, errors.Wrap(err, "list active students")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan active students")
	}
	return ids, nil
}

func (r *Registry) CoursesTaught(ctx context.Context, instructorID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
    SELECT DISTINCT course_code FROM enrollments
    WHERE user_id = $1 AND role = $2 AND is_active
      AND ($3::text = '' OR academic_year = $3)
    ORDER BY course_code
  `, instructorID, string(model.RoleInstructor), r.academicYear)
	if err != nil {
		return nil, errors.Wrap(err, "list taught courses")
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan taught courses")
	}
	return codes, nil
}
