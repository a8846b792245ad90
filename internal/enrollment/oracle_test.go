package enrollment

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance/internal/model"
)

func TestStaticFilters(t *testing.T) {
	ctx := context.Background()
	oracle := NewStatic("2024/2025",
		model.EnrollmentFact{UserID: "prof", CourseCode: "GEO101", Role: model.RoleInstructor, IsActive: true, AcademicYear: "2024/2025"},
		model.EnrollmentFact{UserID: "a", CourseCode: "GEO101", Role: model.RoleStudent, IsActive: true, AcademicYear: "2024/2025"},
		model.EnrollmentFact{UserID: "c", CourseCode: "GEO101", Role: model.RoleStudent, IsActive: true, AcademicYear: "2024/2025"},
		model.EnrollmentFact{UserID: "dropped", CourseCode: "GEO101", Role: model.RoleStudent, IsActive: false, AcademicYear: "2024/2025"},
		model.EnrollmentFact{UserID: "old", CourseCode: "GEO101", Role: model.RoleStudent, IsActive: true, AcademicYear: "2023/2024"},
	)

	ok, err := oracle.IsActiveInstructor(ctx, "prof", "GEO101")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = oracle.IsActiveInstructor(ctx, "a", "GEO101")
	assert.False(t, ok, "students do not teach")

	ok, _ = oracle.IsActiveStudent(ctx, "dropped", "GEO101")
	assert.False(t, ok, "inactive enrollment")

	ok, _ = oracle.IsActiveStudent(ctx, "old", "GEO101")
	assert.False(t, ok, "previous academic year")

	students, err := oracle.ActiveStudents(ctx, "GEO101")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, students)

	courses, err := oracle.CoursesTaught(ctx, "prof")
	require.NoError(t, err)
	assert.Equal(t, []string{"GEO101"}, courses)
}

func TestStaticPutReplaces(t *testing.T) {
	ctx := context.Background()
	oracle := NewStatic("")
	oracle.Put(model.EnrollmentFact{UserID: "a", CourseCode: "GEO101", Role: model.RoleStudent, IsActive: true})
	oracle.Put(model.EnrollmentFact{UserID: "a", CourseCode: "GEO101", Role: model.RoleStudent, IsActive: false})

	ok, _ := oracle.IsActiveStudent(ctx, "a", "GEO101")
	assert.False(t, ok)
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enrollments.json")
	body := `[{"userId":"a","courseCode":"GEO101","role":"STUDENT","isActive":true,"academicYear":"2024/2025"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	oracle, err := LoadStatic(path, "")
	require.NoError(t, err)
	ok, _ := oracle.IsActiveStudent(context.Background(), "a", "GEO101")
	assert.True(t, ok)
}

type slowOracle struct {
	Static
}

func (s *slowOracle) IsActiveStudent(ctx context.Context, _, _ string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(time.Second):
		return true, nil
	}
}

func TestTimeoutBoundsCalls(t *testing.T) {
	oracle := WithTimeout(&slowOracle{}, 20*time.Millisecond)
	start := time.Now()
	_, err := oracle.IsActiveStudent(context.Background(), "a", "GEO101")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCachedWithoutRedisDelegates(t *testing.T) {
	static := NewStatic("", model.EnrollmentFact{UserID: "a", CourseCode: "GEO101", Role: model.RoleStudent, IsActive: true})
	cached := NewCached(static, nil, time.Minute, nil)
	ok, err := cached.IsActiveStudent(context.Background(), "a", "GEO101")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "enrollment:STUDENT:GEO101:a", membershipKey(model.RoleStudent, "a", "GEO101"))
}
