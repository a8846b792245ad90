package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance/internal/db"
	"rollcall/attendance/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIssueSessionKeepsFirstToken(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	first, err := store.IssueSession(ctx, model.Session{ID: uuid.New(), CourseCode: "GEO101", Date: day(2024, 10, 1), Token: "t1"})
	require.NoError(t, err)
	_, err = store.SetSessionLocked(ctx, first.ID, true)
	require.NoError(t, err)

	second, err := store.IssueSession(ctx, model.Session{ID: uuid.New(), CourseCode: "GEO101", Date: day(2024, 10, 1), Token: "t2"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "t1", second.Token)
	assert.False(t, second.Locked)

	_, err = store.GetSessionByToken(ctx, "t2")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestUpgradeAbsentNeverDowngrades(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	session, err := store.IssueSession(ctx, model.Session{CourseCode: "GEO101", Date: day(2024, 10, 1), Token: "t"})
	require.NoError(t, err)

	_, err = store.UpsertRecord(ctx, session.ID, "a", model.StatusLate, model.Instructor("prof"))
	require.NoError(t, err)

	record, written, err := store.UpgradeAbsent(ctx, session.ID, "a", model.StatusPresent, model.SelfScan("a"))
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, model.StatusLate, record.Status)

	_, err = store.UpsertRecord(ctx, session.ID, "b", model.StatusAbsent, model.System())
	require.NoError(t, err)
	record, written, err = store.UpgradeAbsent(ctx, session.ID, "b", model.StatusPresent, model.SelfScan("b"))
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, model.StatusPresent, record.Status)
}

func TestConcurrentUpgradeWritesOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	session, err := store.IssueSession(ctx, model.Session{CourseCode: "GEO101", Date: day(2024, 10, 1), Token: "t"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	writes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, written, err := store.UpgradeAbsent(ctx, session.ID, "a", model.StatusPresent, model.SelfScan("a"))
			if err == nil && written {
				mu.Lock()
				writes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, writes)
	records, err := store.ListRecords(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestInsertMissingSkipsExisting(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	session, err := store.IssueSession(ctx, model.Session{CourseCode: "GEO101", Date: day(2024, 10, 1), Token: "t"})
	require.NoError(t, err)
	_, err = store.UpsertRecord(ctx, session.ID, "a", model.StatusPresent, model.SelfScan("a"))
	require.NoError(t, err)

	created, err := store.InsertMissing(ctx, session.ID, []string{"a", "b", "c"}, model.StatusAbsent, model.System())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	record, err := store.GetRecord(ctx, session.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPresent, record.Status)

	_, err = store.InsertMissing(ctx, uuid.New(), []string{"a"}, model.StatusAbsent, model.System())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestListPastSessionsFiltersByCourse(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	for _, s := range []model.Session{
		{CourseCode: "GEO101", Date: day(2024, 10, 1), Token: "a"},
		{CourseCode: "MTH201", Date: day(2024, 10, 1), Token: "b"},
		{CourseCode: "GEO101", Date: day(2024, 10, 3), Token: "c"},
	} {
		_, err := store.IssueSession(ctx, s)
		require.NoError(t, err)
	}

	past, err := store.ListPastSessions(ctx, day(2024, 10, 3), false, []string{"GEO101"})
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, "GEO101", past[0].CourseCode)

	past, err = store.ListPastSessions(ctx, day(2024, 10, 3), true, nil)
	require.NoError(t, err)
	assert.Len(t, past, 2)

	past, err = store.ListPastSessions(ctx, day(2024, 10, 3), false, nil)
	require.NoError(t, err)
	assert.Empty(t, past)
}
