package attendance

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"rollcall/attendance/internal/calendar"
	"rollcall/attendance/internal/enrollment"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/metrics"
	"rollcall/attendance/internal/model"
)

const defaultReconcileParallelism = 4

type Scope struct {
	Actor Actor
	// All extends the sweep to every course. It requires a superuser actor.
	All bool
}

type ReconcileResult struct {
	SessionsProcessed int
	RecordsCreated    int
	SessionsFailed    int
}

// Reconciler marks enrolled students without a record for a past session as ABSENT.
type Reconciler struct {
	store       Store
	oracle      enrollment.Oracle
	calendar    *calendar.Calendar
	logger      logging.Logger
	metrics     *metrics.Metrics
	parallelism int
}

func NewReconciler(store Store, oracle enrollment.Oracle, cal *calendar.Calendar, logger logging.Logger, m *metrics.Metrics) *Reconciler {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Reconciler{
		store:       store,
		oracle:      oracle,
		calendar:    cal,
		logger:      logger,
		metrics:     m,
		parallelism: defaultReconcileParallelism,
	}
}

// Reconcile sweeps sessions dated strictly before today. Existing records are never touched
// and a failing session does not stop the sweep.
func (r *Reconciler) Reconcile(ctx context.Context, scope Scope) (ReconcileResult, error) {
	if scope.All && !scope.Actor.Superuser {
		return ReconcileResult{}, fail(ErrUnauthorized)
	}
	var courses []string
	if !scope.All {
		if scope.Actor.ID == "" {
			return ReconcileResult{}, fail(ErrUnauthorized)
		}
		taught, err := r.oracle.CoursesTaught(ctx, scope.Actor.ID)
		if err != nil {
			return ReconcileResult{}, errors.Wrap(err, "list taught courses")
		}
		if len(taught) == 0 {
			return ReconcileResult{}, nil
		}
		courses = taught
	}

	sessions, err := r.store.ListPastSessions(ctx, r.calendar.Today(), scope.All, courses)
	if err != nil {
		return ReconcileResult{}, err
	}

	rosters := newRosterCache(r.oracle)
	var (
		mu     sync.Mutex
		result ReconcileResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, session := range sessions {
		session := session
		g.Go(func() error {
			created, err := r.reconcileSession(gctx, rosters, session)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.SessionsFailed++
				r.metrics.BackfillSession("failed", 0)
				r.logger.Error("reconcile session failed", "session", session.ID, "course", session.CourseCode, "err", err)
				return nil
			}
			result.SessionsProcessed++
			result.RecordsCreated += created
			r.metrics.BackfillSession("ok", created)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("reconciliation finished",
		"all", scope.All,
		"actor", scope.Actor.ID,
		"processed", result.SessionsProcessed,
		"created", result.RecordsCreated,
		"failed", result.SessionsFailed,
	)
	return result, ctx.Err()
}

func (r *Reconciler) reconcileSession(ctx context.Context, rosters *rosterCache, session model.Session) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	roster, err := rosters.get(ctx, session.CourseCode)
	if err != nil {
		return 0, errors.Wrap(err, "list enrolled students")
	}
	records, err := r.store.ListRecords(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	recorded := make(map[string]bool, len(records))
	for _, record := range records {
		recorded[record.StudentID] = true
	}
	var missing []string
	for _, studentID := range roster {
		if !recorded[studentID] {
			missing = append(missing, studentID)
		}
	}
	return r.store.InsertMissing(ctx, session.ID, missing, model.StatusAbsent, model.System())
}

// rosterCache loads each course roster once per sweep.
type rosterCache struct {
	oracle enrollment.Oracle
	mu     sync.Mutex
	cache  map[string]*rosterEntry
}

type rosterEntry struct {
	once     sync.Once
	students []string
	err      error
}

func newRosterCache(oracle enrollment.Oracle) *rosterCache {
	return &rosterCache{oracle: oracle, cache: make(map[string]*rosterEntry)}
}

func (c *rosterCache) get(ctx context.Context, courseCode string) ([]string, error) {
	c.mu.Lock()
	entry, ok := c.cache[courseCode]
	if !ok {
		entry = &rosterEntry{}
		c.cache[courseCode] = entry
	}
	c.mu.Unlock()
	entry.once.Do(func() {
		entry.students, entry.err = c.oracle.ActiveStudents(ctx, courseCode)
	})
	return entry.students, entry.err
}
