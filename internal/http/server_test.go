package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/auth"
	"rollcall/attendance/internal/calendar"
	"rollcall/attendance/internal/config"
	"rollcall/attendance/internal/db"
	"rollcall/attendance/internal/db/memory"
	"rollcall/attendance/internal/enrollment"
	"rollcall/attendance/internal/geo"
	"rollcall/attendance/internal/metrics"
	"rollcall/attendance/internal/model"
)

const (
	course       = "GEO101"
	instructorID = "prof-1"
	studentA     = "student-a"
	studentB     = "student-b"
	studentC     = "student-c"
)

var campus = geo.Point{Lat: 41.3111, Lon: 69.2797}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:            "test-secret",
		JWTIssuer:            "test-issuer",
		GeofenceRadiusMeters: 400,
	}
}

func newTestServer(t *testing.T, store attendance.Store, oracle enrollment.Oracle) (*httptest.Server, config.Config) {
	t.Helper()
	cfg := testConfig()
	cal, err := calendar.New("+05:00")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	registry := prometheus.NewRegistry()
	svc := attendance.NewService(attendance.Deps{
		Store:        store,
		Oracle:       oracle,
		Calendar:     cal,
		Anchors:      []geo.Point{campus},
		RadiusMeters: cfg.GeofenceRadiusMeters,
		Metrics:      metrics.New(registry),
	})
	app := httptest.NewServer(NewServer(cfg, svc, nil, registry).Router())
	t.Cleanup(app.Close)
	return app, cfg
}

func staticOracle() *enrollment.Static {
	return enrollment.NewStatic("",
		model.EnrollmentFact{UserID: instructorID, CourseCode: course, Role: model.RoleInstructor, IsActive: true},
		model.EnrollmentFact{UserID: studentA, CourseCode: course, Role: model.RoleStudent, IsActive: true},
		model.EnrollmentFact{UserID: studentC, CourseCode: course, Role: model.RoleStudent, IsActive: true},
	)
}

func mustToken(t *testing.T, cfg config.Config, userID, userType string, capabilities ...string) string {
	t.Helper()
	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, 10*time.Minute, auth.Claims{
		UserID:       userID,
		UserType:     userType,
		Capabilities: capabilities,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != code {
		t.Fatalf("expected error %s, got %s", code, body.Error)
	}
}

func scanBody(token string, at *geo.Point) map[string]interface{} {
	body := map[string]interface{}{"qrToken": token}
	if at != nil {
		body["latitude"] = at.Lat
		body["longitude"] = at.Lon
	}
	return body
}

func TestGenerateAndScan(t *testing.T) {
	app, cfg := newTestServer(t, memory.NewStore(), staticOracle())
	instructorToken := mustToken(t, cfg, instructorID, auth.UserTypeInstructor)
	studentAToken := mustToken(t, cfg, studentA, auth.UserTypeStudent)
	studentBToken := mustToken(t, cfg, studentB, auth.UserTypeStudent)

	resp := doReq(t, http.MethodPost, app.URL+"/attendance/generate", instructorToken, map[string]string{"courseCode": course})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var generated generateResponse
	decodeBody(t, resp, &generated)
	if generated.QRToken == "" || generated.SessionID == "" || generated.ExpiresAt == "" {
		t.Fatalf("incomplete generate response: %+v", generated)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/generate", instructorToken, map[string]string{"courseCode": course})
	var again generateResponse
	decodeBody(t, resp, &again)
	if again.QRToken != generated.QRToken {
		t.Fatalf("expected idempotent token")
	}

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/generate", studentAToken, map[string]string{"courseCode": course})
	expectError(t, resp, http.StatusForbidden, attendance.ErrUnauthorized)

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentAToken, scanBody(generated.QRToken, &campus))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var scanned scanResponse
	decodeBody(t, resp, &scanned)
	if scanned.Code != "" || scanned.Status != "PRESENT" || scanned.CourseCode != course {
		t.Fatalf("unexpected scan response: %+v", scanned)
	}
	if scanned.Stats.AttendanceRate != 100 || scanned.Stats.TotalPresent != 1 || scanned.Stats.TotalSessions != 1 {
		t.Fatalf("unexpected stats: %+v", scanned.Stats)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentAToken, scanBody(generated.QRToken, &campus))
	var marked scanResponse
	decodeBody(t, resp, &marked)
	if marked.Code != attendance.OutcomeAlreadyMarked || marked.Status != "PRESENT" {
		t.Fatalf("expected AlreadyMarked PRESENT, got %+v", marked)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentBToken, scanBody(generated.QRToken, &campus))
	expectError(t, resp, http.StatusForbidden, attendance.ErrNotEnrolled)
}

func TestScanFailureCodes(t *testing.T) {
	app, cfg := newTestServer(t, memory.NewStore(), staticOracle())
	instructorToken := mustToken(t, cfg, instructorID, auth.UserTypeInstructor)
	studentToken := mustToken(t, cfg, studentC, auth.UserTypeStudent)

	resp := doReq(t, http.MethodPost, app.URL+"/attendance/generate", instructorToken, map[string]string{"courseCode": course})
	var generated generateResponse
	decodeBody(t, resp, &generated)

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentToken, scanBody("unknown", &campus))
	expectError(t, resp, http.StatusNotFound, attendance.ErrTokenNotFound)

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentToken, scanBody(generated.QRToken, nil))
	expectError(t, resp, http.StatusBadRequest, attendance.ErrLocationRequired)

	far := geo.Point{Lat: 41.40, Lon: 69.2797}
	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentToken, scanBody(generated.QRToken, &far))
	expectError(t, resp, http.StatusForbidden, attendance.ErrOutOfRange)

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/sessions/"+generated.SessionID+"/lock", instructorToken, map[string]bool{"locked": true})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentToken, scanBody(generated.QRToken, &campus))
	expectError(t, resp, http.StatusForbidden, attendance.ErrSessionLocked)

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", instructorToken, scanBody(generated.QRToken, &campus))
	expectError(t, resp, http.StatusForbidden, "forbidden")

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentToken, map[string]interface{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStaleTokenRejected(t *testing.T) {
	store := memory.NewStore()
	yesterday := time.Now().In(time.FixedZone("institution", 5*3600)).AddDate(0, 0, -1)
	session, err := store.IssueSession(context.Background(), model.Session{
		ID:         uuid.New(),
		CourseCode: course,
		Date:       time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC),
		Token:      "yesterdays-token",
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	app, cfg := newTestServer(t, store, staticOracle())

	resp := doReq(t, http.MethodPost, app.URL+"/attendance/scan", mustToken(t, cfg, studentA, auth.UserTypeStudent), scanBody(session.Token, &campus))
	expectError(t, resp, http.StatusBadRequest, attendance.ErrStaleToken)
}

func TestAuthErrors(t *testing.T) {
	app, cfg := newTestServer(t, memory.NewStore(), staticOracle())

	resp := doReq(t, http.MethodPost, app.URL+"/attendance/generate", "", map[string]string{"courseCode": course})
	expectError(t, resp, http.StatusUnauthorized, "missing_token")

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/generate", "not-a-jwt", map[string]string{"courseCode": course})
	expectError(t, resp, http.StatusUnauthorized, "invalid_token")

	other := cfg
	other.JWTSecret = "other-secret"
	resp = doReq(t, http.MethodPost, app.URL+"/attendance/generate", mustToken(t, other, instructorID, auth.UserTypeInstructor), map[string]string{"courseCode": course})
	expectError(t, resp, http.StatusUnauthorized, "invalid_token")
}

func TestRecordsBulkAndRates(t *testing.T) {
	app, cfg := newTestServer(t, memory.NewStore(), staticOracle())
	instructorToken := mustToken(t, cfg, instructorID, auth.UserTypeInstructor)
	studentToken := mustToken(t, cfg, studentA, auth.UserTypeStudent)

	resp := doReq(t, http.MethodPost, app.URL+"/attendance/generate", instructorToken, map[string]string{"courseCode": course})
	var generated generateResponse
	decodeBody(t, resp, &generated)
	sessionURL := app.URL + "/attendance/sessions/" + generated.SessionID

	resp = doReq(t, http.MethodPost, sessionURL+"/records", instructorToken, map[string]interface{}{
		"statuses": map[string]string{studentA: "late", "stranger": "present"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var bulk bulkRecordsResponse
	decodeBody(t, resp, &bulk)
	if bulk.Written != 2 || len(bulk.Ignored) != 1 || bulk.Ignored[0] != "stranger" {
		t.Fatalf("unexpected bulk result: %+v", bulk)
	}

	resp = doReq(t, http.MethodPut, sessionURL+"/records/"+studentC, instructorToken, map[string]string{"status": "EXCUSED"})
	expectError(t, resp, http.StatusBadRequest, attendance.ErrInvalidStatus)

	resp = doReq(t, http.MethodPut, sessionURL+"/records/"+studentC, instructorToken, map[string]string{"status": "PRESENT"})
	var record recordResponse
	decodeBody(t, resp, &record)
	if record.Status != "PRESENT" || record.Writer != "INSTRUCTOR" || record.WrittenBy != instructorID {
		t.Fatalf("unexpected record: %+v", record)
	}

	resp = doReq(t, http.MethodGet, sessionURL+"/records", instructorToken, nil)
	var listed sessionRecordsResponse
	decodeBody(t, resp, &listed)
	if len(listed.Records) != 2 || listed.CourseCode != course {
		t.Fatalf("unexpected records: %+v", listed)
	}

	resp = doReq(t, http.MethodGet, sessionURL+"/records", studentToken, nil)
	expectError(t, resp, http.StatusForbidden, attendance.ErrUnauthorized)

	resp = doReq(t, http.MethodGet, app.URL+"/attendance/courses/"+course+"/rates?variant=weighted", instructorToken, nil)
	var weighted courseRatesResponse
	decodeBody(t, resp, &weighted)
	if weighted.Variant != "weighted" || len(weighted.Rates) != 2 || weighted.Rates[0].AttendanceRate != 50 {
		t.Fatalf("unexpected weighted rates: %+v", weighted)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/attendance/courses/"+course+"/rates?variant=optimistic", instructorToken, nil)
	expectError(t, resp, http.StatusBadRequest, "invalid_variant")

	resp = doReq(t, http.MethodGet, app.URL+"/attendance/courses/"+course+"/me", studentToken, nil)
	var own rateResponse
	decodeBody(t, resp, &own)
	if own.AttendanceRate != 100 || own.TotalLate != 1 {
		t.Fatalf("unexpected own rate: %+v", own)
	}
}

func TestReconcileRequiresCapabilityForAll(t *testing.T) {
	app, cfg := newTestServer(t, memory.NewStore(), staticOracle())

	resp := doReq(t, http.MethodPost, app.URL+"/attendance/reconcile", mustToken(t, cfg, instructorID, auth.UserTypeInstructor), map[string]bool{"all": true})
	expectError(t, resp, http.StatusForbidden, attendance.ErrUnauthorized)

	admin := mustToken(t, cfg, "ops", auth.UserTypeAdmin, auth.CapabilityReconcileAll)
	resp = doReq(t, http.MethodPost, app.URL+"/attendance/reconcile", admin, map[string]bool{"all": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result reconcileResponse
	decodeBody(t, resp, &result)

	resp = doReq(t, http.MethodPost, app.URL+"/attendance/reconcile", mustToken(t, cfg, instructorID, auth.UserTypeInstructor), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for own courses, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthAndMetrics(t *testing.T) {
	app, _ := newTestServer(t, memory.NewStore(), staticOracle())
	for _, path := range []string{"/health", "/metrics"} {
		resp := doReq(t, http.MethodGet, app.URL+path, "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func openTestDB(t *testing.T) *db.Store {
	t.Helper()
	url := os.Getenv("ATTENDANCE_TEST_DB")
	if url == "" {
		t.Skip("ATTENDANCE_TEST_DB not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.NewStore(pool, nil)
}

func TestPostgresScanFlow(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	courseCode := "PG-" + uuid.NewString()[:8]
	for _, fact := range []model.EnrollmentFact{
		{UserID: instructorID, CourseCode: courseCode, Role: model.RoleInstructor},
		{UserID: studentA, CourseCode: courseCode, Role: model.RoleStudent},
	} {
		if _, err := store.Pool.Exec(ctx, `
      INSERT INTO enrollments (user_id, course_code, role, is_active) VALUES ($1, $2, $3, true)
      ON CONFLICT DO NOTHING
    `, fact.UserID, fact.CourseCode, string(fact.Role)); err != nil {
			t.Fatalf("seed enrollment: %v", err)
		}
	}
	app, cfg := newTestServer(t, store, enrollment.NewRegistry(store.Pool, ""))

	resp := doReq(t, http.MethodPost, app.URL+"/attendance/generate", mustToken(t, cfg, instructorID, auth.UserTypeInstructor), map[string]string{"courseCode": courseCode})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var generated generateResponse
	decodeBody(t, resp, &generated)

	studentToken := mustToken(t, cfg, studentA, auth.UserTypeStudent)
	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentToken, scanBody(generated.QRToken, &campus))
	var scanned scanResponse
	decodeBody(t, resp, &scanned)
	if scanned.Status != "PRESENT" || scanned.Code != "" {
		t.Fatalf("unexpected scan: %+v", scanned)
	}
	resp = doReq(t, http.MethodPost, app.URL+"/attendance/scan", studentToken, scanBody(generated.QRToken, &campus))
	decodeBody(t, resp, &scanned)
	if scanned.Code != attendance.OutcomeAlreadyMarked {
		t.Fatalf("expected AlreadyMarked, got %+v", scanned)
	}
}
