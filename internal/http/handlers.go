package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/calendar"
	"rollcall/attendance/internal/model"
)

type generateRequest struct {
	CourseCode string `json:"courseCode" validate:"required,max=64"`
}

type generateResponse struct {
	QRToken     string `json:"qrToken"`
	SessionID   string `json:"sessionId"`
	CourseCode  string `json:"courseCode"`
	SessionDate string `json:"sessionDate"`
	ExpiresAt   string `json:"expiresAt"`
}

type scanRequest struct {
	QRToken   string   `json:"qrToken" validate:"required"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type scanStats struct {
	AttendanceRate float64 `json:"attendanceRate"`
	TotalPresent   int     `json:"totalPresent"`
	TotalSessions  int     `json:"totalSessions"`
}

type scanResponse struct {
	Code       string    `json:"code,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	CourseCode string    `json:"courseCode"`
	Stats      scanStats `json:"stats"`
}

type lockRequest struct {
	Locked *bool `json:"locked" validate:"required"`
}

type recordRequest struct {
	Status string `json:"status" validate:"required"`
}

type bulkRecordsRequest struct {
	Statuses map[string]string `json:"statuses" validate:"required"`
}

type bulkRecordsResponse struct {
	Written int      `json:"written"`
	Ignored []string `json:"ignored"`
}

type reconcileRequest struct {
	All bool `json:"all"`
}

type reconcileResponse struct {
	SessionsProcessed int `json:"sessionsProcessed"`
	RecordsCreated    int `json:"recordsCreated"`
	SessionsFailed    int `json:"sessionsFailed"`
}

type recordResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
	Writer    string `json:"writer"`
	WrittenBy string `json:"writtenBy,omitempty"`
	UpdatedAt string `json:"updatedAt"`
}

type sessionRecordsResponse struct {
	SessionID   string           `json:"sessionId"`
	CourseCode  string           `json:"courseCode"`
	SessionDate string           `json:"sessionDate"`
	Locked      bool             `json:"locked"`
	Records     []recordResponse `json:"records"`
}

type rateResponse struct {
	StudentID      string  `json:"studentId"`
	AttendanceRate float64 `json:"attendanceRate"`
	TotalPresent   int     `json:"totalPresent"`
	TotalLate      int     `json:"totalLate"`
	TotalSessions  int     `json:"totalSessions"`
}

type courseRatesResponse struct {
	CourseCode string         `json:"courseCode"`
	Variant    string         `json:"variant"`
	Rates      []rateResponse `json:"rates"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req generateRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	issued, err := s.svc.Issuer.IssueToken(r.Context(), claims.UserID, req.CourseCode)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		QRToken:     issued.Token,
		SessionID:   issued.SessionID.String(),
		CourseCode:  issued.CourseCode,
		SessionDate: calendar.Format(issued.Date),
		ExpiresAt:   issued.ExpiresAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req scanRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	result, err := s.svc.Validator.Redeem(r.Context(), attendance.ScanRequest{
		StudentID: claims.UserID,
		Email:     claims.Email,
		Token:     req.QRToken,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	resp := scanResponse{
		Status:     string(result.Status),
		Message:    result.Message,
		CourseCode: result.CourseCode,
		Stats: scanStats{
			AttendanceRate: result.Rate.Percentage,
			TotalPresent:   result.Rate.Attended(),
			TotalSessions:  result.Rate.TotalSessions,
		},
	}
	if result.Outcome == attendance.OutcomeAlreadyMarked {
		resp.Code = attendance.OutcomeAlreadyMarked
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLockSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	var req lockRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	actor := actorFromClaims(claimsFromContext(r.Context()))
	if _, err := s.svc.Ledger.SetLocked(r.Context(), actor, sessionID, *req.Locked); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	actor := actorFromClaims(claimsFromContext(r.Context()))
	session, records, err := s.svc.Ledger.Records(r.Context(), actor, sessionID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	resp := sessionRecordsResponse{
		SessionID:   session.ID.String(),
		CourseCode:  session.CourseCode,
		SessionDate: calendar.Format(session.Date),
		Locked:      session.Locked,
		Records:     make([]recordResponse, 0, len(records)),
	}
	for _, record := range records {
		resp.Records = append(resp.Records, mapRecord(record))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutRecord(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	studentID := strings.TrimSpace(chi.URLParam(r, "studentId"))
	if studentID == "" {
		writeError(w, http.StatusBadRequest, "invalid_student_id")
		return
	}
	var req recordRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	actor := actorFromClaims(claimsFromContext(r.Context()))
	record, err := s.svc.Ledger.Mark(r.Context(), actor, sessionID, studentID, normalizeStatus(req.Status))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapRecord(record))
}

func (s *Server) handleBulkRecords(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	var req bulkRecordsRequest
	if !s.decodeAndValidate(w, r, &req, false) {
		return
	}
	statuses := make(map[string]model.AttendanceStatus, len(req.Statuses))
	for studentID, status := range req.Statuses {
		statuses[studentID] = normalizeStatus(status)
	}
	actor := actorFromClaims(claimsFromContext(r.Context()))
	result, err := s.svc.Ledger.BulkUpsert(r.Context(), actor, sessionID, statuses)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkRecordsResponse{Written: result.Written, Ignored: result.Ignored})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !s.decodeAndValidate(w, r, &req, true) {
		return
	}
	actor := actorFromClaims(claimsFromContext(r.Context()))
	result, err := s.svc.Reconciler.Reconcile(r.Context(), attendance.Scope{Actor: actor, All: req.All})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{
		SessionsProcessed: result.SessionsProcessed,
		RecordsCreated:    result.RecordsCreated,
		SessionsFailed:    result.SessionsFailed,
	})
}

func (s *Server) handleCourseRates(w http.ResponseWriter, r *http.Request) {
	courseCode := chi.URLParam(r, "courseCode")
	variant, ok := attendance.ParseRateVariant(r.URL.Query().Get("variant"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_variant")
		return
	}
	actor := actorFromClaims(claimsFromContext(r.Context()))
	rates, err := s.svc.Rates.CourseRates(r.Context(), actor, courseCode, variant)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	resp := courseRatesResponse{
		CourseCode: courseCode,
		Variant:    string(variant),
		Rates:      make([]rateResponse, 0, len(rates)),
	}
	for _, rate := range rates {
		resp.Rates = append(resp.Rates, mapRate(rate))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOwnRate(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	rate, err := s.svc.Rates.OwnRate(r.Context(), claims.UserID, chi.URLParam(r, "courseCode"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapRate(rate))
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id")
		return uuid.Nil, false
	}
	return id, true
}

func normalizeStatus(value string) model.AttendanceStatus {
	return model.AttendanceStatus(strings.ToUpper(strings.TrimSpace(value)))
}

func mapRecord(record model.Record) recordResponse {
	return recordResponse{
		ID:        record.ID.String(),
		SessionID: record.SessionID.String(),
		StudentID: record.StudentID,
		Status:    string(record.Status),
		Writer:    string(record.Writer.Kind),
		WrittenBy: record.Writer.ActorID,
		UpdatedAt: record.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func mapRate(rate attendance.Rate) rateResponse {
	return rateResponse{
		StudentID:      rate.StudentID,
		AttendanceRate: rate.Percentage,
		TotalPresent:   rate.Attended(),
		TotalLate:      rate.Late,
		TotalSessions:  rate.TotalSessions,
	}
}
