package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/auth"
	"rollcall/attendance/internal/config"
	"rollcall/attendance/internal/logging"
)

type Server struct {
	cfg      config.Config
	svc      *attendance.Service
	logger   logging.Logger
	gatherer prometheus.Gatherer
	validate *validator.Validate
}

func NewServer(cfg config.Config, svc *attendance.Service, logger logging.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = logging.Nop{}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		cfg:      cfg,
		svc:      svc,
		logger:   logger,
		gatherer: gatherer,
		validate: validate,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/attendance", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/generate", s.handleGenerate)
		r.With(s.requireUserType(auth.UserTypeStudent)).Post("/scan", s.handleScan)
		r.Post("/reconcile", s.handleReconcile)

		r.Post("/sessions/{sessionId}/lock", s.handleLockSession)
		r.Get("/sessions/{sessionId}/records", s.handleListRecords)
		r.Post("/sessions/{sessionId}/records", s.handleBulkRecords)
		r.Put("/sessions/{sessionId}/records/{studentId}", s.handlePutRecord)

		r.Get("/courses/{courseCode}/rates", s.handleCourseRates)
		r.With(s.requireUserType(auth.UserTypeStudent)).Get("/courses/{courseCode}/me", s.handleOwnRate)
	})

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireUserType(userType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil || claims.UserType != userType {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// actorFromClaims grants superuser rights only through the reconcile capability.
func actorFromClaims(claims *auth.Claims) attendance.Actor {
	if claims == nil {
		return attendance.Actor{}
	}
	return attendance.Actor{
		ID:        claims.UserID,
		Superuser: claims.Can(auth.CapabilityReconcileAll),
	}
}

// Errors

var domainStatus = map[string]int{
	attendance.ErrTokenNotFound:    http.StatusNotFound,
	attendance.ErrSessionLocked:    http.StatusForbidden,
	attendance.ErrStaleToken:       http.StatusBadRequest,
	attendance.ErrNotEnrolled:      http.StatusForbidden,
	attendance.ErrLocationRequired: http.StatusBadRequest,
	attendance.ErrOutOfRange:       http.StatusForbidden,
	attendance.ErrUnauthorized:     http.StatusForbidden,
	attendance.ErrSessionNotFound:  http.StatusNotFound,
	attendance.ErrInvalidStatus:    http.StatusBadRequest,
	attendance.ErrInvalidCourse:    http.StatusBadRequest,
	attendance.ErrTokenCollision:   http.StatusServiceUnavailable,
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if code := attendance.CodeOf(err); code != "" {
		status, ok := domainStatus[code]
		if !ok {
			status = http.StatusBadRequest
		}
		writeError(w, status, code)
		return
	}
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "server_error")
}

// decodeAndValidate reads the JSON body into out and runs struct validation. An empty body is
// accepted when allowEmpty is set.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, out interface{}, allowEmpty bool) bool {
	if err := decodeJSON(r, out); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			fields := make(map[string]string, len(fieldErrors))
			for _, fe := range fieldErrors {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid_request", "fields": fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	return true
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
