package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examgrade/internal/exam"
	appI18n "github.com/pavelanni/examgrade/internal/i18n"
	"github.com/pavelanni/examgrade/internal/model"
	"github.com/pavelanni/examgrade/internal/store"
)

// Users is the user storage the handlers need. *store.Store implements it.
type Users interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateUser(ctx context.Context, u model.User) (string, error)
	SetUserActive(ctx context.Context, id string, active bool) error
	AssignSubjectStaff(ctx context.Context, subjectID, userID string) error
}

// Config holds handler settings.
type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc      *exam.Service
	users    Users
	config   Config
	validate *validator.Validate
}

// New creates a new Handler.
func New(svc *exam.Service, users Users, cfg Config) (*Handler, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 8 * time.Hour
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return &Handler{svc: svc, users: users, config: cfg, validate: v}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/auth/me", h.handleMe)

			r.Get("/examinations/{examinationID}", h.handleGetExamination)
			r.Post("/examinations/{examinationID}/attempts", h.handleSubmitAttempt)
			r.Get("/examinations/{examinationID}/results", h.handleResults)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleStaff, model.UserRoleAdmin))
				r.Put("/examinations", h.handlePutExamination)
				r.Get("/examinations/{examinationID}/attempts", h.handleListAttempts)
				r.Get("/attempts/{attemptID}/pending", h.handlePendingAnswers)
				r.Post("/attempts/{attemptID}/grades", h.handleApplyGrades)
				r.Post("/attempts/{attemptID}/suggestions", h.handleSuggestions)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/active", h.handleSetUserActive)
				r.Post("/subjects/{subjectID}/staff", h.handleAssignStaff)
			})
		})
	})
}

func (h *Handler) handleGetExamination(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	e, err := h.svc.ExaminationFor(r.Context(), chi.URLParam(r, "examinationID"), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type submitRequest struct {
	UserID           string                  `json:"userId"`
	Answers          []model.SubmittedAnswer `json:"answers"`
	TimeSpentSeconds int                     `json:"timeSpentSeconds"`
}

func (h *Handler) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Graders of the subject may submit on behalf of a student.
	userID := user.ID
	if req.UserID != "" {
		userID = req.UserID
	}

	res, err := h.svc.SubmitAttemptAs(r.Context(), user, model.SubmitAttemptRequest{
		ExaminationID:    chi.URLParam(r, "examinationID"),
		UserID:           userID,
		Answers:          req.Answers,
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	userID := user.ID
	if q := r.URL.Query().Get("user_id"); q != "" {
		userID = q
	}

	res, err := h.svc.ReviewResults(r.Context(), chi.URLParam(r, "examinationID"), userID, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "no_attempt", Message: appI18n.T(r.Context(), "NoResultYet")})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	q := r.URL.Query()
	f := model.AttemptFilter{
		ExaminationID: chi.URLParam(r, "examinationID"),
		UserID:        q.Get("user_id"),
		Status:        model.AttemptStatus(q.Get("status")),
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, &exam.ValidationError{Field: "limit", Message: "must be a non-negative integer"})
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, &exam.ValidationError{Field: "offset", Message: "must be a non-negative integer"})
		return
	}

	attempts, err := h.svc.ListAttempts(r.Context(), user.ID, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) handlePendingAnswers(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	includeGraded := r.URL.Query().Get("include_graded") == "true"
	pending, err := h.svc.PendingAnswers(r.Context(), chi.URLParam(r, "attemptID"), user.ID, includeGraded)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

type gradesRequest struct {
	Grades []model.ManualGrade `json:"grades"`
}

type gradesResponse struct {
	*model.GradeResult
	Message string `json:"message"`
}

func (h *Handler) handleApplyGrades(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req gradesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.ApplyManualGrades(r.Context(), model.ApplyGradesRequest{
		AttemptID: chi.URLParam(r, "attemptID"),
		GraderID:  user.ID,
		Grades:    req.Grades,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gradesResponse{
		GradeResult: res,
		Message:     appI18n.Tp(r.Context(), "GradesApplied", len(req.Grades)),
	})
}

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	out, err := h.svc.SuggestScores(r.Context(), chi.URLParam(r, "attemptID"), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// decodeJSON reads the request body into v and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: appI18n.T(r.Context(), "ErrorBadRequest")})
		return false
	}
	return true
}

// writeError maps service errors to status codes with localized messages.
// Internal details are logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var verr *exam.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    "validation",
			Field:   verr.Field,
			Message: appI18n.Td(ctx, "ErrorValidation", map[string]any{"Field": verr.Field, "Message": verr.Message}),
		})
	case errors.Is(err, exam.ErrExaminationNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Message: appI18n.T(ctx, "ErrorExaminationNotFound")})
	case errors.Is(err, exam.ErrAttemptNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Message: appI18n.T(ctx, "ErrorAttemptNotFound")})
	case errors.Is(err, exam.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Message: appI18n.T(ctx, "ErrorNotFound")})
	case errors.Is(err, exam.ErrAlreadyAttempted):
		writeJSON(w, http.StatusConflict, errorBody{Code: "conflict", Message: appI18n.T(ctx, "ErrorAlreadyAttempted")})
	case errors.Is(err, store.ErrDuplicateUsername):
		writeJSON(w, http.StatusConflict, errorBody{Code: "conflict", Message: appI18n.T(ctx, "ErrorUsernameTaken")})
	case errors.Is(err, exam.ErrExaminationLocked):
		writeJSON(w, http.StatusConflict, errorBody{Code: "examination_locked", Message: appI18n.T(ctx, "ErrorExaminationLocked")})
	case errors.Is(err, exam.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Code: "conflict", Message: appI18n.T(ctx, "ErrorConflict")})
	case errors.Is(err, exam.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Code: "forbidden", Message: appI18n.T(ctx, "ErrorForbidden")})
	case errors.Is(err, exam.ErrSuggestionsDisabled):
		writeJSON(w, http.StatusNotImplemented, errorBody{Code: "not_implemented", Message: appI18n.T(ctx, "ErrorSuggestionsDisabled")})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err, "cause", errors.Unwrap(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: appI18n.T(ctx, "ErrorInternal")})
	}
}
