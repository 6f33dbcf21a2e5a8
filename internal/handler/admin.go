package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examgrade/internal/exam"
	"github.com/pavelanni/examgrade/internal/model"
)

func (h *Handler) handlePutExamination(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var e model.Examination
	if !decodeJSON(w, r, &e) {
		return
	}
	if err := h.svc.SaveExaminationAs(r.Context(), user.ID, e); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := h.svc.GetExamination(r.Context(), e.ID, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,min=3,max=64"`
	DisplayName string         `json:"displayName"`
	Password    string         `json:"password" validate:"required,min=8"`
	Role        model.UserRole `json:"role" validate:"required,oneof=student staff admin"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, requestValidationError(err))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	id, err := h.users.CreateUser(r.Context(), model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.users.GetUserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	var req activeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.users.GetUserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, r, exam.ErrNotFound)
		return
	}
	if err := h.users.SetUserActive(r.Context(), id, req.Active); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user active flag changed", "user_id", id, "active", req.Active)
	user.Active = req.Active
	writeJSON(w, http.StatusOK, user)
}

type assignStaffRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (h *Handler) handleAssignStaff(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	var req assignStaffRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, requestValidationError(err))
		return
	}

	user, err := h.users.GetUserByID(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, r, exam.ErrNotFound)
		return
	}
	if user.Role != model.UserRoleStaff {
		writeError(w, r, &exam.ValidationError{Field: "userId", Message: "user is not staff"})
		return
	}
	if err := h.users.AssignSubjectStaff(r.Context(), subjectID, user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("assigned subject staff", "subject_id", subjectID, "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func requestValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &exam.ValidationError{Field: fe.Field(), Message: msg}
	}
	return &exam.ValidationError{Message: err.Error()}
}
