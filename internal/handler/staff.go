package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/repository"
)

// StaffHandler — административные операции персонала: роли, блокировки,
// общий список пользователей.
type StaffHandler struct {
	userRepo *repository.UserRepository
}

func NewStaffHandler(userRepo *repository.UserRepository) *StaffHandler {
	return &StaffHandler{userRepo: userRepo}
}

// ListUsers — все учётки клиники, с фильтром по роли и поиском.
func (h *StaffHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	role := model.Role(r.URL.Query().Get("role"))
	users, err := h.userRepo.List(r.Context(), role, r.URL.Query().Get("search"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeRepoError(w, err, "staff.ListUsers")
		return
	}
	writeJSON(w, http.StatusOK, toPublicList(users))
}

type setRoleRequest struct {
	Role model.Role `json:"role"`
}

func (h *StaffHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	switch req.Role {
	case model.RoleDoctor, model.RoleSecretary, model.RolePatient:
	default:
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID == middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusBadRequest, "cannot change own role")
		return
	}
	if err := h.userRepo.SetRole(r.Context(), userID, req.Role); err != nil {
		writeRepoError(w, err, "staff.SetRole")
		return
	}
	u, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeRepoError(w, err, "staff.SetRole reload")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

type setDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

// SetDisabled блокирует или разблокирует учётку. Заблокированный пользователь
// получает 403 на каждый запрос, история его сообщений остаётся.
func (h *StaffHandler) SetDisabled(w http.ResponseWriter, r *http.Request) {
	var req setDisabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID == middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusBadRequest, "cannot disable own account")
		return
	}
	if err := h.userRepo.SetDisabled(r.Context(), userID, req.Disabled); err != nil {
		writeRepoError(w, err, "staff.SetDisabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disabled": req.Disabled})
}

type provisionUserRequest struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// ProvisionUser — внутренний эндпоинт для сервиса авторизации: он создаёт
// учётку после регистрации. Новые пользователи всегда пациентки, роль
// повышает персонал.
func (h *StaffHandler) ProvisionUser(w http.ResponseWriter, r *http.Request) {
	var req provisionUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ID == "" || req.Email == "" || req.FullName == "" {
		writeError(w, http.StatusBadRequest, "id, full_name and email are required")
		return
	}
	now := time.Now().UTC()
	u := &model.User{
		ID:         req.ID,
		FullName:   req.FullName,
		Email:      req.Email,
		Phone:      req.Phone,
		Role:       model.RolePatient,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := h.userRepo.Create(r.Context(), u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			existing, getErr := h.userRepo.GetByID(r.Context(), req.ID)
			if getErr != nil {
				writeRepoError(w, getErr, "staff.ProvisionUser dedup")
				return
			}
			writeJSON(w, http.StatusOK, existing)
			return
		}
		writeRepoError(w, err, "staff.ProvisionUser")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}
