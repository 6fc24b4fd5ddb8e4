package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
}

func NewUserHandler(userRepo *repository.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

type meResponse struct {
	model.User
	GestationalWeek int `json:"gestational_week,omitempty"`
}

// Me возвращает профиль текущего пользователя; пациенткам — вместе с
// неделей беременности, посчитанной от даты последней менструации.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	u, err := h.userRepo.GetByID(r.Context(), currentUserID)
	if err != nil {
		writeRepoError(w, err, "user.Me")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: *u, GestationalWeek: u.GestationalWeek(time.Now().UTC())})
}

type updateProfileRequest struct {
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.FullName == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "full_name and email are required")
		return
	}
	currentUserID := middleware.GetUserID(r.Context())
	if err := h.userRepo.UpdateProfile(r.Context(), currentUserID, req.FullName, req.AvatarURL, req.Email, req.Phone); err != nil {
		writeRepoError(w, err, "user.UpdateProfile")
		return
	}
	u, err := h.userRepo.GetByID(r.Context(), currentUserID)
	if err != nil {
		writeRepoError(w, err, "user.UpdateProfile reload")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type setLMPRequest struct {
	LMPDate *string `json:"lmp_date"` // YYYY-MM-DD, null очищает
}

// SetLMP сохраняет дату последней менструации пациентки. От неё считается
// срок и подбираются материалы по неделям.
func (h *UserHandler) SetLMP(w http.ResponseWriter, r *http.Request) {
	var req setLMPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var lmp *time.Time
	if req.LMPDate != nil {
		t, err := time.Parse("2006-01-02", *req.LMPDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "lmp_date must be YYYY-MM-DD")
			return
		}
		if t.After(time.Now()) {
			writeError(w, http.StatusBadRequest, "lmp_date is in the future")
			return
		}
		lmp = &t
	}
	currentUserID := middleware.GetUserID(r.Context())
	if err := h.userRepo.SetLMPDate(r.Context(), currentUserID, lmp); err != nil {
		writeRepoError(w, err, "user.SetLMP")
		return
	}
	u, err := h.userRepo.GetByID(r.Context(), currentUserID)
	if err != nil {
		writeRepoError(w, err, "user.SetLMP reload")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: *u, GestationalWeek: u.GestationalWeek(time.Now().UTC())})
}

// Doctors — список врачей для записи на приём и открытия чата.
func (h *UserHandler) Doctors(w http.ResponseWriter, r *http.Request) {
	users, err := h.userRepo.List(r.Context(), model.RoleDoctor, r.URL.Query().Get("search"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeRepoError(w, err, "user.Doctors")
		return
	}
	writeJSON(w, http.StatusOK, toPublicList(users))
}

// Patients — картотека для персонала, с поиском по имени, email и телефону.
func (h *UserHandler) Patients(w http.ResponseWriter, r *http.Request) {
	users, err := h.userRepo.List(r.Context(), model.RolePatient, r.URL.Query().Get("search"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeRepoError(w, err, "user.Patients")
		return
	}
	writeJSON(w, http.StatusOK, toPublicList(users))
}

// GetPatient — карточка пациентки для персонала, со сроком беременности.
func (h *UserHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	u, err := h.userRepo.GetByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeRepoError(w, err, "user.GetPatient")
		return
	}
	if u.Role != model.RolePatient {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: *u, GestationalWeek: u.GestationalWeek(time.Now().UTC())})
}

func toPublicList(users []model.User) []model.UserPublic {
	out := make([]model.UserPublic, 0, len(users))
	for i := range users {
		out = append(out, users[i].ToPublic())
	}
	return out
}
