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

type AppointmentHandler struct {
	apptRepo *repository.AppointmentRepository
	userRepo *repository.UserRepository
}

func NewAppointmentHandler(apptRepo *repository.AppointmentRepository, userRepo *repository.UserRepository) *AppointmentHandler {
	return &AppointmentHandler{apptRepo: apptRepo, userRepo: userRepo}
}

type createAppointmentRequest struct {
	DoctorID         string    `json:"doctor_id"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	ConsultationType string    `json:"consultation_type"`
	Reason           string    `json:"reason"`
}

// Create — заявка пациентки на приём. Запись рождается pending; лимиты чата
// и звонка заполняются значениями по умолчанию на стороне БД.
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.DoctorID == "" {
		writeError(w, http.StatusBadRequest, "doctor_id is required")
		return
	}
	if req.ScheduledAt.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "scheduled_at is in the past")
		return
	}
	doctor, err := h.userRepo.GetByID(r.Context(), req.DoctorID)
	if err != nil {
		writeRepoError(w, err, "appointment.Create doctor")
		return
	}
	if doctor.Role != model.RoleDoctor {
		writeError(w, http.StatusBadRequest, "doctor_id is not a doctor")
		return
	}

	appt := &model.Appointment{
		PatientID:        middleware.GetUserID(r.Context()),
		DoctorID:         req.DoctorID,
		ScheduledAt:      req.ScheduledAt.UTC(),
		ConsultationType: req.ConsultationType,
		Reason:           req.Reason,
	}
	if err := h.apptRepo.Create(r.Context(), appt); err != nil {
		writeRepoError(w, err, "appointment.Create")
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// ListMine — записи текущего пользователя (пациентки или врача).
func (h *AppointmentHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	appts, err := h.apptRepo.ListForUser(r.Context(), currentUserID, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeRepoError(w, err, "appointment.ListMine")
		return
	}
	writeJSON(w, http.StatusOK, appts)
}

// ListAll — журнал записей для персонала, с фильтром по статусу.
func (h *AppointmentHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	status := model.AppointmentStatus(r.URL.Query().Get("status"))
	appts, err := h.apptRepo.ListAll(r.Context(), status, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeRepoError(w, err, "appointment.ListAll")
		return
	}
	writeJSON(w, http.StatusOK, appts)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.apptRepo.GetByID(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeRepoError(w, err, "appointment.Get")
		return
	}
	currentUserID := middleware.GetUserID(r.Context())
	role := model.Role(middleware.GetUserRole(r.Context()))
	if !role.IsStaff() && appt.PatientID != currentUserID && appt.DoctorID != currentUserID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type updateAppointmentStatusRequest struct {
	Status model.AppointmentStatus `json:"status"`
	Notes  string                  `json:"notes"`
}

// UpdateStatus двигает запись по жизненному циклу. Персонал одобряет,
// отклоняет и закрывает приёмы; пациентка может только отменить свою запись.
// Недопустимый переход отдаёт 409.
func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateAppointmentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	appointmentID := chi.URLParam(r, "appointmentID")
	currentUserID := middleware.GetUserID(r.Context())
	role := model.Role(middleware.GetUserRole(r.Context()))

	switch req.Status {
	case model.AppointmentApproved, model.AppointmentDeclined, model.AppointmentCompleted:
		if !role.IsStaff() {
			writeError(w, http.StatusForbidden, "staff only")
			return
		}
	case model.AppointmentCanceled:
		if !role.IsStaff() {
			appt, err := h.apptRepo.GetByID(r.Context(), appointmentID)
			if err != nil {
				writeRepoError(w, err, "appointment.UpdateStatus load")
				return
			}
			if appt.PatientID != currentUserID {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	appt, err := h.apptRepo.UpdateStatus(r.Context(), appointmentID, req.Status, req.Notes)
	if err != nil {
		writeRepoError(w, err, "appointment.UpdateStatus")
		return
	}
	writeJSON(w, http.StatusOK, appt)
}
