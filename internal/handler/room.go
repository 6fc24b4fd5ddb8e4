package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/obcare/backend/internal/entitlement"
	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/repository"
)

type RoomHandler struct {
	roomRepo *repository.RoomRepository
	userRepo *repository.UserRepository
	msgRepo  *repository.MessageRepository
	apptRepo *repository.AppointmentRepository
}

func NewRoomHandler(roomRepo *repository.RoomRepository, userRepo *repository.UserRepository, msgRepo *repository.MessageRepository, apptRepo *repository.AppointmentRepository) *RoomHandler {
	return &RoomHandler{roomRepo: roomRepo, userRepo: userRepo, msgRepo: msgRepo, apptRepo: apptRepo}
}

type ensureRoomRequest struct {
	UserID string `json:"user_id"`
}

// Ensure создаёт (или возвращает существующую) комнату пациент-врач с
// собеседником user_id. Комната ровно одна на пару, кто бы её ни открыл.
func (h *RoomHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	var req ensureRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	currentUserID := middleware.GetUserID(r.Context())
	if req.UserID == "" || req.UserID == currentUserID {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	me, err := h.userRepo.GetByID(r.Context(), currentUserID)
	if err != nil {
		writeRepoError(w, err, "room.Ensure me")
		return
	}
	other, err := h.userRepo.GetByID(r.Context(), req.UserID)
	if err != nil {
		writeRepoError(w, err, "room.Ensure other")
		return
	}

	var patient, doctor *model.User
	switch {
	case me.Role == model.RolePatient && other.Role == model.RoleDoctor:
		patient, doctor = me, other
	case me.Role == model.RoleDoctor && other.Role == model.RolePatient:
		patient, doctor = other, me
	default:
		writeError(w, http.StatusBadRequest, "room requires one patient and one doctor")
		return
	}

	room, err := h.roomRepo.Ensure(r.Context(), patient.ID, doctor.ID)
	if err != nil {
		writeRepoError(w, err, "room.Ensure")
		return
	}
	writeJSON(w, http.StatusOK, model.RoomWithPreview{
		Room:    *room,
		Patient: patient.ToPublic(),
		Doctor:  doctor.ToPublic(),
	})
}

// List возвращает комнаты пользователя с последним сообщением и счётчиком
// непрочитанного, отсортированные по свежести.
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	rooms, err := h.roomRepo.ListForUser(r.Context(), currentUserID)
	if err != nil {
		writeRepoError(w, err, "room.List")
		return
	}
	for i := range rooms {
		last, err := h.msgRepo.GetLastMessage(r.Context(), rooms[i].Room.ID)
		if err != nil {
			writeRepoError(w, err, "room.List last message")
			return
		}
		rooms[i].LastMessage = last
	}
	writeJSON(w, http.StatusOK, rooms)
}

// Get отдаёт одну комнату с профилями участников.
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	currentUserID := middleware.GetUserID(r.Context())

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeRepoError(w, err, "room.Get")
		return
	}
	if !room.HasParticipant(currentUserID) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	patient, err := h.userRepo.GetByID(r.Context(), room.PatientID)
	if err != nil {
		writeRepoError(w, err, "room.Get patient")
		return
	}
	doctor, err := h.userRepo.GetByID(r.Context(), room.DoctorID)
	if err != nil {
		writeRepoError(w, err, "room.Get doctor")
		return
	}
	last, err := h.msgRepo.GetLastMessage(r.Context(), room.ID)
	if err != nil {
		writeRepoError(w, err, "room.Get last message")
		return
	}
	writeJSON(w, http.StatusOK, model.RoomWithPreview{
		Room:        *room,
		Patient:     patient.ToPublic(),
		Doctor:      doctor.ToPublic(),
		LastMessage: last,
	})
}

type entitlementResponse struct {
	Appointment *model.Appointment  `json:"appointment,omitempty"`
	Chat        entitlement.Verdict `json:"chat"`
	Call        entitlement.Verdict `json:"call"`
}

// Entitlement — советующий эндпоинт для UI: сколько сообщений и секунд
// звонка осталось по последней одобренной записи. Реальный отказ всегда
// происходит при записи, не здесь.
func (h *RoomHandler) Entitlement(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	currentUserID := middleware.GetUserID(r.Context())

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeRepoError(w, err, "room.Entitlement")
		return
	}
	if !room.HasParticipant(currentUserID) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	appt, err := h.apptRepo.LatestApprovedForRoom(r.Context(), room.PatientID, room.DoctorID)
	if err != nil && !isNotFound(err) {
		writeRepoError(w, err, "room.Entitlement appointment")
		return
	}
	writeJSON(w, http.StatusOK, entitlementResponse{
		Appointment: appt,
		Chat:        entitlement.CheckChat(appt),
		Call:        entitlement.CheckCall(appt),
	})
}
