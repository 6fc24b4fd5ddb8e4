package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/obcare/backend/internal/feed"
	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/push"
	"github.com/obcare/backend/internal/repository"
)

// messageStore — срез repository.MessageRepository, нужный обработчику.
type messageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	GetByClientRef(ctx context.Context, roomID, clientRef string) (*model.Message, error)
	ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error)
	MarkUnsent(ctx context.Context, messageID, senderID string) (*model.Message, error)
	MarkSeen(ctx context.Context, roomID, viewerID string) ([]string, error)
}

// roomStore — срез repository.RoomRepository.
type roomStore interface {
	GetByID(ctx context.Context, id string) (*model.Room, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
}

// appointmentSource отдаёт запись, финансирующую комнату.
type appointmentSource interface {
	LatestApprovedForRoom(ctx context.Context, patientID, doctorID string) (*model.Appointment, error)
}

// roomFeed — фанаут событий в ленту. Реализуется feed.Hub.
type roomFeed interface {
	BroadcastRoom(roomID string, msg feed.Outgoing)
	IsUserConnected(userID string) bool
}

type MessageHandler struct {
	msgRepo  messageStore
	roomRepo roomStore
	apptRepo appointmentSource
	hub      roomFeed
	push     *push.Client
}

func NewMessageHandler(msgRepo messageStore, roomRepo roomStore, apptRepo appointmentSource, hub roomFeed, pushClient *push.Client) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, roomRepo: roomRepo, apptRepo: apptRepo, hub: hub, push: pushClient}
}

// List отдаёт историю комнаты по возрастанию created_at, включая
// надгробия отозванных сообщений.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	currentUserID := middleware.GetUserID(r.Context())

	ok, err := h.roomRepo.IsParticipant(r.Context(), roomID, currentUserID)
	if err != nil {
		writeRepoError(w, err, "message.List participant")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	limit := queryInt(r, "limit", 100)
	if limit > 500 {
		limit = 500
	}
	offset := queryInt(r, "offset", 0)
	messages, err := h.msgRepo.ListByRoom(r.Context(), roomID, limit, offset)
	if err != nil {
		writeRepoError(w, err, "message.List")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	ClientRef      string `json:"client_ref"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	AttachmentURL  string `json:"attachment_url"`
	AttachmentName string `json:"attachment_name"`
}

// Send создаёт сообщение. client_ref — идемпотентный ключ клиента: повтор
// после таймаута возвращает уже созданную строку, а не вторую копию.
// Квота чата списывается той же SQL-операцией, что и вставка.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	currentUserID := middleware.GetUserID(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	kind := model.MessageKind(req.Kind)
	if kind == "" {
		kind = model.MessageKindText
	}
	switch kind {
	case model.MessageKindText:
		if strings.TrimSpace(req.Body) == "" {
			writeError(w, http.StatusBadRequest, "body is required")
			return
		}
	case model.MessageKindImage, model.MessageKindFile:
		if req.AttachmentURL == "" {
			writeError(w, http.StatusBadRequest, "attachment_url is required")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}
	if req.ClientRef == "" {
		writeError(w, http.StatusBadRequest, "client_ref is required")
		return
	}

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeRepoError(w, err, "message.Send room")
		return
	}
	if !room.HasParticipant(currentUserID) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	appt, err := h.apptRepo.LatestApprovedForRoom(r.Context(), room.PatientID, room.DoctorID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusConflict, "no approved appointment")
			return
		}
		writeRepoError(w, err, "message.Send appointment")
		return
	}

	msg := &model.Message{
		RoomID:         roomID,
		SenderID:       currentUserID,
		ClientRef:      req.ClientRef,
		Body:           req.Body,
		Kind:           kind,
		AttachmentURL:  req.AttachmentURL,
		AttachmentName: req.AttachmentName,
		AppointmentID:  &appt.ID,
	}
	if err := h.msgRepo.Create(r.Context(), msg); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Повтор той же отправки: квота не списана, вернуть существующую строку
			existing, getErr := h.msgRepo.GetByClientRef(r.Context(), roomID, req.ClientRef)
			if getErr != nil {
				writeRepoError(w, getErr, "message.Send dedup")
				return
			}
			writeJSON(w, http.StatusOK, existing)
			return
		}
		writeRepoError(w, err, "message.Send")
		return
	}

	// Отправителю событие тоже нужно: его chatview подменяет optimistic-строку
	full, err := h.msgRepo.GetByID(r.Context(), msg.ID)
	if err == nil {
		msg = full
	}
	h.hub.BroadcastRoom(roomID, feed.Outgoing{Type: feed.EventMessageInserted, Payload: msg})
	h.notifyOffline(r, room.OtherParticipant(currentUserID), msg)

	writeJSON(w, http.StatusCreated, msg)
}

// notifyOffline шлёт web push собеседнику, только если у него нет живого
// feed-соединения: онлайн-клиент получит message_inserted и так.
func (h *MessageHandler) notifyOffline(r *http.Request, recipientID string, msg *model.Message) {
	if recipientID == "" || h.hub.IsUserConnected(recipientID) {
		return
	}
	title := "Новое сообщение"
	if msg.Sender != nil {
		title = msg.Sender.FullName
	}
	body := msg.Body
	switch msg.Kind {
	case model.MessageKindImage:
		body = "Фото"
	case model.MessageKindFile:
		body = "Файл"
	}
	h.push.Notify(r.Context(), recipientID, title, body, map[string]string{
		"room_id":    msg.RoomID,
		"message_id": msg.ID,
	})
}

// Unsend отзывает сообщение отправителя: строка остаётся, содержимое
// затирается, обе стороны получают message_updated.
func (h *MessageHandler) Unsend(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	currentUserID := middleware.GetUserID(r.Context())

	msg, err := h.msgRepo.MarkUnsent(r.Context(), messageID, currentUserID)
	if err != nil {
		writeRepoError(w, err, "message.Unsend")
		return
	}
	h.hub.BroadcastRoom(msg.RoomID, feed.Outgoing{Type: feed.EventMessageUpdated, Payload: msg})
	writeJSON(w, http.StatusOK, msg)
}

// MarkSeen помечает прочитанными все активные сообщения собеседника.
// Идемпотентен: событие уходит только если что-то реально перевернулось.
func (h *MessageHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	currentUserID := middleware.GetUserID(r.Context())

	ok, err := h.roomRepo.IsParticipant(r.Context(), roomID, currentUserID)
	if err != nil {
		writeRepoError(w, err, "message.MarkSeen participant")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	ids, err := h.msgRepo.MarkSeen(r.Context(), roomID, currentUserID)
	if err != nil {
		writeRepoError(w, err, "message.MarkSeen")
		return
	}
	if len(ids) > 0 {
		h.hub.BroadcastRoom(roomID, feed.Outgoing{Type: feed.EventMessagesSeen, Payload: feed.SeenPayload{
			RoomID:     roomID,
			ViewerID:   currentUserID,
			MessageIDs: ids,
			SeenAt:     time.Now().UTC(),
		}})
	}
	writeJSON(w, http.StatusOK, map[string]any{"seen_ids": ids})
}
