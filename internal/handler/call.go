package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/obcare/backend/internal/call"
	"github.com/obcare/backend/internal/feed"
	"github.com/obcare/backend/internal/logger"
	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/push"
	"github.com/obcare/backend/internal/repository"
)

type CallHandler struct {
	orch     *call.Orchestrator
	tokens   *call.TokenIssuer
	roomRepo *repository.RoomRepository
	msgRepo  *repository.MessageRepository
	hub      *feed.Hub
	push     *push.Client
}

func NewCallHandler(orch *call.Orchestrator, tokens *call.TokenIssuer, roomRepo *repository.RoomRepository, msgRepo *repository.MessageRepository, hub *feed.Hub, pushClient *push.Client) *CallHandler {
	return &CallHandler{orch: orch, tokens: tokens, roomRepo: roomRepo, msgRepo: msgRepo, hub: hub, push: pushClient}
}

type callPayload struct {
	Session          *model.CallSession `json:"session"`
	RemainingSeconds int                `json:"remaining_seconds,omitempty"`
}

type callResponse struct {
	Session          *model.CallSession `json:"session"`
	RemainingSeconds int                `json:"remaining_seconds,omitempty"`
	MediaToken       string             `json:"media_token,omitempty"`
}

func (h *CallHandler) mediaToken(userID string, s *model.CallSession) string {
	if !h.tokens.Enabled() {
		return ""
	}
	token, err := h.tokens.Issue(userID, s.RoomID, s.ID)
	if err != nil {
		logger.Errorf("call media token: %v", err)
		return ""
	}
	return token
}

// Start начинает звонок в комнате (или переиспользует открытую сессию).
// Отказ до записи в БД: нет одобренной записи или исчерпаны секунды.
func (h *CallHandler) Start(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	currentUserID := middleware.GetUserID(r.Context())

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeRepoError(w, err, "call.Start room")
		return
	}
	session, appt, err := h.orch.Start(r.Context(), room, currentUserID)
	if err != nil {
		if errors.Is(err, call.ErrNoEntitlement) {
			writeError(w, http.StatusConflict, "no approved appointment")
			return
		}
		writeRepoError(w, err, "call.Start")
		return
	}

	remaining := appt.CallSecondsLimit - appt.CallSecondsUsed
	payload := callPayload{Session: session, RemainingSeconds: remaining}
	// Вызываемый может быть не подписан на комнату, поэтому адресно
	h.hub.SendToUser(session.CalleeID, feed.Outgoing{Type: feed.EventCallRinging, Payload: payload})
	h.hub.SendToUser(session.CallerID, feed.Outgoing{Type: feed.EventCallRinging, Payload: payload})
	if !h.hub.IsUserConnected(session.CalleeID) {
		h.push.Notify(r.Context(), session.CalleeID, "Входящий видеозвонок", "Нажмите, чтобы ответить", map[string]string{
			"room_id": roomID, "call_id": session.ID,
		})
	}

	writeJSON(w, http.StatusCreated, callResponse{
		Session:          session,
		RemainingSeconds: remaining,
		MediaToken:       h.mediaToken(currentUserID, session),
	})
}

// Accept переводит звонок ringing -> active; с этого момента тикают секунды.
func (h *CallHandler) Accept(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "callID")
	currentUserID := middleware.GetUserID(r.Context())

	session, err := h.orch.Activate(r.Context(), sessionID, currentUserID)
	if err != nil {
		writeRepoError(w, err, "call.Accept")
		return
	}
	payload := callPayload{Session: session}
	h.hub.SendToUser(session.CallerID, feed.Outgoing{Type: feed.EventCallActive, Payload: payload})
	h.hub.SendToUser(session.CalleeID, feed.Outgoing{Type: feed.EventCallActive, Payload: payload})

	writeJSON(w, http.StatusOK, callResponse{
		Session:    session,
		MediaToken: h.mediaToken(currentUserID, session),
	})
}

// End завершает звонок (отбой, отклонение или отмена до ответа).
// Идемпотентен: повторный End уже закрытой сессии не списывает секунды второй раз.
func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "callID")
	currentUserID := middleware.GetUserID(r.Context())

	session, _, closed, err := h.orch.End(r.Context(), sessionID, currentUserID)
	if err != nil {
		writeRepoError(w, err, "call.End")
		return
	}
	payload := callPayload{Session: session}
	h.hub.SendToUser(session.CallerID, feed.Outgoing{Type: feed.EventCallEnded, Payload: payload})
	h.hub.SendToUser(session.CalleeID, feed.Outgoing{Type: feed.EventCallEnded, Payload: payload})

	// Системную запись пишет только тот запрос, который реально закрыл сессию
	if closed {
		h.writeCallEvent(r.Context(), session)
	}
	writeJSON(w, http.StatusOK, callResponse{Session: session})
}

// writeCallEvent кладёт в ленту комнаты системную запись об итоге звонка.
// Квоту не трогает.
func (h *CallHandler) writeCallEvent(ctx context.Context, s *model.CallSession) {
	body := "Пропущенный видеозвонок"
	if s.StartedAt != nil {
		body = "Видеозвонок завершён · " + formatCallDuration(s.ActiveSeconds(time.Now().UTC()))
	}
	msg := &model.Message{
		RoomID:        s.RoomID,
		SenderID:      s.CallerID,
		ClientRef:     uuid.New().String(),
		Body:          body,
		Kind:          model.MessageKindCallEvent,
		AppointmentID: &s.AppointmentID,
	}
	if err := h.msgRepo.CreateSystem(ctx, msg); err != nil {
		logger.Errorf("call event message: %v", err)
		return
	}
	if full, err := h.msgRepo.GetByID(ctx, msg.ID); err == nil {
		msg = full
	}
	h.hub.BroadcastRoom(s.RoomID, feed.Outgoing{Type: feed.EventMessageInserted, Payload: msg})
}

func formatCallDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// CallSweepEnded получает сессии, закрытые фоновой уборкой протухших
// ringing-звонков, и доносит исход до обеих сторон.
func (h *CallHandler) CallSweepEnded(s model.CallSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := callPayload{Session: &s}
	h.hub.SendToUser(s.CallerID, feed.Outgoing{Type: feed.EventCallEnded, Payload: payload})
	h.hub.SendToUser(s.CalleeID, feed.Outgoing{Type: feed.EventCallEnded, Payload: payload})
	h.writeCallEvent(ctx, &s)
}
