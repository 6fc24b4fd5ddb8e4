package handler

import (
	"encoding/json"
	"net/http"

	"github.com/obcare/backend/internal/logger"
	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/push"
)

// PushHandler проксирует подписки браузера на пуш-сервис: user_id берётся
// из сессии, фронт его не присылает.
type PushHandler struct {
	push *push.Client
}

func NewPushHandler(pushClient *push.Client) *PushHandler {
	return &PushHandler{push: pushClient}
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.push.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push service is not configured")
		return
	}
	var sub push.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}
	if err := h.push.Subscribe(r.Context(), middleware.GetUserID(r.Context()), sub); err != nil {
		logger.Errorf("push.Subscribe: %v", err)
		writeError(w, http.StatusBadGateway, "push service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if !h.push.Enabled() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if err := h.push.Unsubscribe(r.Context(), middleware.GetUserID(r.Context()), req.Endpoint); err != nil {
		logger.Errorf("push.Unsubscribe: %v", err)
		writeError(w, http.StatusBadGateway, "push service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
