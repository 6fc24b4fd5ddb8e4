package handler

import (
	"net/http"

	"github.com/obcare/backend/internal/config"
)

// ConfigHandler отдаёт фронту публичную часть конфигурации: ICE-серверы
// для WebRTC и VAPID-ключ для пуш-подписки. Секретов здесь быть не должно.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type webConfigResponse struct {
	ICEServers         []config.IceServer `json:"ice_servers"`
	VAPIDPublicKey     string             `json:"vapid_public_key,omitempty"`
	RingTimeoutSeconds int                `json:"ring_timeout_seconds"`
	TypingTTLSeconds   int                `json:"typing_ttl_seconds"`
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, webConfigResponse{
		ICEServers:         h.cfg.Call.ICEServers,
		VAPIDPublicKey:     h.cfg.PushVAPIDPublicKey,
		RingTimeoutSeconds: int(h.cfg.Call.RingTimeout.Seconds()),
		TypingTTLSeconds:   int(h.cfg.TypingTTL.Seconds()),
	})
}
