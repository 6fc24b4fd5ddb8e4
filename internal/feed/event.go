package feed

import "time"

type EventType string

const (
	// Server -> client change events. The stream carries every mutation in a
	// room, including the subscriber's own writes: the client reconciles its
	// optimistic rows against these instead of trusting local state.
	EventMessageInserted EventType = "message_inserted"
	EventMessageUpdated  EventType = "message_updated"
	EventMessagesSeen    EventType = "messages_seen"
	EventTyping          EventType = "typing"
	EventCallRinging     EventType = "call_ringing"
	EventCallActive      EventType = "call_active"
	EventCallEnded       EventType = "call_ended"
	EventSubscribed      EventType = "subscribed"
	EventError           EventType = "error"

	// Client -> server.
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
)

// Incoming is what the client sends over the feed socket. Messages themselves
// go through the REST API; the socket only manages subscriptions and typing.
type Incoming struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"room_id,omitempty"`
	IsTyping bool      `json:"is_typing,omitempty"`
}

// Outgoing is what the server pushes to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type Outgoing struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingPayload mirrors the TTL store: who is typing in which room right now.
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// SeenPayload is broadcast once per MarkSeen that actually flipped rows.
type SeenPayload struct {
	RoomID     string    `json:"room_id"`
	ViewerID   string    `json:"viewer_id"`
	MessageIDs []string  `json:"message_ids"`
	SeenAt     time.Time `json:"seen_at"`
}

// SubscribedPayload confirms a room subscription together with the users
// typing at the moment of subscribing, so the indicator is correct from the
// first frame.
type SubscribedPayload struct {
	RoomID string   `json:"room_id"`
	Typing []string `json:"typing,omitempty"`
}
