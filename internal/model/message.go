package model

import "time"

type MessageKind string

const (
	MessageKindText      MessageKind = "text"
	MessageKindImage     MessageKind = "image"
	MessageKindFile      MessageKind = "file"
	MessageKindCallEvent MessageKind = "call_event"
)

type MessageStatus string

const (
	MessageStatusActive MessageStatus = "active"
	MessageStatusUnsent MessageStatus = "unsent"
)

type Message struct {
	ID             string        `json:"id"`
	RoomID         string        `json:"room_id"`
	SenderID       string        `json:"sender_id"`
	ClientRef      string        `json:"client_ref"`
	Body           string        `json:"body"`
	Kind           MessageKind   `json:"kind"`
	AttachmentURL  string        `json:"attachment_url,omitempty"`
	AttachmentName string        `json:"attachment_name,omitempty"`
	Status         MessageStatus `json:"status"`
	Seen           bool          `json:"seen"`
	SeenAt         *time.Time    `json:"seen_at,omitempty"`
	AppointmentID  *string       `json:"appointment_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Sender         *UserPublic   `json:"sender,omitempty"`
}
