package model

import "time"

// Room is a two-party consultation thread: one patient, one doctor.
type Room struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OtherParticipant returns the participant that is not userID,
// or empty if userID is not in the room.
func (r *Room) OtherParticipant(userID string) string {
	switch userID {
	case r.PatientID:
		return r.DoctorID
	case r.DoctorID:
		return r.PatientID
	}
	return ""
}

// HasParticipant reports whether userID is one of the two room members.
func (r *Room) HasParticipant(userID string) bool {
	return userID == r.PatientID || userID == r.DoctorID
}

type RoomWithPreview struct {
	Room        Room        `json:"room"`
	Patient     UserPublic  `json:"patient"`
	Doctor      UserPublic  `json:"doctor"`
	LastMessage *Message    `json:"last_message,omitempty"`
	UnseenCount int         `json:"unseen_count"`
}
