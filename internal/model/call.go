package model

import "time"

type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
)

// CallSession is one video-call attempt in a room. At most one session per
// room may have a null EndedAt (the "open" session); starting a new call
// while one is open reuses that row.
type CallSession struct {
	ID            string     `json:"id"`
	RoomID        string     `json:"room_id"`
	CallerID      string     `json:"caller_id"`
	CalleeID      string     `json:"callee_id"`
	AppointmentID string     `json:"appointment_id"`
	Status        CallStatus `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"` // set on ringing -> active
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ActiveSeconds returns the billable duration of the session: time between
// both parties joining and the session ending. Zero for never-activated calls.
func (s *CallSession) ActiveSeconds(now time.Time) int {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	d := end.Sub(*s.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}
