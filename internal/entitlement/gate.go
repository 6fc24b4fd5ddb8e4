// Package entitlement computes what a room's funding appointment still allows.
// The numbers it returns are advisory, for display and pre-flight checks; the
// hard enforcement lives in the SQL that charges the quotas.
package entitlement

import (
	"github.com/obcare/backend/internal/model"
)

// Verdict is the answer to "may this action start, and how much is left".
type Verdict struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// CheckCall reports whether a call may start on the appointment and how many
// seconds remain. Remaining is a pure balance read: never negative even if
// accounting overshot, and still reported on a completed appointment, where
// only Allowed is forced to false.
func CheckCall(a *model.Appointment) Verdict {
	if a == nil {
		return Verdict{}
	}
	remaining := a.CallSecondsLimit - a.CallSecondsUsed
	if remaining < 0 {
		remaining = 0
	}
	return Verdict{Allowed: remaining > 0 && !a.Completed(), Remaining: remaining}
}

// CheckChat reports whether another chat message may be sent and how many
// remain on the appointment's quota. Same contract as CheckCall.
func CheckChat(a *model.Appointment) Verdict {
	if a == nil {
		return Verdict{}
	}
	remaining := a.ChatMessagesLimit - a.ChatMessagesUsed
	if remaining < 0 {
		remaining = 0
	}
	return Verdict{Allowed: remaining > 0 && !a.Completed(), Remaining: remaining}
}
