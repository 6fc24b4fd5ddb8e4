package model

import "time"

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentApproved  AppointmentStatus = "approved"
	AppointmentDeclined  AppointmentStatus = "declined"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCanceled  AppointmentStatus = "canceled"
)

// appointmentTransitions lists the allowed status moves. Completing or
// declining is terminal; a pending request can still be canceled by the patient.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentPending:  {AppointmentApproved, AppointmentDeclined, AppointmentCanceled},
	AppointmentApproved: {AppointmentCompleted, AppointmentCanceled},
}

// CanTransition reports whether moving from to next is a valid status change.
func CanTransition(from, next AppointmentStatus) bool {
	for _, s := range appointmentTransitions[from] {
		if s == next {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID                string            `json:"id"`
	PatientID         string            `json:"patient_id"`
	DoctorID          string            `json:"doctor_id"`
	ScheduledAt       time.Time         `json:"scheduled_at"`
	ConsultationType  string            `json:"consultation_type"`
	Reason            string            `json:"reason"`
	Notes             string            `json:"notes"`
	Status            AppointmentStatus `json:"status"`
	CallSecondsLimit  int               `json:"call_seconds_limit"`
	CallSecondsUsed   int               `json:"call_seconds_used"`
	ChatMessagesLimit int               `json:"chat_messages_limit"`
	ChatMessagesUsed  int               `json:"chat_messages_used"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Completed reports whether the appointment has been closed out by the
// clinician; completed appointments grant no further chat or call usage.
func (a *Appointment) Completed() bool {
	return a.Status == AppointmentCompleted
}
