package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to AppointmentStatus
		ok       bool
	}{
		{AppointmentPending, AppointmentApproved, true},
		{AppointmentPending, AppointmentDeclined, true},
		{AppointmentPending, AppointmentCanceled, true},
		{AppointmentPending, AppointmentCompleted, false},
		{AppointmentApproved, AppointmentCompleted, true},
		{AppointmentApproved, AppointmentCanceled, true},
		{AppointmentApproved, AppointmentDeclined, false},
		{AppointmentCompleted, AppointmentApproved, false},
		{AppointmentDeclined, AppointmentApproved, false},
		{AppointmentCanceled, AppointmentPending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestCallSessionActiveSeconds(t *testing.T) {
	now := time.Now()

	s := &CallSession{}
	assert.Equal(t, 0, s.ActiveSeconds(now), "never activated")

	started := now.Add(-90 * time.Second)
	s = &CallSession{StartedAt: &started}
	assert.Equal(t, 90, s.ActiveSeconds(now), "still active, counted up to now")

	ended := now.Add(-30 * time.Second)
	s = &CallSession{StartedAt: &started, EndedAt: &ended}
	assert.Equal(t, 60, s.ActiveSeconds(now), "ended, counted up to ended_at")
}

func TestGestationalWeek(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	u := &User{}
	assert.Equal(t, 0, u.GestationalWeek(now))

	lmp := now.AddDate(0, 0, -7*19) // 19 full weeks ago
	u = &User{LMPDate: &lmp}
	assert.Equal(t, 20, u.GestationalWeek(now))

	future := now.AddDate(0, 0, 3)
	u = &User{LMPDate: &future}
	assert.Equal(t, 0, u.GestationalWeek(now))

	longAgo := now.AddDate(-1, 0, 0)
	u = &User{LMPDate: &longAgo}
	assert.Equal(t, 42, u.GestationalWeek(now), "capped at 42")
}
