package entitlement

import (
	"testing"

	"github.com/obcare/backend/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestCheckCall(t *testing.T) {
	a := &model.Appointment{Status: model.AppointmentApproved, CallSecondsLimit: 1800, CallSecondsUsed: 600}
	v := CheckCall(a)
	assert.True(t, v.Allowed)
	assert.Equal(t, 1200, v.Remaining)

	a.CallSecondsUsed = 1800
	v = CheckCall(a)
	assert.False(t, v.Allowed)
	assert.Equal(t, 0, v.Remaining)

	// Переучёт не должен давать отрицательный остаток
	a.CallSecondsUsed = 2000
	v = CheckCall(a)
	assert.False(t, v.Allowed)
	assert.Equal(t, 0, v.Remaining)

	// Завершённая запись: звонить нельзя, но остаток — честный баланс
	a.CallSecondsUsed = 600
	a.Status = model.AppointmentCompleted
	v = CheckCall(a)
	assert.False(t, v.Allowed, "completed appointment grants nothing")
	assert.Equal(t, 1200, v.Remaining, "the unused balance is still reported")

	v = CheckCall(nil)
	assert.False(t, v.Allowed)
	assert.Equal(t, 0, v.Remaining)
}

func TestCheckChat(t *testing.T) {
	a := &model.Appointment{Status: model.AppointmentApproved, ChatMessagesLimit: 200, ChatMessagesUsed: 197}
	v := CheckChat(a)
	assert.True(t, v.Allowed)
	assert.Equal(t, 3, v.Remaining)

	a.ChatMessagesUsed = 200
	v = CheckChat(a)
	assert.False(t, v.Allowed)
	assert.Equal(t, 0, v.Remaining)

	a.ChatMessagesUsed = 197
	a.Status = model.AppointmentCompleted
	v = CheckChat(a)
	assert.False(t, v.Allowed)
	assert.Equal(t, 3, v.Remaining)
}
