package call

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	byID   map[string]*model.CallSession
	nextID int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: make(map[string]*model.CallSession)}
}

func (f *fakeSessions) OpenByRoom(_ context.Context, roomID string) (*model.CallSession, error) {
	for _, s := range f.byID {
		if s.RoomID == roomID && s.EndedAt == nil {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (*model.CallSession, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Create(_ context.Context, c *model.CallSession) error {
	for _, s := range f.byID {
		if s.RoomID == c.RoomID && s.EndedAt == nil {
			return repository.ErrConflict
		}
	}
	f.nextID++
	c.ID = fmt.Sprintf("s%d", f.nextID)
	c.Status = model.CallStatusRinging
	c.CreatedAt = time.Now()
	cp := *c
	f.byID[c.ID] = &cp
	return nil
}

func (f *fakeSessions) ResetRinging(_ context.Context, id, callerID, calleeID string) (*model.CallSession, error) {
	s, ok := f.byID[id]
	if !ok || s.EndedAt != nil {
		return nil, repository.ErrNotFound
	}
	s.CallerID = callerID
	s.CalleeID = calleeID
	s.Status = model.CallStatusRinging
	s.StartedAt = nil
	s.CreatedAt = time.Now()
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Activate(_ context.Context, id string) (*model.CallSession, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.Status != model.CallStatusRinging || s.EndedAt != nil {
		return nil, repository.ErrConflict
	}
	now := time.Now()
	s.Status = model.CallStatusActive
	s.StartedAt = &now
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) End(_ context.Context, id string) (*model.CallSession, error) {
	s, ok := f.byID[id]
	if !ok || s.EndedAt != nil {
		return nil, repository.ErrNotFound
	}
	now := time.Now()
	s.Status = model.CallStatusEnded
	s.EndedAt = &now
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) ExpireRinging(_ context.Context, olderThan time.Duration) ([]model.CallSession, error) {
	cut := time.Now().Add(-olderThan)
	var expired []model.CallSession
	for _, s := range f.byID {
		if s.Status == model.CallStatusRinging && s.EndedAt == nil && s.CreatedAt.Before(cut) {
			now := time.Now()
			s.Status = model.CallStatusEnded
			s.EndedAt = &now
			expired = append(expired, *s)
		}
	}
	return expired, nil
}

type fakeQuotas struct {
	appts map[string]*model.Appointment
}

func (f *fakeQuotas) GetByID(_ context.Context, id string) (*model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeQuotas) LatestApprovedForRoom(_ context.Context, patientID, doctorID string) (*model.Appointment, error) {
	for _, a := range f.appts {
		if a.PatientID == patientID && a.DoctorID == doctorID && a.Status == model.AppointmentApproved {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeQuotas) AddCallSeconds(_ context.Context, id string, seconds int) (*model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a.CallSecondsUsed += seconds
	if a.CallSecondsUsed > a.CallSecondsLimit {
		a.CallSecondsUsed = a.CallSecondsLimit
	}
	cp := *a
	return &cp, nil
}

type sweepRecorder struct {
	ended []model.CallSession
}

func (r *sweepRecorder) CallSweepEnded(s model.CallSession) { r.ended = append(r.ended, s) }

func testRoom() *model.Room {
	return &model.Room{ID: "room1", PatientID: "patient", DoctorID: "doctor"}
}

func testSetup(apptStatus model.AppointmentStatus, used int) (*Orchestrator, *fakeSessions, *fakeQuotas) {
	sessions := newFakeSessions()
	quotas := &fakeQuotas{appts: map[string]*model.Appointment{
		"a1": {ID: "a1", PatientID: "patient", DoctorID: "doctor", Status: apptStatus,
			CallSecondsLimit: 1800, CallSecondsUsed: used},
	}}
	return NewOrchestrator(sessions, quotas, time.Minute), sessions, quotas
}

func TestStartCreatesRingingSession(t *testing.T) {
	o, _, _ := testSetup(model.AppointmentApproved, 0)

	s, appt, err := o.Start(context.Background(), testRoom(), "patient")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusRinging, s.Status)
	assert.Equal(t, "patient", s.CallerID)
	assert.Equal(t, "doctor", s.CalleeID)
	assert.Equal(t, "a1", appt.ID)
}

func TestStartWithoutApprovedAppointment(t *testing.T) {
	o, _, _ := testSetup(model.AppointmentPending, 0)

	_, _, err := o.Start(context.Background(), testRoom(), "patient")
	assert.ErrorIs(t, err, ErrNoEntitlement)
}

func TestStartBlockedAtZeroQuota(t *testing.T) {
	o, sessions, _ := testSetup(model.AppointmentApproved, 1800)

	_, _, err := o.Start(context.Background(), testRoom(), "patient")
	assert.ErrorIs(t, err, repository.ErrQuotaExceeded)
	assert.Empty(t, sessions.byID, "the gate fires before any session row is written")
}

func TestStartForbiddenForStranger(t *testing.T) {
	o, _, _ := testSetup(model.AppointmentApproved, 0)

	_, _, err := o.Start(context.Background(), testRoom(), "stranger")
	assert.ErrorIs(t, err, repository.ErrForbidden)
}

func TestStartReusesOpenSession(t *testing.T) {
	o, sessions, _ := testSetup(model.AppointmentApproved, 0)

	first, _, err := o.Start(context.Background(), testRoom(), "patient")
	require.NoError(t, err)

	// Второй звонок в той же комнате (в обратную сторону) не плодит строк
	second, _, err := o.Start(context.Background(), testRoom(), "doctor")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "doctor", second.CallerID)
	assert.Equal(t, "patient", second.CalleeID)
	assert.Len(t, sessions.byID, 1)
}

func TestActivateAndEndCharges(t *testing.T) {
	o, sessions, quotas := testSetup(model.AppointmentApproved, 0)

	s, _, err := o.Start(context.Background(), testRoom(), "patient")
	require.NoError(t, err)

	active, err := o.Activate(context.Background(), s.ID, "doctor")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusActive, active.Status)
	require.NotNil(t, active.StartedAt)

	// Сдвигаем активацию в прошлое, чтобы набежали секунды
	started := time.Now().Add(-90 * time.Second)
	sessions.byID[s.ID].StartedAt = &started

	ended, appt, closed, err := o.End(context.Background(), s.ID, "patient")
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, model.CallStatusEnded, ended.Status)
	require.NotNil(t, appt)
	assert.InDelta(t, 90, appt.CallSecondsUsed, 2)

	// Повторный End второй стороной не списывает секунды ещё раз
	before := quotas.appts["a1"].CallSecondsUsed
	_, appt, closed, err = o.End(context.Background(), s.ID, "doctor")
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Nil(t, appt)
	assert.Equal(t, before, quotas.appts["a1"].CallSecondsUsed)
}

func TestDeclineChargesNothing(t *testing.T) {
	o, _, quotas := testSetup(model.AppointmentApproved, 0)

	s, _, err := o.Start(context.Background(), testRoom(), "patient")
	require.NoError(t, err)

	// Отклонение без активации: started_at пуст, платных секунд нет
	_, appt, closed, err := o.End(context.Background(), s.ID, "doctor")
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Nil(t, appt)
	assert.Equal(t, 0, quotas.appts["a1"].CallSecondsUsed)
}

func TestActivateForbiddenForStranger(t *testing.T) {
	o, _, _ := testSetup(model.AppointmentApproved, 0)

	s, _, err := o.Start(context.Background(), testRoom(), "patient")
	require.NoError(t, err)

	_, err = o.Activate(context.Background(), s.ID, "stranger")
	assert.ErrorIs(t, err, repository.ErrForbidden)
}

func TestSweepEndsStaleRinging(t *testing.T) {
	o, sessions, _ := testSetup(model.AppointmentApproved, 0)
	rec := &sweepRecorder{}
	o.SetNotifier(rec)

	s, _, err := o.Start(context.Background(), testRoom(), "patient")
	require.NoError(t, err)
	sessions.byID[s.ID].CreatedAt = time.Now().Add(-2 * time.Minute)

	o.SweepExpired(context.Background())
	require.Len(t, rec.ended, 1)
	assert.Equal(t, s.ID, rec.ended[0].ID)
	assert.Equal(t, model.CallStatusEnded, sessions.byID[s.ID].Status)

	// Повторный проход ничего не находит
	o.SweepExpired(context.Background())
	assert.Len(t, rec.ended, 1)
}

func TestMediaTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)
	require.True(t, issuer.Enabled())

	token, err := issuer.Issue("patient", "room1", "s1")
	require.NoError(t, err)

	userID, roomID, sessionID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "patient", userID)
	assert.Equal(t, "room1", roomID)
	assert.Equal(t, "s1", sessionID)

	_, _, _, err = issuer.Verify(token + "x")
	assert.Error(t, err)
}

func TestMediaTokensDisabledWithoutSecret(t *testing.T) {
	issuer := NewTokenIssuer("", time.Minute)
	assert.False(t, issuer.Enabled())
	_, err := issuer.Issue("patient", "room1", "s1")
	assert.ErrorIs(t, err, ErrTokensDisabled)
}
