// Package call drives the video-call session lifecycle: ringing, activation,
// teardown and quota accounting. Sessions live in call_sessions; a partial
// unique index keeps at most one un-ended session per room, and the
// orchestrator reuses that row instead of stacking ringing attempts.
package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obcare/backend/internal/entitlement"
	"github.com/obcare/backend/internal/logger"
	"github.com/obcare/backend/internal/model"
	"github.com/obcare/backend/internal/repository"
)

// ErrNoEntitlement — в комнате нет одобренной записи, финансирующей звонок.
var ErrNoEntitlement = errors.New("no approved appointment for this room")

// SessionStore is the call_sessions persistence surface the orchestrator
// needs. Implemented by repository.CallRepository.
type SessionStore interface {
	OpenByRoom(ctx context.Context, roomID string) (*model.CallSession, error)
	GetByID(ctx context.Context, id string) (*model.CallSession, error)
	Create(ctx context.Context, c *model.CallSession) error
	ResetRinging(ctx context.Context, id, callerID, calleeID string) (*model.CallSession, error)
	Activate(ctx context.Context, id string) (*model.CallSession, error)
	End(ctx context.Context, id string) (*model.CallSession, error)
	ExpireRinging(ctx context.Context, olderThan time.Duration) ([]model.CallSession, error)
}

// QuotaStore funds calls from appointments. Implemented by
// repository.AppointmentRepository.
type QuotaStore interface {
	GetByID(ctx context.Context, id string) (*model.Appointment, error)
	LatestApprovedForRoom(ctx context.Context, patientID, doctorID string) (*model.Appointment, error)
	AddCallSeconds(ctx context.Context, id string, seconds int) (*model.Appointment, error)
}

// Notifier receives sessions ended by the background sweep so the transport
// layer can tell both parties the ring timed out.
type Notifier interface {
	CallSweepEnded(s model.CallSession)
}

type Orchestrator struct {
	sessions SessionStore
	quotas   QuotaStore

	ringTimeout time.Duration
	notifier    Notifier
}

func NewOrchestrator(sessions SessionStore, quotas QuotaStore, ringTimeout time.Duration) *Orchestrator {
	if ringTimeout <= 0 {
		ringTimeout = 60 * time.Second
	}
	return &Orchestrator{sessions: sessions, quotas: quotas, ringTimeout: ringTimeout}
}

// SetNotifier wires the sweep fanout. Optional; without it expired sessions
// are still ended, just silently.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// Start begins (or re-arms) a call in the room. The quota check here is the
// hard gate for calls: unlike chat, a call that starts can always run a few
// seconds past its budget, so refusing to start at zero balance is the
// enforcement point.
//
// Returns the ringing session and its funding appointment. Errors:
// ErrNoEntitlement, repository.ErrQuotaExceeded, repository.ErrForbidden.
func (o *Orchestrator) Start(ctx context.Context, room *model.Room, callerID string) (*model.CallSession, *model.Appointment, error) {
	defer logger.DeferLogDuration("call.Start", time.Now())()
	if !room.HasParticipant(callerID) {
		return nil, nil, repository.ErrForbidden
	}

	appt, err := o.quotas.LatestApprovedForRoom(ctx, room.PatientID, room.DoctorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrNoEntitlement
	}
	if err != nil {
		return nil, nil, fmt.Errorf("call.Start entitlement: %w", err)
	}
	if v := entitlement.CheckCall(appt); !v.Allowed {
		return nil, nil, repository.ErrQuotaExceeded
	}

	calleeID := room.OtherParticipant(callerID)

	// Комната могла остаться с незакрытой сессией (клиент умер) — переармируем её
	open, err := o.sessions.OpenByRoom(ctx, room.ID)
	if err == nil {
		s, err := o.sessions.ResetRinging(ctx, open.ID, callerID, calleeID)
		if err != nil {
			return nil, nil, fmt.Errorf("call.Start reset: %w", err)
		}
		return s, appt, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("call.Start open lookup: %w", err)
	}

	s := &model.CallSession{
		RoomID:        room.ID,
		CallerID:      callerID,
		CalleeID:      calleeID,
		AppointmentID: appt.ID,
	}
	if err := o.sessions.Create(ctx, s); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Проиграли гонку другому звонящему — переармируем его сессию
			open, lookupErr := o.sessions.OpenByRoom(ctx, room.ID)
			if lookupErr != nil {
				return nil, nil, fmt.Errorf("call.Start race lookup: %w", lookupErr)
			}
			s, err := o.sessions.ResetRinging(ctx, open.ID, callerID, calleeID)
			if err != nil {
				return nil, nil, fmt.Errorf("call.Start race reset: %w", err)
			}
			return s, appt, nil
		}
		return nil, nil, fmt.Errorf("call.Start create: %w", err)
	}
	return s, appt, nil
}

// Activate is called when the callee accepts: the session flips to active
// and billable time starts counting.
func (o *Orchestrator) Activate(ctx context.Context, sessionID, userID string) (*model.CallSession, error) {
	defer logger.DeferLogDuration("call.Activate", time.Now())()
	s, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID != s.CallerID && userID != s.CalleeID {
		return nil, repository.ErrForbidden
	}
	return o.sessions.Activate(ctx, sessionID)
}

// End closes the session (either side may hang up, declining counts too)
// and charges the active seconds against the appointment. closed reports
// whether this call is the one that actually ended the session: a second End
// on an already-ended session returns the stored row with closed=false and
// no extra accounting.
func (o *Orchestrator) End(ctx context.Context, sessionID, userID string) (s *model.CallSession, appt *model.Appointment, closed bool, err error) {
	defer logger.DeferLogDuration("call.End", time.Now())()
	s, err = o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, false, err
	}
	if userID != s.CallerID && userID != s.CalleeID {
		return nil, nil, false, repository.ErrForbidden
	}

	ended, err := o.sessions.End(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		// Уже закрыта (вторая сторона успела раньше) — учёт уже сделан
		return s, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	appt, err = o.charge(ctx, ended)
	if err != nil {
		// Сессия закрыта, секунды посчитаем как смогли — звонок не откатить
		logger.Errorf("call charge session=%s: %v", ended.ID, err)
	}
	return ended, appt, true, nil
}

func (o *Orchestrator) charge(ctx context.Context, s *model.CallSession) (*model.Appointment, error) {
	seconds := s.ActiveSeconds(time.Now())
	if seconds <= 0 {
		return nil, nil
	}
	return o.quotas.AddCallSeconds(ctx, s.AppointmentID, seconds)
}

// SweepExpired ends sessions that have been ringing past the timeout.
// Run periodically from main; unanswered rings otherwise hold the room's
// open slot forever.
func (o *Orchestrator) SweepExpired(ctx context.Context) {
	expired, err := o.sessions.ExpireRinging(ctx, o.ringTimeout)
	if err != nil {
		logger.Errorf("call sweep: %v", err)
		return
	}
	for _, s := range expired {
		logger.Infof("call sweep: ended unanswered session=%s room=%s", s.ID, s.RoomID)
		if o.notifier != nil {
			o.notifier.CallSweepEnded(s)
		}
	}
}

// RunSweeper blocks, sweeping every interval until ctx is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			o.SweepExpired(sweepCtx)
			cancel()
		}
	}
}
