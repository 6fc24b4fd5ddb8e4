package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/obcare/backend/internal/logger"
	"github.com/obcare/backend/internal/model"
)

type CallRepository struct {
	pool *pgxpool.Pool
}

func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const callCols = `id, room_id, caller_id, callee_id, appointment_id, status, started_at, ended_at, created_at`

func scanCall(s interface{ Scan(dest ...any) error }, c *model.CallSession) error {
	return s.Scan(&c.ID, &c.RoomID, &c.CallerID, &c.CalleeID, &c.AppointmentID, &c.Status, &c.StartedAt, &c.EndedAt, &c.CreatedAt)
}

// OpenByRoom returns the room's un-ended session, if any. The partial unique
// index guarantees at most one such row exists.
func (r *CallRepository) OpenByRoom(ctx context.Context, roomID string) (*model.CallSession, error) {
	defer logger.DeferLogDuration("call.OpenByRoom", time.Now())()
	c := &model.CallSession{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+callCols+` FROM call_sessions WHERE room_id = $1 AND ended_at IS NULL`, roomID,
	)
	if err := scanCall(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("callRepo.OpenByRoom: %w", err)
	}
	return c, nil
}

func (r *CallRepository) GetByID(ctx context.Context, id string) (*model.CallSession, error) {
	defer logger.DeferLogDuration("call.GetByID", time.Now())()
	c := &model.CallSession{}
	row := r.pool.QueryRow(ctx, `SELECT `+callCols+` FROM call_sessions WHERE id = $1`, id)
	if err := scanCall(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("callRepo.GetByID: %w", err)
	}
	return c, nil
}

// Create inserts a ringing session. ErrConflict when the room already has an
// open session (lost the race to another caller).
func (r *CallRepository) Create(ctx context.Context, c *model.CallSession) error {
	defer logger.DeferLogDuration("call.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO call_sessions (room_id, caller_id, callee_id, appointment_id, status)
		 VALUES ($1, $2, $3, $4, 'ringing')
		 RETURNING id, created_at`,
		c.RoomID, c.CallerID, c.CalleeID, c.AppointmentID,
	).Scan(&c.ID, &c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("callRepo.Create: %w", err)
	}
	c.Status = model.CallStatusRinging
	return nil
}

// ResetRinging re-arms an open session for a fresh ring: new caller/callee
// direction, ringing status, activation timestamp cleared. Used when a call
// is retried in a room whose previous attempt never ended cleanly.
func (r *CallRepository) ResetRinging(ctx context.Context, id, callerID, calleeID string) (*model.CallSession, error) {
	defer logger.DeferLogDuration("call.ResetRinging", time.Now())()
	c := &model.CallSession{}
	row := r.pool.QueryRow(ctx,
		`UPDATE call_sessions
		 SET caller_id = $2, callee_id = $3, status = 'ringing', started_at = NULL, created_at = NOW()
		 WHERE id = $1 AND ended_at IS NULL
		 RETURNING `+callCols, id, callerID, calleeID,
	)
	if err := scanCall(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("callRepo.ResetRinging: %w", err)
	}
	return c, nil
}

// Activate moves a ringing session to active and stamps started_at, from
// which billable seconds are counted. ErrConflict if the session is not
// ringing anymore.
func (r *CallRepository) Activate(ctx context.Context, id string) (*model.CallSession, error) {
	defer logger.DeferLogDuration("call.Activate", time.Now())()
	c := &model.CallSession{}
	row := r.pool.QueryRow(ctx,
		`UPDATE call_sessions SET status = 'active', started_at = NOW()
		 WHERE id = $1 AND status = 'ringing' AND ended_at IS NULL
		 RETURNING `+callCols, id,
	)
	if err := scanCall(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("callRepo.Activate: %w", err)
	}
	return c, nil
}

// End closes an open session. Idempotent: a second End on the same session
// returns ErrNotFound because the WHERE clause no longer matches, and the
// caller treats that as already-ended.
func (r *CallRepository) End(ctx context.Context, id string) (*model.CallSession, error) {
	defer logger.DeferLogDuration("call.End", time.Now())()
	c := &model.CallSession{}
	row := r.pool.QueryRow(ctx,
		`UPDATE call_sessions SET status = 'ended', ended_at = NOW()
		 WHERE id = $1 AND ended_at IS NULL
		 RETURNING `+callCols, id,
	)
	if err := scanCall(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("callRepo.End: %w", err)
	}
	return c, nil
}

// ExpireRinging ends every session that has been ringing longer than
// olderThan and returns them, so the sweep can notify both parties.
func (r *CallRepository) ExpireRinging(ctx context.Context, olderThan time.Duration) ([]model.CallSession, error) {
	defer logger.DeferLogDuration("call.ExpireRinging", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE call_sessions SET status = 'ended', ended_at = NOW()
		 WHERE status = 'ringing' AND ended_at IS NULL AND created_at < NOW() - $1::interval
		 RETURNING `+callCols,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("callRepo.ExpireRinging: %w", err)
	}
	defer rows.Close()

	var expired []model.CallSession
	for rows.Next() {
		var c model.CallSession
		if err := scanCall(rows, &c); err != nil {
			return nil, fmt.Errorf("callRepo.ExpireRinging scan: %w", err)
		}
		expired = append(expired, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callRepo.ExpireRinging rows: %w", err)
	}
	return expired, nil
}
