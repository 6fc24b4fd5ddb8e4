package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/obcare/backend/internal/logger"
	"github.com/obcare/backend/internal/model"
)

type AppointmentRepository struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepository(pool *pgxpool.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

const appointmentCols = `id, patient_id, doctor_id, scheduled_at, consultation_type, reason, notes, status,
	call_seconds_limit, call_seconds_used, chat_messages_limit, chat_messages_used, created_at`

func scanAppointment(s interface{ Scan(dest ...any) error }, a *model.Appointment) error {
	return s.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduledAt, &a.ConsultationType, &a.Reason, &a.Notes, &a.Status,
		&a.CallSecondsLimit, &a.CallSecondsUsed, &a.ChatMessagesLimit, &a.ChatMessagesUsed, &a.CreatedAt)
}

func (r *AppointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	defer logger.DeferLogDuration("appt.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO appointments (patient_id, doctor_id, scheduled_at, consultation_type, reason, status)
		 VALUES ($1, $2, $3, $4, $5, 'pending')
		 RETURNING id, call_seconds_limit, call_seconds_used, chat_messages_limit, chat_messages_used, created_at`,
		a.PatientID, a.DoctorID, a.ScheduledAt, a.ConsultationType, a.Reason,
	).Scan(&a.ID, &a.CallSecondsLimit, &a.CallSecondsUsed, &a.ChatMessagesLimit, &a.ChatMessagesUsed, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("apptRepo.Create: %w", err)
	}
	a.Status = model.AppointmentPending
	return nil
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (*model.Appointment, error) {
	defer logger.DeferLogDuration("appt.GetByID", time.Now())()
	a := &model.Appointment{}
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id)
	if err := scanAppointment(row, a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("apptRepo.GetByID: %w", err)
	}
	return a, nil
}

// ListForUser returns appointments where the user is either side. Staff other
// than the assigned doctor (секретарь) use ListAll instead.
func (r *AppointmentRepository) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Appointment, error) {
	defer logger.DeferLogDuration("appt.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+appointmentCols+` FROM appointments
		 WHERE patient_id = $1 OR doctor_id = $1
		 ORDER BY scheduled_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("apptRepo.ListForUser query: %w", err)
	}
	defer rows.Close()
	return collectAppointments(rows, limit, "ListForUser")
}

// ListAll — все записи клиники для секретаря, опционально по статусу.
func (r *AppointmentRepository) ListAll(ctx context.Context, status model.AppointmentStatus, limit, offset int) ([]model.Appointment, error) {
	defer logger.DeferLogDuration("appt.ListAll", time.Now())()
	sql := `SELECT ` + appointmentCols + ` FROM appointments`
	args := []interface{}{}
	if status != "" {
		args = append(args, status)
		sql += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY scheduled_at DESC LIMIT $%d`, len(args))
	args = append(args, offset)
	sql += fmt.Sprintf(` OFFSET $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("apptRepo.ListAll query: %w", err)
	}
	defer rows.Close()
	return collectAppointments(rows, limit, "ListAll")
}

func collectAppointments(rows pgx.Rows, limit int, op string) ([]model.Appointment, error) {
	appts := make([]model.Appointment, 0, limit)
	for rows.Next() {
		var a model.Appointment
		if err := scanAppointment(rows, &a); err != nil {
			return nil, fmt.Errorf("apptRepo.%s scan: %w", op, err)
		}
		appts = append(appts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("apptRepo.%s rows: %w", op, err)
	}
	return appts, nil
}

// UpdateStatus applies a status transition, enforcing the allowed moves in
// the WHERE clause so concurrent updates cannot skip a state. ErrConflict
// when the stored status does not permit the move.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, next model.AppointmentStatus, notes string) (*model.Appointment, error) {
	defer logger.DeferLogDuration("appt.UpdateStatus", time.Now())()
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(a.Status, next) {
		return nil, ErrConflict
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE appointments SET status = $2, notes = CASE WHEN $3 = '' THEN notes ELSE $3 END
		 WHERE id = $1 AND status = $4
		 RETURNING `+appointmentCols,
		id, next, notes, a.Status,
	)
	updated := &model.Appointment{}
	if err := scanAppointment(row, updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Статус успел измениться между чтением и записью
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("apptRepo.UpdateStatus: %w", err)
	}
	return updated, nil
}

// LatestApprovedForRoom returns the newest approved appointment between the
// pair, the one whose quotas fund the room's chat and calls. ErrNotFound
// means the room currently has no entitlement source.
func (r *AppointmentRepository) LatestApprovedForRoom(ctx context.Context, patientID, doctorID string) (*model.Appointment, error) {
	defer logger.DeferLogDuration("appt.LatestApprovedForRoom", time.Now())()
	a := &model.Appointment{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointments
		 WHERE patient_id = $1 AND doctor_id = $2 AND status = 'approved'
		 ORDER BY scheduled_at DESC
		 LIMIT 1`, patientID, doctorID,
	)
	if err := scanAppointment(row, a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("apptRepo.LatestApprovedForRoom: %w", err)
	}
	return a, nil
}

// AddCallSeconds charges call time against the appointment, clamping at the
// limit rather than failing: the call already happened, the seconds are spent.
func (r *AppointmentRepository) AddCallSeconds(ctx context.Context, id string, seconds int) (*model.Appointment, error) {
	defer logger.DeferLogDuration("appt.AddCallSeconds", time.Now())()
	if seconds < 0 {
		seconds = 0
	}
	a := &model.Appointment{}
	row := r.pool.QueryRow(ctx,
		`UPDATE appointments
		 SET call_seconds_used = LEAST(call_seconds_limit, call_seconds_used + $2)
		 WHERE id = $1
		 RETURNING `+appointmentCols, id, seconds,
	)
	if err := scanAppointment(row, a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("apptRepo.AddCallSeconds: %w", err)
	}
	return a, nil
}
