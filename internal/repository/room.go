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

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// Ensure returns the room for the patient/doctor pair, creating it on first
// contact. The insert races safely against concurrent callers: ON CONFLICT
// falls through to the select.
func (r *RoomRepository) Ensure(ctx context.Context, patientID, doctorID string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.Ensure", time.Now())()
	room := &model.Room{}
	err := r.pool.QueryRow(ctx,
		`WITH ins AS (
			INSERT INTO rooms (patient_id, doctor_id)
			VALUES ($1, $2)
			ON CONFLICT (patient_id, doctor_id) DO NOTHING
			RETURNING id, patient_id, doctor_id, created_at
		 )
		 SELECT id, patient_id, doctor_id, created_at FROM ins
		 UNION ALL
		 SELECT id, patient_id, doctor_id, created_at FROM rooms
		 WHERE patient_id = $1 AND doctor_id = $2
		 LIMIT 1`,
		patientID, doctorID,
	).Scan(&room.ID, &room.PatientID, &room.DoctorID, &room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.Ensure: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room := &model.Room{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, patient_id, doctor_id, created_at FROM rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.PatientID, &room.DoctorID, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	defer logger.DeferLogDuration("room.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1 AND (patient_id = $2 OR doctor_id = $2))`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("roomRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

// ListForUser returns the user's rooms with both participant profiles, the
// latest message and the count of messages the user has not yet seen.
// Ordered by last activity, newest first.
func (r *RoomRepository) ListForUser(ctx context.Context, userID string) ([]model.RoomWithPreview, error) {
	defer logger.DeferLogDuration("room.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.patient_id, r.doctor_id, r.created_at,
		        p.id, p.full_name, p.email, COALESCE(p.phone,''), p.role, p.avatar_url, p.is_online, p.last_seen_at,
		        d.id, d.full_name, d.email, COALESCE(d.phone,''), d.role, d.avatar_url, d.is_online, d.last_seen_at,
		        (SELECT COUNT(*) FROM messages m
		         WHERE m.room_id = r.id AND m.sender_id != $1 AND m.seen = false AND m.status = 'active')
		 FROM rooms r
		 JOIN users p ON p.id = r.patient_id
		 JOIN users d ON d.id = r.doctor_id
		 WHERE r.patient_id = $1 OR r.doctor_id = $1
		 ORDER BY COALESCE(
		     (SELECT MAX(created_at) FROM messages m WHERE m.room_id = r.id),
		     r.created_at) DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	previews := make([]model.RoomWithPreview, 0, 16)
	for rows.Next() {
		var p model.RoomWithPreview
		if err := rows.Scan(&p.Room.ID, &p.Room.PatientID, &p.Room.DoctorID, &p.Room.CreatedAt,
			&p.Patient.ID, &p.Patient.FullName, &p.Patient.Email, &p.Patient.Phone, &p.Patient.Role, &p.Patient.AvatarURL, &p.Patient.IsOnline, &p.Patient.LastSeenAt,
			&p.Doctor.ID, &p.Doctor.FullName, &p.Doctor.Email, &p.Doctor.Phone, &p.Doctor.Role, &p.Doctor.AvatarURL, &p.Doctor.IsOnline, &p.Doctor.LastSeenAt,
			&p.UnseenCount); err != nil {
			return nil, fmt.Errorf("roomRepo.ListForUser scan: %w", err)
		}
		previews = append(previews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ListForUser rows: %w", err)
	}
	return previews, nil
}
