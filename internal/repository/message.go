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

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageCols = `m.id, m.room_id, m.sender_id, m.client_ref, m.body, m.kind,
	        m.attachment_url, m.attachment_name, m.status, m.seen, m.seen_at, m.appointment_id, m.created_at,
	        u.id, u.full_name, u.email, COALESCE(u.phone,''), u.role, u.avatar_url, u.is_online, u.last_seen_at`

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	sender := &model.UserPublic{}
	err := s.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.ClientRef, &m.Body, &m.Kind,
		&m.AttachmentURL, &m.AttachmentName, &m.Status, &m.Seen, &m.SeenAt, &m.AppointmentID, &m.CreatedAt,
		&sender.ID, &sender.FullName, &sender.Email, &sender.Phone, &sender.Role, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt)
	if err != nil {
		return err
	}
	m.Sender = sender
	return nil
}

// Create persists a message and charges one unit of the appointment's chat
// quota in the same statement. The insert only happens if the quota row was
// actually decremented, so the database stays the single authority: a client
// that bypasses the advisory UI check still cannot overrun the limit.
//
// Returns ErrQuotaExceeded when no quota is left (or the appointment is
// completed), ErrDuplicate when (room_id, client_ref) already exists.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`WITH quota AS (
			UPDATE appointments
			SET chat_messages_used = chat_messages_used + 1
			WHERE id = $1 AND status <> 'completed' AND chat_messages_used < chat_messages_limit
			RETURNING id
		 )
		 INSERT INTO messages (room_id, sender_id, client_ref, body, kind, attachment_url, attachment_name, appointment_id)
		 SELECT $2, $3, $4, $5, $6, $7, $8, quota.id FROM quota
		 RETURNING id, created_at`,
		m.AppointmentID, m.RoomID, m.SenderID, m.ClientRef, m.Body, m.Kind, m.AttachmentURL, m.AttachmentName,
	).Scan(&m.ID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrQuotaExceeded
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	m.Status = model.MessageStatusActive
	return nil
}

// CreateSystem inserts a message without touching any appointment quota.
// Used for call_event entries written by the server itself.
func (r *MessageRepository) CreateSystem(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.CreateSystem", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, sender_id, client_ref, body, kind, appointment_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		m.RoomID, m.SenderID, m.ClientRef, m.Body, m.Kind, m.AppointmentID,
	).Scan(&m.ID, &m.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("msgRepo.CreateSystem: %w", err)
	}
	m.Status = model.MessageStatusActive
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListByRoom returns messages oldest first, so the feed applies them in the
// order they were created. Unsent messages are included as tombstones: the
// client renders them as retracted rather than dropping them from history.
func (r *MessageRepository) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByRoom", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1
		 ORDER BY m.created_at ASC
		 LIMIT $2 OFFSET $3`, roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByRoom query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByRoom scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByRoom rows: %w", err)
	}
	return messages, nil
}

// GetByClientRef находит сообщение по идемпотентному ключу клиента. Нужен
// для повторной отправки: дубликат возвращает уже созданную строку.
func (r *MessageRepository) GetByClientRef(ctx context.Context, roomID, clientRef string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByClientRef", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1 AND m.client_ref = $2`, roomID, clientRef,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByClientRef: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) GetLastMessage(ctx context.Context, roomID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLastMessage", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1
		 ORDER BY m.created_at DESC
		 LIMIT 1`, roomID,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("msgRepo.GetLastMessage: %w", err)
	}
	return m, nil
}

// MarkUnsent retracts a message. Only the sender may retract; the row stays
// in place with an empty body so both sides see the tombstone.
func (r *MessageRepository) MarkUnsent(ctx context.Context, messageID, senderID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.MarkUnsent", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = 'unsent', body = '', attachment_url = '', attachment_name = ''
		 WHERE id = $1 AND sender_id = $2`,
		messageID, senderID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkUnsent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо сообщения нет, либо его отправил другой пользователь
		if _, err := r.GetByID(ctx, messageID); err != nil {
			return nil, err
		}
		return nil, ErrForbidden
	}
	return r.GetByID(ctx, messageID)
}

// MarkSeen flags every active message in the room that was sent by the other
// party. Repeated calls are no-ops; the RETURNING clause reports exactly the
// ids that flipped this time, so fanout only covers new receipts.
func (r *MessageRepository) MarkSeen(ctx context.Context, roomID, viewerID string) ([]string, error) {
	defer logger.DeferLogDuration("msg.MarkSeen", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE messages SET seen = true, seen_at = NOW()
		 WHERE room_id = $1 AND sender_id != $2 AND seen = false AND status = 'active'
		 RETURNING id`,
		roomID, viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkSeen: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("msgRepo.MarkSeen scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.MarkSeen rows: %w", err)
	}
	return ids, nil
}
