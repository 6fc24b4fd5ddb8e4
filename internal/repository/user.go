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

// userCols — список колонок для SELECT, порядок соответствует scanUser.
const userCols = `id, full_name, email, COALESCE(phone,''), role, avatar_url, lmp_date, is_online, last_seen_at, created_at, disabled_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User (порядок соответствует userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &u.Role, &u.AvatarURL, &u.LMPDate, &u.IsOnline, &u.LastSeenAt, &u.CreatedAt, &u.DisabledAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, full_name, email, phone, role, avatar_url, lmp_date, is_online, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.FullName, u.Email, u.Phone, u.Role, u.AvatarURL, u.LMPDate, u.IsOnline, u.LastSeenAt, u.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByEmail", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", err)
	}
	return u, nil
}

// List returns users filtered by role (empty role = all), with ILIKE search
// over name/email/phone. Disabled users are included so staff can re-enable them.
func (r *UserRepository) List(ctx context.Context, role model.Role, search string, limit, offset int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.List", time.Now())()
	sql := `SELECT ` + userCols + ` FROM users WHERE 1=1`
	args := []interface{}{}
	if role != "" {
		args = append(args, role)
		sql += fmt.Sprintf(` AND role = $%d`, len(args))
	}
	if search != "" {
		args = append(args, "%"+search+"%")
		sql += fmt.Sprintf(` AND (full_name ILIKE $%d OR email ILIKE $%d OR phone ILIKE $%d)`, len(args), len(args), len(args))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY full_name LIMIT $%d`, len(args))
	args = append(args, offset)
	sql += fmt.Sprintf(` OFFSET $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("userRepo.List query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.List scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.List rows: %w", err)
	}
	return users, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID, fullName, avatarURL, email, phone string) error {
	defer logger.DeferLogDuration("user.UpdateProfile", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET full_name = $1, avatar_url = $2, email = $3, phone = $4 WHERE id = $5`,
		fullName, avatarURL, email, phone, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.UpdateProfile: %w", err)
	}
	return nil
}

// SetLMPDate записывает дату последней менструации пациентки (nil — сброс).
func (r *UserRepository) SetLMPDate(ctx context.Context, userID string, lmp *time.Time) error {
	defer logger.DeferLogDuration("user.SetLMPDate", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET lmp_date = $1 WHERE id = $2 AND role = 'patient'`,
		lmp, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetLMPDate: %w", err)
	}
	return nil
}

func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen_at = $2 WHERE id = $3`,
		online, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// SetRole меняет роль пользователя (назначение врача/секретаря).
func (r *UserRepository) SetRole(ctx context.Context, userID string, role model.Role) error {
	defer logger.DeferLogDuration("user.SetRole", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role = $1 WHERE id = $2`, role, userID)
	if err != nil {
		return fmt.Errorf("userRepo.SetRole: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDisabled выставляет или снимает отключение пользователя (только персонал через API).
func (r *UserRepository) SetDisabled(ctx context.Context, userID string, disabled bool) error {
	defer logger.DeferLogDuration("user.SetDisabled", time.Now())()
	if disabled {
		_, err := r.pool.Exec(ctx, `UPDATE users SET disabled_at = NOW() WHERE id = $1`, userID)
		if err != nil {
			return fmt.Errorf("userRepo.SetDisabled: %w", err)
		}
	} else {
		_, err := r.pool.Exec(ctx, `UPDATE users SET disabled_at = NULL WHERE id = $1`, userID)
		if err != nil {
			return fmt.Errorf("userRepo.SetDisabled: %w", err)
		}
	}
	return nil
}
