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

type InsightRepository struct {
	pool *pgxpool.Pool
}

func NewInsightRepository(pool *pgxpool.Pool) *InsightRepository {
	return &InsightRepository{pool: pool}
}

// ByWeek returns guidance for the given gestational week. Weeks without a
// dedicated row fall back to the nearest earlier week that has one.
func (r *InsightRepository) ByWeek(ctx context.Context, week int) (*model.HealthInsight, error) {
	defer logger.DeferLogDuration("insight.ByWeek", time.Now())()
	h := &model.HealthInsight{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, week, trimester, title, body FROM health_insights
		 WHERE week <= $1
		 ORDER BY week DESC
		 LIMIT 1`, week,
	).Scan(&h.ID, &h.Week, &h.Trimester, &h.Title, &h.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("insightRepo.ByWeek: %w", err)
	}
	return h, nil
}

func (r *InsightRepository) List(ctx context.Context) ([]model.HealthInsight, error) {
	defer logger.DeferLogDuration("insight.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, week, trimester, title, body FROM health_insights ORDER BY week`,
	)
	if err != nil {
		return nil, fmt.Errorf("insightRepo.List query: %w", err)
	}
	defer rows.Close()

	insights := make([]model.HealthInsight, 0, 42)
	for rows.Next() {
		var h model.HealthInsight
		if err := rows.Scan(&h.ID, &h.Week, &h.Trimester, &h.Title, &h.Body); err != nil {
			return nil, fmt.Errorf("insightRepo.List scan: %w", err)
		}
		insights = append(insights, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insightRepo.List rows: %w", err)
	}
	return insights, nil
}
