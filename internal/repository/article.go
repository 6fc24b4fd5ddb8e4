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

type ArticleRepository struct {
	pool *pgxpool.Pool
}

func NewArticleRepository(pool *pgxpool.Pool) *ArticleRepository {
	return &ArticleRepository{pool: pool}
}

const articleCols = `a.id, a.author_id, a.title, a.body, a.cover_url, a.published_at, a.created_at, a.updated_at,
	        u.id, u.full_name, u.email, COALESCE(u.phone,''), u.role, u.avatar_url, u.is_online, u.last_seen_at`

func scanArticle(s interface{ Scan(dest ...any) error }, a *model.Article) error {
	author := &model.UserPublic{}
	err := s.Scan(&a.ID, &a.AuthorID, &a.Title, &a.Body, &a.CoverURL, &a.PublishedAt, &a.CreatedAt, &a.UpdatedAt,
		&author.ID, &author.FullName, &author.Email, &author.Phone, &author.Role, &author.AvatarURL, &author.IsOnline, &author.LastSeenAt)
	if err != nil {
		return err
	}
	a.Author = author
	return nil
}

func (r *ArticleRepository) Create(ctx context.Context, a *model.Article) error {
	defer logger.DeferLogDuration("article.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO articles (author_id, title, body, cover_url)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		a.AuthorID, a.Title, a.Body, a.CoverURL,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("articleRepo.Create: %w", err)
	}
	return nil
}

func (r *ArticleRepository) GetByID(ctx context.Context, id string) (*model.Article, error) {
	defer logger.DeferLogDuration("article.GetByID", time.Now())()
	a := &model.Article{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+articleCols+`
		 FROM articles a
		 JOIN users u ON u.id = a.author_id
		 WHERE a.id = $1`, id,
	)
	if err := scanArticle(row, a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("articleRepo.GetByID: %w", err)
	}
	return a, nil
}

// ListPublished — опубликованные статьи для пациентов, новые первыми.
func (r *ArticleRepository) ListPublished(ctx context.Context, limit, offset int) ([]model.Article, error) {
	defer logger.DeferLogDuration("article.ListPublished", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+articleCols+`
		 FROM articles a
		 JOIN users u ON u.id = a.author_id
		 WHERE a.published_at IS NOT NULL
		 ORDER BY a.published_at DESC
		 LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("articleRepo.ListPublished query: %w", err)
	}
	defer rows.Close()
	return collectArticles(rows, limit, "ListPublished")
}

// ListAll — все статьи, включая черновики (редактура персоналом).
func (r *ArticleRepository) ListAll(ctx context.Context, limit, offset int) ([]model.Article, error) {
	defer logger.DeferLogDuration("article.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+articleCols+`
		 FROM articles a
		 JOIN users u ON u.id = a.author_id
		 ORDER BY a.updated_at DESC
		 LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("articleRepo.ListAll query: %w", err)
	}
	defer rows.Close()
	return collectArticles(rows, limit, "ListAll")
}

func collectArticles(rows pgx.Rows, limit int, op string) ([]model.Article, error) {
	articles := make([]model.Article, 0, limit)
	for rows.Next() {
		var a model.Article
		if err := scanArticle(rows, &a); err != nil {
			return nil, fmt.Errorf("articleRepo.%s scan: %w", op, err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("articleRepo.%s rows: %w", op, err)
	}
	return articles, nil
}

func (r *ArticleRepository) Update(ctx context.Context, id, title, body, coverURL string) error {
	defer logger.DeferLogDuration("article.Update", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE articles SET title = $2, body = $3, cover_url = $4, updated_at = NOW() WHERE id = $1`,
		id, title, body, coverURL,
	)
	if err != nil {
		return fmt.Errorf("articleRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPublished публикует (true) или снимает с публикации (false).
func (r *ArticleRepository) SetPublished(ctx context.Context, id string, published bool) error {
	defer logger.DeferLogDuration("article.SetPublished", time.Now())()
	var tag pgconn.CommandTag
	var err error
	if published {
		tag, err = r.pool.Exec(ctx,
			`UPDATE articles SET published_at = COALESCE(published_at, NOW()), updated_at = NOW() WHERE id = $1`, id)
	} else {
		tag, err = r.pool.Exec(ctx,
			`UPDATE articles SET published_at = NULL, updated_at = NOW() WHERE id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("articleRepo.SetPublished: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ArticleRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("article.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("articleRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
