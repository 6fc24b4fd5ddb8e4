package model

import "time"

type Article struct {
	ID          string      `json:"id"`
	AuthorID    string      `json:"author_id"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	CoverURL    string      `json:"cover_url,omitempty"`
	PublishedAt *time.Time  `json:"published_at,omitempty"` // nil = draft
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Author      *UserPublic `json:"author,omitempty"`
}

func (a *Article) Published() bool { return a.PublishedAt != nil }
