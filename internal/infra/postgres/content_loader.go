package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"interactive-report-service/internal/content"
	"interactive-report-service/internal/domain"
)

// ContentLoader loads question and page JSONB from Postgres.
type ContentLoader struct {
	pool *pgxpool.Pool
}

func NewContentLoader(pool *pgxpool.Pool) *ContentLoader {
	return &ContentLoader{pool: pool}
}

func (l *ContentLoader) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM questions WHERE id=$1`, questionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	return q, nil
}

func (l *ContentLoader) LoadPage(ctx context.Context, slug string) (domain.Page, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM pages WHERE slug=$1`, slug).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Page{}, domain.ErrPageNotFound
	}
	if err != nil {
		return domain.Page{}, fmt.Errorf("load page: %w", err)
	}
	var p domain.Page
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Page{}, fmt.Errorf("unmarshal page: %w", err)
	}
	return p, nil
}

// Seed upserts every question and page of a bundle in one transaction.
func (l *ContentLoader) Seed(ctx context.Context, b content.Bundle) error {
	return l.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		for _, q := range b.Questions {
			data, err := json.Marshal(q)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO questions (id, data) VALUES ($1, $2::jsonb)
				ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`, q.ID, string(data)); err != nil {
				return fmt.Errorf("seed question %s: %w", q.ID, err)
			}
		}
		for _, p := range b.Pages {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO pages (slug, data) VALUES ($1, $2::jsonb)
				ON CONFLICT (slug) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`, p.Slug, string(data)); err != nil {
				return fmt.Errorf("seed page %s: %w", p.Slug, err)
			}
		}
		return nil
	})
}
