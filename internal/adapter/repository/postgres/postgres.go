package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/short-url-service/internal/entity"
)

const returningURL = `RETURNING id, short_code, original_url, access_count, created_at, updated_at`

const (
	insertURLQuery = `INSERT INTO urls(short_code, original_url) VALUES ($1, $2)
		ON CONFLICT (short_code) DO NOTHING ` + returningURL
	selectURLQuery = `SELECT id, short_code, original_url, access_count, created_at, updated_at
		FROM urls WHERE short_code = $1`
	incrementAccessCountQuery = `UPDATE urls SET access_count = access_count + 1
		WHERE short_code = $1 ` + returningURL
	updateOriginalURLQuery = `UPDATE urls SET original_url = $1, updated_at = GREATEST(NOW(), created_at)
		WHERE short_code = $2 ` + returningURL
	deleteURLQuery = `DELETE FROM urls WHERE short_code = $1`
	listURLsQuery  = `SELECT id, short_code, original_url, access_count, created_at, updated_at
		FROM urls ORDER BY id`
)

func isUniqueViolationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

type urlRow struct {
	ID          int64     `db:"id"`
	ShortCode   string    `db:"short_code"`
	OriginalURL string    `db:"original_url"`
	AccessCount int64     `db:"access_count"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row urlRow) entity() *entity.URL {
	return &entity.URL{
		ID:          row.ID,
		ShortCode:   row.ShortCode,
		OriginalURL: row.OriginalURL,
		URLStats:    entity.URLStats{AccessCount: row.AccessCount},
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

// URLRepository persists URLs in the urls table.
// Uniqueness of short codes is enforced by the table's unique constraint.
type URLRepository struct {
	db *sqlx.DB
}

func NewURLRepository(db *sqlx.DB) *URLRepository {
	return &URLRepository{db: db}
}

// getURL runs a single-row query and reports an empty result as missingErr.
func (r *URLRepository) getURL(ctx context.Context, missingErr error, query string, args ...any) (*entity.URL, error) {
	var row urlRow

	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missingErr
		}
		return nil, err
	}

	return row.entity(), nil
}

// Save inserts a new row. A taken short code yields entity.ErrShortCodeExists,
// whether the conflict is skipped by ON CONFLICT or raised by a concurrent insert.
func (r *URLRepository) Save(ctx context.Context, shortCode, originalURL string) (*entity.URL, error) {
	const op = "adapter.repository.postgres.URLRepository.Save"

	url, err := r.getURL(ctx, entity.ErrShortCodeExists, insertURLQuery, shortCode, originalURL)
	switch {
	case err == nil:
		return url, nil
	case errors.Is(err, entity.ErrShortCodeExists), isUniqueViolationError(err):
		return nil, fmt.Errorf("%s: %w", op, entity.ErrShortCodeExists)
	default:
		return nil, fmt.Errorf("%s: insert url: %w", op, err)
	}
}

func (r *URLRepository) RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.URL, error) {
	const op = "adapter.repository.postgres.URLRepository.RetrieveByShortCode"

	url, err := r.getURL(ctx, entity.ErrURLNotFound, selectURLQuery, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return url, nil
}

// RetrieveAndUpdateStats bumps access_count in the same statement that reads the row,
// so concurrent resolves never lose an increment.
func (r *URLRepository) RetrieveAndUpdateStats(ctx context.Context, shortCode string) (*entity.URL, error) {
	const op = "adapter.repository.postgres.URLRepository.RetrieveAndUpdateStats"

	url, err := r.getURL(ctx, entity.ErrURLNotFound, incrementAccessCountQuery, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return url, nil
}

func (r *URLRepository) Update(ctx context.Context, shortCode, originalURL string) (*entity.URL, error) {
	const op = "adapter.repository.postgres.URLRepository.Update"

	url, err := r.getURL(ctx, entity.ErrURLNotFound, updateOriginalURLQuery, originalURL, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return url, nil
}

func (r *URLRepository) Remove(ctx context.Context, shortCode string) error {
	const op = "adapter.repository.postgres.URLRepository.Remove"

	res, err := r.db.ExecContext(ctx, deleteURLQuery, shortCode)
	if err != nil {
		return fmt.Errorf("%s: delete url: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}

	if n == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return nil
}

// List returns every stored URL ordered by id.
func (r *URLRepository) List(ctx context.Context) ([]*entity.URL, error) {
	const op = "adapter.repository.postgres.URLRepository.List"

	var rows []urlRow

	if err := r.db.SelectContext(ctx, &rows, listURLsQuery); err != nil {
		return nil, fmt.Errorf("%s: select urls: %w", op, err)
	}

	urls := make([]*entity.URL, 0, len(rows))
	for _, row := range rows {
		urls = append(urls, row.entity())
	}

	return urls, nil
}
