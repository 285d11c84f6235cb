// Package bookstore implements the PostgreSQL book record store.
package bookstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyforge/storyforge/internal/book"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrNotFound is returned when no book exists for the given id.
var ErrNotFound = errors.New("book not found")

const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// Store persists book records in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to PostgreSQL and returns a Store. The initial ping is
// retried a few times so the service survives a database that is still
// coming up.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(connectDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("postgres not ready, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies all pending schema migrations. Safe to run on every start.
func Migrate(databaseURL string, logger *slog.Logger) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("book schema up to date")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("book schema migrated")
	return nil
}

// migrateURL rewrites the URL scheme for golang-migrate's pgx/v5 driver,
// which registers itself as "pgx5".
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}

// Create inserts a new book record.
func (s *Store) Create(ctx context.Context, b *book.Book) error {
	content, err := json.Marshal(b.Manuscript)
	if err != nil {
		return fmt.Errorf("failed to marshal manuscript: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO books (id, title, status, content, age_range, characters, story_prompt, stars, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		b.ID, b.Manuscript.Title, string(b.Status), content,
		b.AgeRange, b.Characters, b.StoryPrompt, b.Stars, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

// SetComplete transitions a book to complete with its final manuscript.
// The status change and the content write are one update so readers never
// see a complete book without its images.
func (s *Store) SetComplete(ctx context.Context, id string, m book.Manuscript) error {
	content, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manuscript: %w", err)
	}
	return s.setStatus(ctx, id, book.StatusComplete, content)
}

// SetFailed transitions a book to failed, leaving its content untouched.
func (s *Store) SetFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, book.StatusFailed, nil)
}

func (s *Store) setStatus(ctx context.Context, id string, status book.Status, content []byte) error {
	var tag pgconn.CommandTag
	var err error
	if content != nil {
		tag, err = s.pool.Exec(ctx, `
			UPDATE books SET status = $2, content = $3, title = $3::jsonb->>'title', updated_at = now()
			WHERE id = $1`,
			id, string(status), content,
		)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE books SET status = $2, updated_at = now()
			WHERE id = $1`,
			id, string(status),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update book %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches a single book by id.
func (s *Store) Get(ctx context.Context, id string) (*book.Book, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, content, age_range, characters, story_prompt, stars, created_at, updated_at
		FROM books WHERE id = $1`, id)
	return scanBook(row)
}

// ListOptions controls List ordering and size.
type ListOptions struct {
	SortBy string // "stars" or "date"
	Order  string // "asc" or "desc"
	Limit  int
}

const defaultListLimit = 10

// List returns books ordered by stars or creation date.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]book.Book, error) {
	column := "stars"
	if opts.SortBy == "date" {
		column = "created_at"
	}
	direction := "DESC"
	if opts.Order == "asc" {
		direction = "ASC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	// column and direction come from the whitelists above, never from input.
	query := fmt.Sprintf(`
		SELECT id, status, content, age_range, characters, story_prompt, stars, created_at, updated_at
		FROM books ORDER BY %s %s LIMIT $1`, column, direction)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []book.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

// UpdateStars sets a book's star count.
func (s *Store) UpdateStars(ctx context.Context, id string, stars int) (*book.Book, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE books SET stars = $2, updated_at = now() WHERE id = $1`, id, stars)
	if err != nil {
		return nil, fmt.Errorf("failed to update stars for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func scanBook(row pgx.Row) (*book.Book, error) {
	var (
		b       book.Book
		status  string
		content []byte
	)
	err := row.Scan(&b.ID, &status, &content, &b.AgeRange, &b.Characters,
		&b.StoryPrompt, &b.Stars, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan book: %w", err)
	}
	b.Status = book.Status(status)
	if err := json.Unmarshal(content, &b.Manuscript); err != nil {
		return nil, fmt.Errorf("failed to decode manuscript for %s: %w", b.ID, err)
	}
	return &b, nil
}
