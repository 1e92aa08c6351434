package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/techdigest/internal/news"
)

// GetExistingURLs returns the subset of urls already stored as articles.
func (s *Store) GetExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(urls) == 0 {
		return existing, nil
	}

	// SQLite caps bound parameters; query in chunks.
	const chunk = 500
	for start := 0; start < len(urls); start += chunk {
		end := min(start+chunk, len(urls))
		part := urls[start:end]

		args := make([]any, len(part))
		for i, u := range part {
			args[i] = u
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT url FROM articles WHERE url IN (`+placeholders(len(part))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("querying existing urls: %w", err)
		}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning url: %w", err)
			}
			existing[u] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterating urls: %w", err)
		}
	}
	return existing, nil
}

// SaveArticles inserts articles one at a time and returns how many rows were
// written. A URL that is already stored is skipped silently. Any other
// per-item failure is logged and skipped; an error is returned only when
// nothing could be written at all.
func (s *Store) SaveArticles(ctx context.Context, articles []news.Article) (int, error) {
	saved := 0
	var firstErr error
	now := formatTime(s.now())

	for _, a := range articles {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		var description, publishedAt sql.NullString
		if a.Description != "" {
			description = sql.NullString{String: a.Description, Valid: true}
		}
		if !a.PublishedAt.IsZero() {
			publishedAt = sql.NullString{String: formatTime(a.PublishedAt), Valid: true}
		}
		createdAt := now
		if !a.CreatedAt.IsZero() {
			createdAt = formatTime(a.CreatedAt)
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO articles (id, url, title, description, source, embedding, published_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(url) DO NOTHING`,
			a.ID, a.URL, a.Title, description, string(a.Source), encodeFloat32s(a.Embedding), publishedAt, createdAt,
		)
		if err != nil {
			slog.Warn("storage: saving article failed", "url", a.URL, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			saved++
		}
	}

	if saved == 0 && firstErr != nil {
		return 0, fmt.Errorf("saving articles: %w", firstErr)
	}
	return saved, nil
}

// GetTodayArticles returns articles persisted since local midnight of now,
// newest publication first. Articles without a publication time sort last.
func (s *Store) GetTodayArticles(ctx context.Context, now time.Time) ([]news.Article, error) {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, title, description, source, embedding, published_at, created_at
		FROM articles
		WHERE created_at >= ?
		ORDER BY published_at IS NULL, published_at DESC, created_at DESC`,
		formatTime(midnight),
	)
	if err != nil {
		return nil, fmt.Errorf("querying today's articles: %w", err)
	}
	defer rows.Close()

	var out []news.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountArticles returns the total number of stored articles.
func (s *Store) CountArticles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(r rowScanner) (news.Article, error) {
	var a news.Article
	var source, createdAt string
	var description, publishedAt sql.NullString
	var blob []byte
	if err := r.Scan(&a.ID, &a.URL, &a.Title, &description, &source, &blob, &publishedAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return a, err
		}
		return a, fmt.Errorf("scanning article: %w", err)
	}
	a.Source = news.Source(source)
	a.Description = description.String

	var err error
	if a.Embedding, err = decodeFloat32s(blob); err != nil {
		return a, fmt.Errorf("decoding embedding for article %s: %w", a.ID, err)
	}
	if publishedAt.Valid {
		if a.PublishedAt, err = parseTime(publishedAt.String); err != nil {
			return a, fmt.Errorf("parsing published_at for article %s: %w", a.ID, err)
		}
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return a, fmt.Errorf("parsing created_at for article %s: %w", a.ID, err)
	}
	return a, nil
}
