package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/techdigest/internal/news"
)

const userColumns = `id, external_id, article_count, is_active, created_at, updated_at`

// CreateUser registers externalID and returns the stored user. Registering an
// existing identity returns the existing row unchanged.
func (s *Store) CreateUser(ctx context.Context, externalID string, articleCount int) (news.User, bool, error) {
	if articleCount == 0 {
		articleCount = news.DefaultArticleCount
	}
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, external_id, article_count, is_active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(external_id) DO NOTHING`,
		uuid.New().String(), externalID, articleCount, now, now,
	)
	if err != nil {
		return news.User{}, false, fmt.Errorf("inserting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return news.User{}, false, fmt.Errorf("checking inserted user rows: %w", err)
	}
	u, err := s.GetUserByExternalID(ctx, externalID)
	return u, n > 0, err
}

// GetUserByExternalID returns ErrNotFound for unknown identities.
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (news.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID)
	return scanUser(row)
}

// GetUser returns a user by internal id.
func (s *Store) GetUser(ctx context.Context, id string) (news.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UpdateUser applies the non-nil fields of upd and returns the updated user.
func (s *Store) UpdateUser(ctx context.Context, id string, upd UserUpdate) (news.User, error) {
	now := formatTime(s.now())
	var count sql.NullInt64
	var active sql.NullBool
	if upd.ArticleCount != nil {
		count = sql.NullInt64{Int64: int64(*upd.ArticleCount), Valid: true}
	}
	if upd.IsActive != nil {
		active = sql.NullBool{Bool: *upd.IsActive, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			article_count = COALESCE(?, article_count),
			is_active = COALESCE(?, is_active),
			updated_at = ?
		WHERE id = ?`,
		count, active, now, id,
	)
	if err != nil {
		return news.User{}, fmt.Errorf("updating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return news.User{}, fmt.Errorf("checking updated user rows: %w", err)
	}
	if n == 0 {
		return news.User{}, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

// GetActiveUsers returns users with delivery enabled, oldest registration first.
func (s *Store) GetActiveUsers(ctx context.Context) ([]news.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_active = 1 ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying active users: %w", err)
	}
	defer rows.Close()

	var out []news.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(r rowScanner) (news.User, error) {
	var u news.User
	var createdAt, updatedAt string
	err := r.Scan(&u.ID, &u.ExternalID, &u.ArticleCount, &u.IsActive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, fmt.Errorf("scanning user: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return u, fmt.Errorf("parsing created_at for user %s: %w", u.ID, err)
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return u, fmt.Errorf("parsing updated_at for user %s: %w", u.ID, err)
	}
	return u, nil
}

// AddTheme stores a theme for userID. A name that differs from an existing
// theme only in case yields ErrConflict.
func (s *Store) AddTheme(ctx context.Context, userID, name string, embedding []float32) (news.Theme, error) {
	t := news.Theme{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Embedding: embedding,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO themes (id, user_id, name, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Name, encodeFloat32s(t.Embedding), formatTime(t.CreatedAt),
	)
	if isUniqueViolation(err) {
		return news.Theme{}, ErrConflict
	}
	if err != nil {
		return news.Theme{}, fmt.Errorf("inserting theme: %w", err)
	}
	return t, nil
}

// RemoveTheme deletes the user's theme matching name case-insensitively.
func (s *Store) RemoveTheme(ctx context.Context, userID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM themes WHERE user_id = ? AND name = ? COLLATE NOCASE`, userID, name)
	if err != nil {
		return fmt.Errorf("deleting theme: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted theme rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserThemes returns the user's themes in creation order.
func (s *Store) GetUserThemes(ctx context.Context, userID string) ([]news.Theme, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, embedding, created_at
		FROM themes WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying themes: %w", err)
	}
	defer rows.Close()

	var out []news.Theme
	for rows.Next() {
		var t news.Theme
		var blob []byte
		var createdAt string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning theme: %w", err)
		}
		if t.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for theme %s: %w", t.ID, err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for theme %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetDeliveredArticleIDs returns the ids of every article already sent to userID.
func (s *Store) GetDeliveredArticleIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT article_id FROM delivered_articles WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying delivered articles: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning delivered article: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MarkAsDelivered records delivery of articleIDs to userID. Records that
// already exist are left untouched.
func (s *Store) MarkAsDelivered(ctx context.Context, userID string, articleIDs []string) error {
	if len(articleIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delivery transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	for _, id := range articleIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO delivered_articles (user_id, article_id, delivered_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id, article_id) DO NOTHING`,
			userID, id, now,
		); err != nil {
			return fmt.Errorf("recording delivery of %s: %w", id, err)
		}
	}
	return tx.Commit()
}
