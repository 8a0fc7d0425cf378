package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/model"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const contentColumns = `id, body, image_url, media_urls, follow_up_text, status,
		       scheduled_at, published_at, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (model.ContentItem, error) {
	var c model.ContentItem
	var status string
	var imageURL, followUp, lastErr sql.NullString
	var mediaURLs []byte
	var scheduledAt, publishedAt sql.NullTime

	if err := row.Scan(
		&c.ID,
		&c.Body,
		&imageURL,
		&mediaURLs,
		&followUp,
		&status,
		&scheduledAt,
		&publishedAt,
		&lastErr,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return model.ContentItem{}, err
	}

	c.Status = model.ContentStatus(status)
	c.ImageURL = imageURL.String
	c.FollowUpText = followUp.String
	if len(mediaURLs) > 0 {
		if err := json.Unmarshal(mediaURLs, &c.MediaURLs); err != nil {
			return model.ContentItem{}, fmt.Errorf("decode media_urls: %w", err)
		}
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		c.ScheduledAt = &t
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		c.PublishedAt = &t
	}
	if lastErr.Valid {
		s := lastErr.String
		c.LastError = &s
	}
	return c, nil
}

func (r *PostgresStore) LoadPublication(ctx context.Context, contentID int64) (Publication, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+`
		FROM content_items
		WHERE id = $1
	`, contentID)
	content, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Publication{}, fmt.Errorf("content %d: %w", contentID, ErrNotFound)
	}
	if err != nil {
		return Publication{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.content_id, t.account_id, t.status, t.platform_post_id,
		       t.error_message, t.published_at,
		       a.id, a.platform, a.platform_account_id, a.name, a.kind,
		       a.access_token, a.refresh_token, a.expires_at, a.active
		FROM publish_targets t
		JOIN accounts a ON a.id = t.account_id
		WHERE t.content_id = $1
		ORDER BY t.id ASC
	`, contentID)
	if err != nil {
		return Publication{}, err
	}
	defer rows.Close()

	pub := Publication{Content: content, Accounts: make(map[int64]model.Account)}
	for rows.Next() {
		var t model.Target
		var a model.Account
		var tStatus, platform, kind string
		var postID, errMsg, refresh sql.NullString
		var publishedAt, expiresAt sql.NullTime

		if err := rows.Scan(
			&t.ID,
			&t.ContentID,
			&t.AccountID,
			&tStatus,
			&postID,
			&errMsg,
			&publishedAt,
			&a.ID,
			&platform,
			&a.PlatformAccountID,
			&a.Name,
			&kind,
			&a.AccessToken,
			&refresh,
			&expiresAt,
			&a.Active,
		); err != nil {
			return Publication{}, err
		}

		t.Status = model.TargetStatus(tStatus)
		if postID.Valid {
			s := postID.String
			t.PlatformPostID = &s
		}
		if errMsg.Valid {
			s := errMsg.String
			t.ErrorMessage = &s
		}
		if publishedAt.Valid {
			ts := publishedAt.Time
			t.PublishedAt = &ts
		}

		a.Platform = model.Platform(platform)
		a.Kind = model.AccountKind(kind)
		a.RefreshToken = refresh.String
		if expiresAt.Valid {
			ts := expiresAt.Time
			a.ExpiresAt = &ts
		}

		pub.Targets = append(pub.Targets, t)
		pub.Accounts[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return Publication{}, err
	}
	return pub, nil
}

func (r *PostgresStore) MarkContentPublishing(ctx context.Context, contentID int64) error {
	return r.exec(ctx, `
		UPDATE content_items
		SET status = 'publishing',
		    last_error = NULL,
		    updated_at = now()
		WHERE id = $1
	`, contentID)
}

func (r *PostgresStore) MarkTargetPublished(ctx context.Context, targetID int64, postID string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE publish_targets
		SET status = 'published',
		    platform_post_id = $2,
		    error_message = NULL,
		    published_at = $3,
		    updated_at = now()
		WHERE id = $1
	`, targetID, postID, at.UTC())
}

func (r *PostgresStore) MarkTargetFailed(ctx context.Context, targetID int64, reason string) error {
	return r.exec(ctx, `
		UPDATE publish_targets
		SET status = 'failed',
		    error_message = $2,
		    updated_at = now()
		WHERE id = $1
	`, targetID, reason)
}

func (r *PostgresStore) MarkContentPublished(ctx context.Context, contentID int64, at time.Time) error {
	return r.exec(ctx, `
		UPDATE content_items
		SET status = 'published',
		    published_at = $2,
		    last_error = NULL,
		    updated_at = now()
		WHERE id = $1
	`, contentID, at.UTC())
}

func (r *PostgresStore) MarkContentFailed(ctx context.Context, contentID int64, reason string) error {
	return r.exec(ctx, `
		UPDATE content_items
		SET status = 'failed',
		    published_at = NULL,
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, contentID, reason)
}

func (r *PostgresStore) UpdateAccountCredential(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	var refresh sql.NullString
	if refreshToken != "" {
		refresh = sql.NullString{String: refreshToken, Valid: true}
	}
	var exp sql.NullTime
	if expiresAt != nil {
		exp = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}
	return r.exec(ctx, `
		UPDATE accounts
		SET access_token = $2,
		    refresh_token = $3,
		    expires_at = $4,
		    updated_at = now()
		WHERE id = $1
	`, accountID, accessToken, refresh, exp)
}

func (r *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id
		FROM content_items
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE content_items
			SET status = 'publishing', updated_at = $2
			WHERE id = $1
		`, id, now.UTC()); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresStore) ReleaseClaimed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE content_items
			SET status = 'scheduled', updated_at = now()
			WHERE id = $1 AND status = 'publishing'
		`, id); err != nil {
			return fmt.Errorf("release content %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresStore) ListPublished(ctx context.Context, limit, offset int) ([]model.ContentItem, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contentColumns+`
		FROM content_items
		WHERE status = 'published'
		ORDER BY published_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// exec runs a single-row update and reports ErrNotFound when no row matched.
func (r *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
