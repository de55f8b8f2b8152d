package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/linkshelf/internal/model"
)

// PostgresBookmarkRepo はPostgreSQLを使用したブックマークリポジトリ。
// INSERT/UPDATE/DELETEはトリガー経由でbookmark_changesチャネルに通知される。
type PostgresBookmarkRepo struct {
	db *sql.DB
}

// NewPostgresBookmarkRepo はPostgresBookmarkRepoを生成する。
func NewPostgresBookmarkRepo(db *sql.DB) *PostgresBookmarkRepo {
	return &PostgresBookmarkRepo{db: db}
}

const bookmarkColumns = `id, user_id, title, url, favicon_url, created_at`

func scanBookmark(row rowScanner) (*model.Bookmark, error) {
	b := &model.Bookmark{}
	var favicon sql.NullString
	if err := row.Scan(&b.ID, &b.UserID, &b.Title, &b.URL, &favicon, &b.CreatedAt); err != nil {
		return nil, err
	}
	if favicon.Valid {
		b.FaviconURL = &favicon.String
	}
	return b, nil
}

// Create はブックマークを作成する。
func (r *PostgresBookmarkRepo) Create(ctx context.Context, bookmark *model.Bookmark) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bookmarks (id, user_id, title, url, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		bookmark.ID, bookmark.UserID, bookmark.Title, bookmark.URL, bookmark.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bookmark: %w", err)
	}
	return nil
}

// ListByUserID はユーザーのブックマーク一覧をcreated_at降順で返す。
func (r *PostgresBookmarkRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Bookmark, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookmarkColumns+`
		 FROM bookmarks
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer rows.Close()

	return collectBookmarks(rows)
}

// DeleteByIDAndUser は所有ユーザーを条件にブックマークを削除する。
func (r *PostgresBookmarkRepo) DeleteByIDAndUser(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete bookmark: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListNeedingFavicon はfavicon未確認のブックマークを取得する。
func (r *PostgresBookmarkRepo) ListNeedingFavicon(ctx context.Context, limit int) ([]*model.Bookmark, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookmarkColumns+`
		 FROM bookmarks
		 WHERE favicon_checked_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks needing favicon: %w", err)
	}
	defer rows.Close()

	return collectBookmarks(rows)
}

// UpdateFavicon はfavicon URLと確認日時を記録する。
func (r *PostgresBookmarkRepo) UpdateFavicon(ctx context.Context, id string, faviconURL *string, checkedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookmarks SET favicon_url = $2, favicon_checked_at = $3 WHERE id = $1`,
		id, faviconURL, checkedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update favicon: %w", err)
	}
	return nil
}

func collectBookmarks(rows *sql.Rows) ([]*model.Bookmark, error) {
	var bookmarks []*model.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookmarks: %w", err)
	}
	return bookmarks, nil
}

// compile-time interface check
var _ BookmarkRepository = (*PostgresBookmarkRepo)(nil)
