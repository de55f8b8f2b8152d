// Package bookmark はブックマークのCRUDを提供する。
package bookmark

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/linkshelf/internal/metrics"
	"github.com/hitoshi/linkshelf/internal/model"
	"github.com/hitoshi/linkshelf/internal/repository"
)

// Service はブックマーク管理のサービス層。
// 全ての操作は所有ユーザーにスコープされる。
type Service struct {
	repo      repository.BookmarkRepository
	validator *Validator
	metrics   metrics.MetricsCollector
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(repo repository.BookmarkRepository, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		repo:      repo,
		validator: NewValidator(),
		metrics:   collector,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Create は入力を検証してブックマークを保存する。
// 検証に失敗した場合はストアにアクセスしない。
func (s *Service) Create(ctx context.Context, userID, title, rawURL string) (*model.Bookmark, error) {
	input, err := s.validator.Validate(title, rawURL)
	if err != nil {
		return nil, err
	}

	b := &model.Bookmark{
		ID:        s.newID(),
		UserID:    userID,
		Title:     input.Title,
		URL:       input.URL,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		slog.Error("failed to create bookmark",
			slog.String("operation", "bookmark_create"),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreError("save bookmark", err)
	}

	s.metrics.RecordBookmarkMutation("create")
	return b, nil
}

// List はユーザーのブックマークを新しい順に返す。該当なしの場合は空スライス。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Bookmark, error) {
	bookmarks, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewStoreError("load bookmarks", err)
	}
	if bookmarks == nil {
		bookmarks = []*model.Bookmark{}
	}
	return bookmarks, nil
}

// Delete はユーザーが所有するブックマークを削除する。
// 存在しない、または他ユーザーのブックマークの場合はBOOKMARK_NOT_FOUNDを返す。
func (s *Service) Delete(ctx context.Context, userID, bookmarkID string) error {
	if _, err := uuid.Parse(bookmarkID); err != nil {
		return model.NewBookmarkNotFoundError(bookmarkID)
	}

	deleted, err := s.repo.DeleteByIDAndUser(ctx, bookmarkID, userID)
	if err != nil {
		slog.Error("failed to delete bookmark",
			slog.String("operation", "bookmark_delete"),
			slog.String("user_id", userID),
			slog.String("bookmark_id", bookmarkID),
			slog.String("error", err.Error()),
		)
		return model.NewStoreError("delete bookmark", err)
	}
	if !deleted {
		return model.NewBookmarkNotFoundError(bookmarkID)
	}

	s.metrics.RecordBookmarkMutation("delete")
	return nil
}
