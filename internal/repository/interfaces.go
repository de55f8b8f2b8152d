// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/linkshelf/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByProviderID は外部IdPのユーザー識別子でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderID(ctx context.Context, providerID string) (*model.User, error)

	// CreateIfAbsent はprovider_idが未登録の場合のみユーザーを作成し、
	// 最終的にprovider_idに対応する行を返す。
	// 同一provider_idで同時にログインした場合も1行に収束する。
	CreateIfAbsent(ctx context.Context, user *model.User) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindWithUser は指定IDのセッションと所有ユーザーを1回のクエリで取得する。
	// 有効期限の判定は呼び出し側で行うため、期限切れの行も返す。
	// 見つからない場合はnil, nilを返す。
	FindWithUser(ctx context.Context, id string) (*model.Session, *model.User, error)

	// UpdateExpiresAt はセッションの有効期限を更新する。
	UpdateExpiresAt(ctx context.Context, id string, expiresAt time.Time) error

	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// BookmarkRepository はブックマークデータの永続化インターフェース。
type BookmarkRepository interface {
	// Create はブックマークを作成する。IDとCreatedAtは呼び出し側で設定する。
	Create(ctx context.Context, bookmark *model.Bookmark) error

	// ListByUserID はユーザーのブックマーク一覧をcreated_at降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Bookmark, error)

	// DeleteByIDAndUser は所有ユーザーを条件にブックマークを削除する。
	// 該当行が存在しない場合はfalseを返す。
	DeleteByIDAndUser(ctx context.Context, id, userID string) (bool, error)

	// ListNeedingFavicon はfavicon未確認のブックマークを古い順に最大limit件返す。
	ListNeedingFavicon(ctx context.Context, limit int) ([]*model.Bookmark, error)

	// UpdateFavicon はfavicon URLと確認日時を記録する。faviconURLがnilの場合は
	// 確認済みとしてのみ記録する。
	UpdateFavicon(ctx context.Context, id string, faviconURL *string, checkedAt time.Time) error
}
