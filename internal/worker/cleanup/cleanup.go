// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 有効期限を過ぎたセッションは次回の検証時にも削除されるが、
// 再訪しないユーザーの行はこのジョブで回収する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredSessionDeleter は期限切れセッションの一括削除を抽象化するインターフェース。
// repository.SessionRepository が満たす。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionSweeper は期限切れセッションを削除するジョブ。
// 削除対象がない場合もエラーにしない冪等な処理。
type SessionSweeper struct {
	sessions ExpiredSessionDeleter
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionSweeper は新しいSessionSweeperを生成する。
func NewSessionSweeper(sessions ExpiredSessionDeleter, logger *slog.Logger) *SessionSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweeper{
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// RunOnce は実行時点で期限切れのセッションを削除し、削除件数を返す。
func (j *SessionSweeper) RunOnce(ctx context.Context) (int64, error) {
	start := j.now()

	deleted, err := j.sessions.DeleteExpired(ctx, start)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("operation", "session_cleanup"),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後に1回実行し、以降interval間隔で実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *SessionSweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップを開始しました", slog.Duration("interval", interval))

	j.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}
