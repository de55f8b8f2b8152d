// Package enrich はブックマークのfavicon取得バッチを提供する。
// favicon未確認のブックマークを取得し、検出結果と確認日時を記録する。
// 記録による行更新はupdatedの変更イベントとして同期クライアントに届く。
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/linkshelf/internal/favicon"
	"github.com/hitoshi/linkshelf/internal/metrics"
	"github.com/hitoshi/linkshelf/internal/model"
	"github.com/hitoshi/linkshelf/internal/repository"
	"github.com/hitoshi/linkshelf/internal/security"
)

// favicon取得結果のメトリクスラベル
const (
	ResultFound   = "found"
	ResultMissing = "missing"
	ResultBlocked = "blocked"
	ResultError   = "error"
)

// IconFinder はfavicon検出のインターフェース。
type IconFinder interface {
	Find(ctx context.Context, pageURL string) (string, error)
}

// FaviconJob はfavicon未確認のブックマークを処理するバッチジョブ。
type FaviconJob struct {
	bookmarks      repository.BookmarkRepository
	finder         IconFinder
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	now            func() time.Time
	maxPerCycle    int
	maxConcurrency int
	timeout        time.Duration
}

// Config はFaviconJobの設定。
type Config struct {
	MaxPerCycle    int
	MaxConcurrency int
	// Timeout は1件あたりの検出に許す時間。
	Timeout time.Duration
}

// NewFaviconJob は新しいFaviconJobを生成する。
// 0以下の設定値はデフォルト値（50件、並列4、10秒）で置き換える。
func NewFaviconJob(bookmarks repository.BookmarkRepository, finder IconFinder, collector metrics.MetricsCollector, logger *slog.Logger, cfg Config) *FaviconJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPerCycle <= 0 {
		cfg.MaxPerCycle = 50
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &FaviconJob{
		bookmarks:      bookmarks,
		finder:         finder,
		metrics:        collector,
		logger:         logger,
		now:            time.Now,
		maxPerCycle:    cfg.MaxPerCycle,
		maxConcurrency: cfg.MaxConcurrency,
		timeout:        cfg.Timeout,
	}
}

// Start は起動直後に1回実行し、以降interval間隔で実行する。
func (j *FaviconJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("favicon取得ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_per_cycle", j.maxPerCycle),
	)

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("favicon取得ジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *FaviconJob) runLogged(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("favicon取得サイクルの実行に失敗しました",
			slog.String("operation", "favicon_enrich"),
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は対象ブックマークを1回分処理し、処理件数を返す。
// 個々の検出失敗は確認済みとして記録し、サイクル全体は失敗させない。
func (j *FaviconJob) RunOnce(ctx context.Context) (int, error) {
	start := j.now()

	targets, err := j.bookmarks.ListNeedingFavicon(ctx, j.maxPerCycle)
	if err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, j.maxConcurrency)
	var wg sync.WaitGroup
	for _, b := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(b *model.Bookmark) {
			defer wg.Done()
			defer func() { <-sem }()
			j.process(ctx, b)
		}(b)
	}
	wg.Wait()

	j.logger.Info("favicon取得サイクルが完了しました",
		slog.Int("bookmark_count", len(targets)),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return len(targets), nil
}

func (j *FaviconJob) process(ctx context.Context, b *model.Bookmark) {
	findCtx, cancel := context.WithTimeout(ctx, j.timeout)
	iconURL, err := j.finder.Find(findCtx, b.URL)
	cancel()
	if ctx.Err() != nil {
		// 停止時は未確認のまま残し、次回起動時に再処理する
		return
	}

	var faviconURL *string
	result := ResultFound
	switch {
	case err == nil:
		faviconURL = &iconURL
	case errors.Is(err, favicon.ErrNoIcon):
		result = ResultMissing
	case errors.Is(err, security.ErrBlockedURL):
		result = ResultBlocked
	default:
		result = ResultError
		j.logger.Warn("faviconの取得に失敗しました",
			slog.String("bookmark_id", b.ID),
			slog.String("user_id", b.UserID),
			slog.String("error", err.Error()),
		)
	}

	checkedAt := j.now().UTC()
	if err := j.bookmarks.UpdateFavicon(ctx, b.ID, faviconURL, checkedAt); err != nil {
		j.logger.Error("favicon確認結果の保存に失敗しました",
			slog.String("operation", "favicon_update"),
			slog.String("bookmark_id", b.ID),
			slog.String("error", err.Error()),
		)
		result = ResultError
		// URLを書けなくても確認済みにし、同じ行を毎サイクル取り直さない
		if faviconURL != nil {
			if err := j.bookmarks.UpdateFavicon(ctx, b.ID, nil, checkedAt); err != nil {
				j.logger.Error("favicon確認日時の保存に失敗しました",
					slog.String("operation", "favicon_update"),
					slog.String("bookmark_id", b.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	j.metrics.RecordFaviconResult(result)
}
