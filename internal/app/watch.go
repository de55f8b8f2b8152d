package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/linkshelf/internal/bookmarksync"
	"github.com/hitoshi/linkshelf/internal/model"
)

// watchConfig はwatchサブコマンドの設定。
type watchConfig struct {
	ServerURL    string
	SessionToken string
	RedisURL     string
}

func loadWatchConfig() (watchConfig, error) {
	cfg := watchConfig{
		ServerURL:    os.Getenv("LINKSHELF_SERVER_URL"),
		SessionToken: os.Getenv("LINKSHELF_SESSION_TOKEN"),
		RedisURL:     os.Getenv("REDIS_URL"),
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8080"
	}
	if cfg.SessionToken == "" {
		return watchConfig{}, errors.New("LINKSHELF_SESSION_TOKEN is not set")
	}
	return cfg, nil
}

// runWatch はサーバーに接続した同期クライアントをターミナルから操作する。
// REDIS_URLがある場合は他端末への削除通知にRedisを使い、なければプロセス内のチャネルを使う。
func runWatch(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := loadWatchConfig()
	if err != nil {
		return err
	}

	store := bookmarksync.NewHTTPStore(cfg.ServerURL, cfg.SessionToken, nil)
	user, err := store.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}
	initial, err := store.ListBookmarks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bookmarks: %w", err)
	}

	feed, err := bookmarksync.NewWSFeed(cfg.ServerURL, cfg.SessionToken)
	if err != nil {
		return err
	}

	broadcaster, closeBroadcaster, err := openBroadcaster(ctx, cfg.RedisURL, user.ID)
	if err != nil {
		return err
	}
	defer closeBroadcaster()

	client := bookmarksync.NewClient(feed, broadcaster, store, initial, bookmarksync.Options{
		Logger: slog.Default(),
		OnApply: func(ev bookmarksync.Event, s bookmarksync.State) {
			fmt.Fprintf(out, "* %s %s (%d bookmarks)\n", ev.Kind, ev.ID, len(s.Bookmarks))
		},
	})
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Close()

	go func() {
		for status := range client.StatusChanges() {
			fmt.Fprintf(out, "* status: %s\n", status)
		}
	}()

	fmt.Fprintf(out, "signed in as %s; commands: ls, add <url> [title], rm <id>, quit\n", user.Email)
	return runWatchCommands(ctx, client, in, out)
}

// openBroadcaster はRedisまたはプロセス内の通知チャネルを開く。
func openBroadcaster(ctx context.Context, redisURL, userID string) (bookmarksync.Broadcaster, func(), error) {
	if redisURL == "" {
		ch := bookmarksync.NewLocalBus().Open(bookmarksync.BroadcastChannelName)
		return ch, func() { ch.Close() }, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	ch, err := bookmarksync.NewRedisChannel(ctx, rdb, userID, slog.Default())
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return ch, func() {
		ch.Close()
		rdb.Close()
	}, nil
}

// syncClient はwatchの対話ループが使う同期クライアントの操作。
type syncClient interface {
	Status() bookmarksync.Status
	Bookmarks() []model.Bookmark
	Create(ctx context.Context, title, rawURL string) (*model.Bookmark, error)
	Delete(ctx context.Context, id string) error
}

// runWatchCommands は1行1コマンドで入力を処理する。入力の終端かquitで終了する。
func runWatchCommands(ctx context.Context, client syncClient, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "ls":
			fmt.Fprintf(out, "status: %s\n", client.Status())
			for _, b := range client.Bookmarks() {
				fmt.Fprintf(out, "%s\t%s\t%s\n", b.ID, b.Title, b.URL)
			}
		case "add":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: add <url> [title]")
				continue
			}
			title := strings.Join(fields[2:], " ")
			if title == "" {
				title = fields[1]
			}
			created, err := client.Create(ctx, title, fields[1])
			if err != nil {
				printWatchError(out, err)
				continue
			}
			fmt.Fprintf(out, "added %s\n", created.ID)
		case "rm":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: rm <id>")
				continue
			}
			if err := client.Delete(ctx, fields[1]); err != nil {
				printWatchError(out, err)
				continue
			}
			fmt.Fprintf(out, "removed %s\n", fields[1])
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q\n", fields[0])
		}
	}
	return scanner.Err()
}

func printWatchError(out io.Writer, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(out, "error: %s (%s)", apiErr.Message, apiErr.Code)
		if model.IsRetryable(err) {
			fmt.Fprint(out, " - retry possible")
		}
		fmt.Fprintln(out)
		return
	}
	fmt.Fprintf(out, "error: %v\n", err)
}
