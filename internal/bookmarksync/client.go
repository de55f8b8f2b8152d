package bookmarksync

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/linkshelf/internal/bookmark"
	"github.com/hitoshi/linkshelf/internal/model"
)

// ErrAlreadyStarted はStartが2回以上呼ばれたことを表す。
var ErrAlreadyStarted = errors.New("bookmarksync: client already started")

// FeedHandler は変更フィードからの通知を受け取る。
type FeedHandler interface {
	// Connected は購読のハンドシェイク完了時に呼ばれる。
	Connected()
	// Change は自ユーザーの変更イベントごとに呼ばれる。
	Change(ev model.ChangeEvent)
}

// ChangeFeed はユーザー単位の変更フィード。
// Runは購読が終了するまでブロックし、切断やエラーで戻る。
type ChangeFeed interface {
	Run(ctx context.Context, handler FeedHandler) error
}

// broadcastDelete は他タブ向け削除通知の種別。
const broadcastDelete = "DELETE"

// BroadcastMessage は同一ユーザーの他タブへ送る通知。
type BroadcastMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Broadcaster は同一ユーザーの他タブとの通知チャネル。
// Publishした通知は送信元自身のMessagesには届かない。
type Broadcaster interface {
	Publish(ctx context.Context, msg BroadcastMessage) error
	Messages() <-chan BroadcastMessage
}

// Store はブックマークの永続化先。
type Store interface {
	ListBookmarks(ctx context.Context) ([]model.Bookmark, error)
	CreateBookmark(ctx context.Context, title, url string) (*model.Bookmark, error)
	DeleteBookmark(ctx context.Context, id string) error
}

// Options はClientの任意設定。
type Options struct {
	Logger *slog.Logger
	// OnApply はイベント適用後の状態で呼ばれる。呼び出し中はClientのロックを保持しない。
	OnApply func(ev Event, s State)
}

// Client は1タブ分のブックマーク一覧を同期する。
// 状態は connecting -> connected -> disconnected の順にのみ遷移し、
// 切断後の再接続は行わない。
type Client struct {
	feed        ChangeFeed
	broadcaster Broadcaster
	store       Store
	validator   *bookmark.Validator
	logger      *slog.Logger
	onApply     func(ev Event, s State)

	mu       sync.Mutex
	state    State
	status   Status
	statusCh chan Status
	closed   bool
	started  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient はinitialを初期一覧とするClientを生成する。broadcasterはnilでもよい。
func NewClient(feed ChangeFeed, broadcaster Broadcaster, store Store, initial []model.Bookmark, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		feed:        feed,
		broadcaster: broadcaster,
		store:       store,
		validator:   bookmark.NewValidator(),
		logger:      logger,
		onApply:     opts.OnApply,
		state:       NewState(initial),
		status:      StatusConnecting,
		// 遷移は最大2回のため、購読側が読まなくても送信はブロックしない
		statusCh: make(chan Status, 2),
	}
}

// Start は変更フィードと他タブ通知の購読を開始する。
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.feed.Run(ctx, feedHandler{c})
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("realtime subscription ended",
				slog.String("operation", "sync_feed"),
				slog.String("error", err.Error()),
			)
		}
		c.setStatus(StatusDisconnected)
	}()

	if c.broadcaster != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.consumeBroadcasts(ctx)
		}()
	}
	return nil
}

func (c *Client) consumeBroadcasts(ctx context.Context) {
	messages := c.broadcaster.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Type != broadcastDelete {
				continue
			}
			c.apply(DeletedEvent(msg.ID))
		}
	}
}

// Status は現在の接続状態を返す。
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StatusChanges は状態遷移のたびに新しい状態を受け取るチャネルを返す。
// Closeで閉じられる。
func (c *Client) StatusChanges() <-chan Status {
	return c.statusCh
}

// Bookmarks は現在の一覧のコピーを新しい順で返す。
func (c *Client) Bookmarks() []model.Bookmark {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Bookmark, len(c.state.Bookmarks))
	copy(out, c.state.Bookmarks)
	return out
}

// Create はブックマークを作成する。
// 接続済みでない場合は、確認イベントが届かない書き込みを避けるため送信せずに拒否する。
func (c *Client) Create(ctx context.Context, title, rawURL string) (*model.Bookmark, error) {
	if status := c.Status(); status != StatusConnected {
		return nil, model.NewSyncNotConnectedError(string(status))
	}

	input, err := c.validator.Validate(title, rawURL)
	if err != nil {
		return nil, err
	}

	created, err := c.store.CreateBookmark(ctx, input.Title, input.URL)
	if err != nil {
		return nil, asStoreError("save bookmark", err)
	}
	// フィードからのエコーは同一IDのため無視される
	c.apply(CreatedEvent(*created))
	return created, nil
}

// Delete はブックマークを削除する。
// ストアの削除が成功してから一覧から取り除き、他タブへ通知する。
// 失敗時は一覧を変更しない。
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteBookmark(ctx, id); err != nil {
		// 他タブが先に削除していた場合も削除済みとして収束させる
		if !model.HasCode(err, model.ErrCodeBookmarkNotFound) {
			c.logger.Error("failed to delete bookmark",
				slog.String("operation", "sync_delete"),
				slog.String("bookmark_id", id),
				slog.String("error", err.Error()),
			)
			return asStoreError("delete bookmark", err)
		}
	}

	c.apply(LocalDeletedEvent(id))

	if c.broadcaster != nil {
		if err := c.broadcaster.Publish(ctx, BroadcastMessage{Type: broadcastDelete, ID: id}); err != nil {
			c.logger.Warn("failed to broadcast delete",
				slog.String("operation", "sync_broadcast"),
				slog.String("bookmark_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Close は購読を停止し、StatusChangesのチャネルを閉じる。
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.status != StatusDisconnected {
		c.status = StatusDisconnected
		c.statusCh <- StatusDisconnected
	}
	close(c.statusCh)
}

func (c *Client) apply(ev Event) {
	c.mu.Lock()
	c.state = Reduce(c.state, ev)
	snapshot := c.state
	c.mu.Unlock()

	if c.onApply != nil {
		c.onApply(ev, snapshot)
	}
}

// setStatus は許可された遷移のみを反映する。
func (c *Client) setStatus(next Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !validTransition(c.status, next) {
		return
	}
	c.status = next
	c.statusCh <- next
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusConnecting:
		return to == StatusConnected || to == StatusDisconnected
	case StatusConnected:
		return to == StatusDisconnected
	default:
		return false
	}
}

func asStoreError(op string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewStoreError(op, err)
}

// feedHandler は変更フィードの通知をClientの状態に反映する。
type feedHandler struct {
	c *Client
}

func (h feedHandler) Connected() {
	h.c.setStatus(StatusConnected)
}

func (h feedHandler) Change(change model.ChangeEvent) {
	ev, ok := EventFromChange(change)
	if !ok {
		return
	}
	h.c.apply(ev)
}
