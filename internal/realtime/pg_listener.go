package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/linkshelf/internal/model"
)

// NotifyChannel はbookmarksテーブルのトリガーが通知するチャネル名。
const NotifyChannel = "bookmark_changes"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	listenerPingInterval = 90 * time.Second
)

// Publisher は変更イベントの配信先。
type Publisher interface {
	Publish(event model.ChangeEvent)
}

// PGListener はPostgreSQLのLISTEN/NOTIFYで変更イベントを受信してPublisherに渡す。
// 再接続はpq.Listenerが行う。
type PGListener struct {
	databaseURL string
	publisher   Publisher
	logger      *slog.Logger
}

// NewPGListener はPGListenerを生成する。
func NewPGListener(databaseURL string, publisher Publisher, logger *slog.Logger) *PGListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGListener{
		databaseURL: databaseURL,
		publisher:   publisher,
		logger:      logger,
	}
}

// Run はctxがキャンセルされるまで通知を受信し続ける。
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.databaseURL, minReconnectInterval, maxReconnectInterval, l.onConnectionEvent)
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	l.logger.Info("realtime listener started", slog.String("channel", NotifyChannel))

	return l.consume(ctx, listener.Notify, listener.Ping)
}

// consume は通知チャネルを読み出す。nilの通知は再接続を表し、その間の通知は失われている。
func (l *PGListener) consume(ctx context.Context, notify <-chan *pq.Notification, ping func() error) error {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("realtime listener stopped")
			return nil

		case n, ok := <-notify:
			if !ok {
				return fmt.Errorf("notification channel closed")
			}
			if n == nil {
				l.logger.Warn("realtime listener reconnected; notifications may have been missed")
				continue
			}
			l.handle(n.Extra)

		case <-ticker.C:
			if err := ping(); err != nil {
				l.logger.Warn("realtime listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (l *PGListener) handle(payload string) {
	event, err := DecodeNotification(payload)
	if err != nil {
		l.logger.Error("failed to decode change notification",
			slog.String("operation", "realtime_decode"),
			slog.String("error", err.Error()),
		)
		return
	}
	l.publisher.Publish(event)
}

func (l *PGListener) onConnectionEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		l.logger.Warn("realtime listener connection problem",
			slog.Int("event", int(ev)),
			slog.String("error", msg),
		)
	case pq.ListenerEventReconnected:
		l.logger.Info("realtime listener connection restored")
	}
}

// DecodeNotification はトリガーが送るJSONペイロードをChangeEventにデコードする。
func DecodeNotification(payload string) (model.ChangeEvent, error) {
	var event model.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if !event.Type.Valid() {
		return model.ChangeEvent{}, fmt.Errorf("unknown event type %q", event.Type)
	}
	if event.Record.ID == "" || event.Record.UserID == "" {
		return model.ChangeEvent{}, fmt.Errorf("payload record has no id or user_id")
	}
	return event, nil
}
