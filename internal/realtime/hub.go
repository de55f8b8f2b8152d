// Package realtime はbookmarksテーブルの変更をユーザー単位で配信する。
package realtime

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/linkshelf/internal/metrics"
	"github.com/hitoshi/linkshelf/internal/model"
)

// DefaultSubscriptionBuffer は購読ごとのイベントバッファ数。
const DefaultSubscriptionBuffer = 64

// Subscription は1接続分の変更イベント購読。
// Hubから切り離されるとEventsのチャネルが閉じられる。
type Subscription struct {
	ID     string
	UserID string

	events chan model.ChangeEvent
	closed bool
}

// Events は購読ユーザーの変更イベントを受け取るチャネルを返す。
func (s *Subscription) Events() <-chan model.ChangeEvent {
	return s.events
}

// Hub は変更イベントを所有ユーザーの購読にのみファンアウトする。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription // userID -> subscriptionID -> sub
	count  int
	buffer int

	metrics metrics.MetricsCollector
}

// NewHub はHubを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewHub(collector metrics.MetricsCollector) *Hub {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Hub{
		subs:    make(map[string]map[string]*Subscription),
		buffer:  DefaultSubscriptionBuffer,
		metrics: collector,
	}
}

// Subscribe はユーザーの変更イベント購読を登録する。
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		ID:     uuid.New().String(),
		UserID: userID,
		events: make(chan model.ChangeEvent, h.buffer),
	}

	h.mu.Lock()
	byUser, ok := h.subs[userID]
	if !ok {
		byUser = make(map[string]*Subscription)
		h.subs[userID] = byUser
	}
	byUser[sub.ID] = sub
	h.count++
	count := h.count
	h.mu.Unlock()

	h.metrics.SetRealtimeSubscribers(count)
	return sub
}

// Unsubscribe は購読を解除してチャネルを閉じる。解除済みの場合は何もしない。
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	removed := h.removeLocked(sub)
	count := h.count
	h.mu.Unlock()

	if removed {
		h.metrics.SetRealtimeSubscribers(count)
	}
}

// Publish はイベントを所有ユーザーの全購読に配信する。
// バッファが満杯の購読は配信を待たずに切断する。
func (h *Hub) Publish(event model.ChangeEvent) {
	h.metrics.RecordRealtimeEvent(string(event.Type))

	var slow []*Subscription

	h.mu.RLock()
	for _, sub := range h.subs[event.Record.UserID] {
		select {
		case sub.events <- event:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		slog.Warn("dropping slow realtime subscriber",
			slog.String("user_id", sub.UserID),
			slog.String("subscription_id", sub.ID),
		)
		h.Unsubscribe(sub)
	}
}

// SubscriberCount は現在の購読数を返す。
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Close は全ての購読を切断する。
func (h *Hub) Close() {
	h.mu.Lock()
	for _, byUser := range h.subs {
		for _, sub := range byUser {
			h.removeLocked(sub)
		}
	}
	h.mu.Unlock()

	h.metrics.SetRealtimeSubscribers(0)
}

// removeLocked はh.muの書き込みロック下で呼び出す。
// チャネルのcloseは書き込みロック下でのみ行い、送信は読み取りロック下でのみ行う。
func (h *Hub) removeLocked(sub *Subscription) bool {
	if sub.closed {
		return false
	}
	sub.closed = true
	close(sub.events)

	if byUser, ok := h.subs[sub.UserID]; ok {
		delete(byUser, sub.ID)
		if len(byUser) == 0 {
			delete(h.subs, sub.UserID)
		}
	}
	h.count--
	return true
}
