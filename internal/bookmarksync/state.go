// Package bookmarksync はブックマーク一覧を変更フィードと他タブ通知で最新に保つ同期クライアントを提供する。
package bookmarksync

import (
	"github.com/hitoshi/linkshelf/internal/model"
)

// Status はリアルタイム購読の接続状態。
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// EventKind は一覧に適用するイベントの種別。
type EventKind int

const (
	// EventCreated は変更フィードから届いた作成イベント。
	EventCreated EventKind = iota + 1
	// EventUpdated は変更フィードから届いた更新イベント。
	EventUpdated
	// EventDeleted は変更フィードまたは他タブから届いた削除イベント。
	EventDeleted
	// EventLocalDeleted は自タブで削除が確定したことを表す。
	EventLocalDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	case EventLocalDeleted:
		return "local_deleted"
	default:
		return "unknown"
	}
}

// Event はReduceに渡す1件の状態遷移。
// 削除系イベントではIDのみを参照する。
type Event struct {
	Kind     EventKind
	Bookmark model.Bookmark
	ID       string
}

// CreatedEvent は作成イベントを生成する。
func CreatedEvent(b model.Bookmark) Event {
	return Event{Kind: EventCreated, Bookmark: b, ID: b.ID}
}

// UpdatedEvent は更新イベントを生成する。
func UpdatedEvent(b model.Bookmark) Event {
	return Event{Kind: EventUpdated, Bookmark: b, ID: b.ID}
}

// DeletedEvent は削除イベントを生成する。
func DeletedEvent(id string) Event {
	return Event{Kind: EventDeleted, ID: id}
}

// LocalDeletedEvent は自タブでの削除イベントを生成する。
func LocalDeletedEvent(id string) Event {
	return Event{Kind: EventLocalDeleted, ID: id}
}

// EventFromChange は変更フィードのイベントをReduce用のイベントに変換する。
func EventFromChange(change model.ChangeEvent) (Event, bool) {
	switch change.Type {
	case model.ChangeCreated:
		return CreatedEvent(change.Record), true
	case model.ChangeUpdated:
		return UpdatedEvent(change.Record), true
	case model.ChangeDeleted:
		return DeletedEvent(change.Record.ID), true
	default:
		return Event{}, false
	}
}

// State はブックマーク一覧の不変スナップショット。
// Bookmarksは新しい順に並ぶ。削除済みIDは遅れて届いた作成・更新の
// エコーで一覧が復活しないよう保持される。
type State struct {
	Bookmarks []model.Bookmark
	deleted   map[string]struct{}
}

// NewState は初期一覧から状態を生成する。
func NewState(initial []model.Bookmark) State {
	bookmarks := make([]model.Bookmark, len(initial))
	copy(bookmarks, initial)
	return State{Bookmarks: bookmarks}
}

// Contains は指定IDのブックマークが一覧にあるかを返す。
func (s State) Contains(id string) bool {
	return s.indexOf(id) >= 0
}

// IsDeleted は指定IDが削除済みとして記録されているかを返す。
func (s State) IsDeleted(id string) bool {
	_, ok := s.deleted[id]
	return ok
}

func (s State) indexOf(id string) int {
	for i := range s.Bookmarks {
		if s.Bookmarks[i].ID == id {
			return i
		}
	}
	return -1
}

// Reduce はイベントを適用した新しい状態を返す。引数の状態は変更しない。
//
//   - 作成: 同じIDが一覧にあれば何もしない。なければ先頭に追加する。
//   - 更新: 同じIDの要素を同じ位置で置き換える。なければ何もしない。
//   - 削除: 同じIDの要素を取り除く。なければ何もしない。
//
// 削除済みIDに対する作成・更新は無視する。
func Reduce(s State, ev Event) State {
	switch ev.Kind {
	case EventCreated:
		if ev.ID == "" || s.IsDeleted(ev.ID) || s.Contains(ev.ID) {
			return s
		}
		bookmarks := make([]model.Bookmark, 0, len(s.Bookmarks)+1)
		bookmarks = append(bookmarks, ev.Bookmark)
		bookmarks = append(bookmarks, s.Bookmarks...)
		return State{Bookmarks: bookmarks, deleted: s.deleted}

	case EventUpdated:
		if s.IsDeleted(ev.ID) {
			return s
		}
		i := s.indexOf(ev.ID)
		if i < 0 {
			return s
		}
		bookmarks := make([]model.Bookmark, len(s.Bookmarks))
		copy(bookmarks, s.Bookmarks)
		bookmarks[i] = ev.Bookmark
		return State{Bookmarks: bookmarks, deleted: s.deleted}

	case EventDeleted, EventLocalDeleted:
		if ev.ID == "" {
			return s
		}
		deleted := s.deleted
		if !s.IsDeleted(ev.ID) {
			deleted = make(map[string]struct{}, len(s.deleted)+1)
			for id := range s.deleted {
				deleted[id] = struct{}{}
			}
			deleted[ev.ID] = struct{}{}
		}
		i := s.indexOf(ev.ID)
		if i < 0 {
			return State{Bookmarks: s.Bookmarks, deleted: deleted}
		}
		bookmarks := make([]model.Bookmark, 0, len(s.Bookmarks)-1)
		bookmarks = append(bookmarks, s.Bookmarks[:i]...)
		bookmarks = append(bookmarks, s.Bookmarks[i+1:]...)
		return State{Bookmarks: bookmarks, deleted: deleted}

	default:
		return s
	}
}
