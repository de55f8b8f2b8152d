package model

import "time"

// Bookmark はユーザーが保存したURLブックマークを表す。
// 所有ユーザー以外からは参照・変更できない。
type Bookmark struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	FaviconURL *string   `json:"favicon_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChangeType は変更フィードのイベント種別を表す。
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Valid は既知のイベント種別かどうかを返す。
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
		return true
	default:
		return false
	}
}

// ChangeEvent はbookmarksテーブルの行単位の変更イベント。
// deletedの場合、Recordは削除前の行を保持する。
type ChangeEvent struct {
	Type   ChangeType `json:"event_type"`
	Record Bookmark   `json:"record"`
}

// ストリーム接続で送受信するフレーム種別
const (
	StreamFrameStatus = "status"
	StreamFrameChange = "change"
)

// StreamFrame はブックマーク変更ストリームのWebSocketフレーム。
// statusフレームは購読確立を、changeフレームは1件の変更イベントを運ぶ。
type StreamFrame struct {
	Type      string     `json:"type"`
	Status    string     `json:"status,omitempty"`
	EventType ChangeType `json:"event_type,omitempty"`
	Record    *Bookmark  `json:"record,omitempty"`
}

// ChangeFrame は変更イベントからchangeフレームを生成する。
func ChangeFrame(ev ChangeEvent) StreamFrame {
	record := ev.Record
	return StreamFrame{Type: StreamFrameChange, EventType: ev.Type, Record: &record}
}
