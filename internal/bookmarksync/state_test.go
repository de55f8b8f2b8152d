package bookmarksync

import (
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/linkshelf/internal/model"
)

func testBookmark(id string) model.Bookmark {
	return model.Bookmark{
		ID:        id,
		UserID:    "user-1",
		Title:     "Bookmark " + id,
		URL:       "https://example.com/" + id,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func ids(bookmarks []model.Bookmark) []string {
	out := make([]string, 0, len(bookmarks))
	for _, b := range bookmarks {
		out = append(out, b.ID)
	}
	return out
}

func TestReduce_ReconciliationSequence(t *testing.T) {
	s := NewState([]model.Bookmark{testBookmark("b1"), testBookmark("b2")})

	s = Reduce(s, CreatedEvent(testBookmark("b3")))
	if got, want := ids(s.Bookmarks), []string{"b3", "b1", "b2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after create = %v, want %v", got, want)
	}

	s = Reduce(s, CreatedEvent(testBookmark("b3")))
	if got, want := ids(s.Bookmarks), []string{"b3", "b1", "b2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after duplicate create = %v, want %v", got, want)
	}

	s = Reduce(s, DeletedEvent("b2"))
	if got, want := ids(s.Bookmarks), []string{"b3", "b1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after delete = %v, want %v", got, want)
	}

	s = Reduce(s, DeletedEvent("b2"))
	if got, want := ids(s.Bookmarks), []string{"b3", "b1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after duplicate delete = %v, want %v", got, want)
	}
}

func TestReduce_UpdateReplacesInPlace(t *testing.T) {
	s := NewState([]model.Bookmark{testBookmark("b1"), testBookmark("b2"), testBookmark("b3")})

	updated := testBookmark("b2")
	updated.Title = "Renamed"
	favicon := "https://example.com/favicon.ico"
	updated.FaviconURL = &favicon

	s = Reduce(s, UpdatedEvent(updated))

	if got, want := ids(s.Bookmarks), []string{"b1", "b2", "b3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if s.Bookmarks[1].Title != "Renamed" {
		t.Errorf("Title = %q, want %q", s.Bookmarks[1].Title, "Renamed")
	}
	if s.Bookmarks[1].FaviconURL == nil || *s.Bookmarks[1].FaviconURL != favicon {
		t.Errorf("FaviconURL = %v, want %q", s.Bookmarks[1].FaviconURL, favicon)
	}
}

func TestReduce_UpdateForAbsentIDIsNoop(t *testing.T) {
	s := NewState([]model.Bookmark{testBookmark("b1")})

	next := Reduce(s, UpdatedEvent(testBookmark("b9")))

	if got, want := ids(next.Bookmarks), []string{"b1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("bookmarks = %v, want %v", got, want)
	}
}

func TestReduce_LocalDeleteNotReversedByEcho(t *testing.T) {
	s := NewState([]model.Bookmark{testBookmark("b1"), testBookmark("b2")})

	s = Reduce(s, LocalDeletedEvent("b1"))
	s = Reduce(s, CreatedEvent(testBookmark("b1")))
	s = Reduce(s, UpdatedEvent(testBookmark("b1")))
	s = Reduce(s, DeletedEvent("b1"))

	if got, want := ids(s.Bookmarks), []string{"b2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("bookmarks = %v, want %v", got, want)
	}
	if !s.IsDeleted("b1") {
		t.Error("IsDeleted(b1) = false, want true")
	}
}

func TestReduce_DeleteBeforeCreateSuppressesCreate(t *testing.T) {
	// 他タブの削除通知が作成イベントより先に届く場合
	s := NewState(nil)

	s = Reduce(s, DeletedEvent("b1"))
	s = Reduce(s, CreatedEvent(testBookmark("b1")))

	if len(s.Bookmarks) != 0 {
		t.Errorf("bookmarks = %v, want empty", ids(s.Bookmarks))
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	initial := NewState([]model.Bookmark{testBookmark("b1"), testBookmark("b2")})

	_ = Reduce(initial, CreatedEvent(testBookmark("b3")))
	_ = Reduce(initial, DeletedEvent("b1"))
	renamed := testBookmark("b2")
	renamed.Title = "Renamed"
	_ = Reduce(initial, UpdatedEvent(renamed))

	if got, want := ids(initial.Bookmarks), []string{"b1", "b2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("initial bookmarks = %v, want %v", got, want)
	}
	if initial.Bookmarks[1].Title != "Bookmark b2" {
		t.Errorf("initial title = %q, want unchanged", initial.Bookmarks[1].Title)
	}
	if initial.IsDeleted("b1") {
		t.Error("initial state recorded a deletion")
	}
}

func TestReduce_IgnoresUnknownAndEmpty(t *testing.T) {
	s := NewState([]model.Bookmark{testBookmark("b1")})

	tests := []struct {
		name string
		ev   Event
	}{
		{"unknown kind", Event{Kind: EventKind(99), ID: "b1"}},
		{"create without id", CreatedEvent(model.Bookmark{Title: "x"})},
		{"delete without id", DeletedEvent("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := Reduce(s, tt.ev)
			if got, want := ids(next.Bookmarks), []string{"b1"}; !reflect.DeepEqual(got, want) {
				t.Errorf("bookmarks = %v, want %v", got, want)
			}
		})
	}
}

func TestEventFromChange(t *testing.T) {
	b := testBookmark("b1")

	tests := []struct {
		change model.ChangeEvent
		want   EventKind
		ok     bool
	}{
		{model.ChangeEvent{Type: model.ChangeCreated, Record: b}, EventCreated, true},
		{model.ChangeEvent{Type: model.ChangeUpdated, Record: b}, EventUpdated, true},
		{model.ChangeEvent{Type: model.ChangeDeleted, Record: b}, EventDeleted, true},
		{model.ChangeEvent{Type: "truncated", Record: b}, 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.change.Type), func(t *testing.T) {
			ev, ok := EventFromChange(tt.change)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (ev.Kind != tt.want || ev.ID != "b1") {
				t.Errorf("event = %+v, want kind %v id b1", ev, tt.want)
			}
		})
	}
}
