package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/hitoshi/linkshelf/internal/auth"
	"github.com/hitoshi/linkshelf/internal/middleware"
	"github.com/hitoshi/linkshelf/internal/model"
	"github.com/hitoshi/linkshelf/internal/realtime"
)

func newStreamTestServer(t *testing.T, hub *realtime.Hub, userID string) string {
	t.Helper()
	h := NewStreamHandler(hub, "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Stream(w, r.WithContext(middleware.ContextWithUserID(r.Context(), userID)))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) model.StreamFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame model.StreamFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return frame
}

func TestStreamHandler_SendsStatusThenOwnChanges(t *testing.T) {
	hub := realtime.NewHub(nil)
	url := newStreamTestServer(t, hub, "user-1")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	first := readFrame(t, conn)
	if first.Type != model.StreamFrameStatus || first.Status != "connected" {
		t.Fatalf("first frame = %+v, want connected status", first)
	}

	// 他ユーザーのイベントは届かない
	hub.Publish(model.ChangeEvent{Type: model.ChangeCreated, Record: model.Bookmark{ID: "other", UserID: "user-2"}})
	hub.Publish(model.ChangeEvent{Type: model.ChangeCreated, Record: model.Bookmark{ID: "mine", UserID: "user-1", Title: "Go"}})

	frame := readFrame(t, conn)
	if frame.Type != model.StreamFrameChange || frame.EventType != model.ChangeCreated {
		t.Fatalf("frame = %+v, want created change", frame)
	}
	if frame.Record == nil || frame.Record.ID != "mine" {
		t.Errorf("record = %+v, want id mine", frame.Record)
	}
}

func TestStreamHandler_ClosesWhenSubscriptionCloses(t *testing.T) {
	hub := realtime.NewHub(nil)
	url := newStreamTestServer(t, hub, "user-1")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	readFrame(t, conn)

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going-away close", err)
	}
}

func TestStreamHandler_UnsubscribesOnClientDisconnect(t *testing.T) {
	hub := realtime.NewHub(nil)
	url := newStreamTestServer(t, hub, "user-1")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	readFrame(t, conn)
	if got := hub.SubscriberCount(); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := hub.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d after disconnect, want 0", got)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker("https://app.example.com")
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"http://api.example.com", true},
		{"https://evil.example.net", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://api.example.com/api/bookmarks/stream", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := check(req); got != tt.want {
			t.Errorf("origin %q = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestStreamHandler_CarriesRenewedSessionCookie(t *testing.T) {
	hub := realtime.NewHub(nil)
	renewedUntil := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	validator := &mockSessionValidator{validateFn: func(_ context.Context, token string) (*model.SessionValidationResult, error) {
		return &model.SessionValidationResult{
			Session: &model.Session{ID: "s1", UserID: "user-1", ExpiresAt: renewedUntil},
			User:    &model.User{ID: "user-1"},
			Renewed: true,
		}, nil
	}}

	stream := NewStreamHandler(hub, "")
	chain := middleware.NewSessionContextMiddleware(validator, auth.CookieConfig{})(
		middleware.NewRequireSessionMiddleware()(http.HandlerFunc(stream.Stream)),
	)
	srv := httptest.NewServer(chain)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Add("Cookie", auth.SessionCookieName+"=renew-me")
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	cookie := findCookie(resp, auth.SessionCookieName)
	if cookie == nil {
		t.Fatal("101 response should carry the renewed session cookie")
	}
	if cookie.Value != "renew-me" {
		t.Errorf("cookie value = %q, want renew-me", cookie.Value)
	}
	if !cookie.Expires.Equal(renewedUntil) {
		t.Errorf("cookie expires = %v, want %v", cookie.Expires, renewedUntil)
	}
	if frame := readFrame(t, conn); frame.Status != "connected" {
		t.Errorf("first frame = %+v, want connected status", frame)
	}
}
