package bookmarksync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/hitoshi/linkshelf/internal/auth"
	"github.com/hitoshi/linkshelf/internal/model"
)

// StreamPath はブックマーク変更ストリームのエンドポイント。
const StreamPath = "/api/bookmarks/stream"

const (
	wsHandshakeTimeout = 10 * time.Second
	// wsReadTimeout はサーバーのping間隔より長くとる
	wsReadTimeout  = 90 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// WSFeed はWebSocket経由でサーバーの変更ストリームを購読する。
type WSFeed struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

// NewWSFeed はサーバーのベースURLとセッショントークンからWSFeedを生成する。
// http(s)のURLはws(s)に変換する。
func NewWSFeed(serverURL, sessionToken string) (*WSFeed, error) {
	streamURL, err := streamURLFor(serverURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: auth.SessionCookieName, Value: sessionToken}).String())
	header.Set("User-Agent", "linkshelf-sync/1.0")

	return &WSFeed{
		url:    streamURL,
		header: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: wsHandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}, nil
}

func streamURLFor(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL: missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + StreamPath
	u.RawQuery = ""
	return u.String(), nil
}

// Run はストリームに接続し、切断されるまでフレームをhandlerに渡す。
// ctxのキャンセルで接続を閉じてnilを返す。
func (f *WSFeed) Run(ctx context.Context, handler FeedHandler) error {
	conn, resp, err := f.dialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to stream (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("stream closed by server: %w", err)
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if err := dispatchFrame(data, handler); err != nil {
			return err
		}
	}
}

// dispatchFrame は1フレームを解釈してhandlerに渡す。
// 未知のフレーム種別は読み飛ばす。
func dispatchFrame(data []byte, handler FeedHandler) error {
	var frame model.StreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("invalid stream frame: %w", err)
	}

	switch frame.Type {
	case model.StreamFrameStatus:
		if frame.Status != string(StatusConnected) {
			return fmt.Errorf("stream reported status %q", frame.Status)
		}
		handler.Connected()
	case model.StreamFrameChange:
		if frame.Record == nil || !frame.EventType.Valid() {
			return fmt.Errorf("invalid change frame")
		}
		handler.Change(model.ChangeEvent{Type: frame.EventType, Record: *frame.Record})
	}
	return nil
}
