package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/hitoshi/linkshelf/internal/middleware"
	"github.com/hitoshi/linkshelf/internal/model"
	"github.com/hitoshi/linkshelf/internal/realtime"
)

const (
	streamWriteWait    = 10 * time.Second
	streamPongWait     = 60 * time.Second
	streamPingInterval = 30 * time.Second
)

// ChangeSubscriber はユーザー単位の変更イベント購読を提供するインターフェース。
type ChangeSubscriber interface {
	Subscribe(userID string) *realtime.Subscription
	Unsubscribe(sub *realtime.Subscription)
}

// StreamHandler はブックマーク変更フィードをWebSocketで配信する。
type StreamHandler struct {
	hub          ChangeSubscriber
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewStreamHandler はStreamHandlerを生成する。
// allowedOriginは同一オリジン以外に接続を許可するオリジン。
func NewStreamHandler(hub ChangeSubscriber, allowedOrigin string) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigin),
		},
		pingInterval: streamPingInterval,
	}
}

// originChecker はOriginヘッダーなし、同一ホスト、許可オリジンのいずれかを受け付ける。
func originChecker(allowedOrigin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowedOrigin != "" && strings.EqualFold(origin, allowedOrigin) {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// Stream は認証済みユーザーの変更イベントを配信する。
// 最初にstatusフレームを送り、以降はchangeフレームと定期的なpingを送る。
// GET /api/bookmarks/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	// Upgradeはw.Header()を使わないため、セッション延長のSet-Cookieを101応答に載せ替える
	var responseHeader http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		responseHeader = http.Header{"Set-Cookie": cookies}
	}
	conn, err := h.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		slog.Warn("websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// statusフレームより前に購読し、接続通知後のイベントを取りこぼさない
	sub := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(sub)

	closed := make(chan struct{})
	go readUntilClose(conn, closed)

	if err := writeFrame(conn, model.StreamFrame{Type: model.StreamFrameStatus, Status: "connected"}); err != nil {
		return
	}
	slog.Info("change stream opened",
		slog.String("user_id", userID),
		slog.String("subscription_id", sub.ID),
	)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				slog.Info("change stream closed by hub",
					slog.String("user_id", userID),
					slog.String("subscription_id", sub.ID),
				)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(streamWriteWait))
				return
			}
			if err := writeFrame(conn, model.ChangeFrame(ev)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

// readUntilClose はクライアントからの受信を読み捨て、切断を検知したらclosedを閉じる。
func readUntilClose(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame model.StreamFrame) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(frame)
}
