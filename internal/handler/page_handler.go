package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/linkshelf/internal/auth"
	"github.com/hitoshi/linkshelf/internal/middleware"
	"github.com/hitoshi/linkshelf/internal/model"
)

// PageHandler はページルートのハンドラー。
// 描画はフロントエンドが行い、ここでは初期データのみをJSONで返す。
type PageHandler struct {
	bookmarks BookmarkServiceInterface
	cookies   auth.CookieConfig
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(bookmarks BookmarkServiceInterface, cookies auth.CookieConfig) *PageHandler {
	return &PageHandler{bookmarks: bookmarks, cookies: cookies}
}

type dashboardResponse struct {
	User      *model.User       `json:"user"`
	Bookmarks []*model.Bookmark `json:"bookmarks"`
}

// Home は公開ランディングページ。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":  "linkshelf",
		"login": middleware.LoginPath,
	})
}

// Login はログインページ。セッションが実際に有効な場合はダッシュボードへ送る。
// GET /login
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	if result, err := middleware.ResolveSession(r.Context()); err == nil && result.Valid() {
		http.Redirect(w, r, middleware.DashboardPath, http.StatusTemporaryRedirect)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"google": "/login/google",
	})
}

// Dashboard はユーザー情報と初期ブックマーク一覧を返す。
// 無効なセッションCookieは削除してからログインページへ送る。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	result, err := middleware.ResolveSession(r.Context())
	if err != nil {
		slog.Error("failed to resolve session",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if !result.Valid() {
		// Cookieを残すとガードが/loginから/dashboardへ送り返してしまう
		auth.DeleteSessionCookie(w, h.cookies)
		http.Redirect(w, r, middleware.LoginPath, http.StatusTemporaryRedirect)
		return
	}

	bookmarks, err := h.bookmarks.List(r.Context(), result.User.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{User: result.User, Bookmarks: bookmarks})
}
