// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/linkshelf/internal/auth"
	"github.com/hitoshi/linkshelf/internal/metrics"
	"github.com/hitoshi/linkshelf/internal/middleware"
	"github.com/hitoshi/linkshelf/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	AuthCodeURL(state, codeVerifier string) string
	HandleCallback(ctx context.Context, code, codeVerifier string) (*auth.IssuedSession, error)
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, userID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookies auth.CookieConfig
	// LandingPath はログイン成功後のリダイレクト先。空の場合は/dashboard。
	LandingPath string
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, collector metrics.MetricsCollector) *AuthHandler {
	if config.LandingPath == "" {
		config.LandingPath = middleware.DashboardPath
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AuthHandler{
		service: service,
		config:  config,
		metrics: collector,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /login/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	verifier := auth.GenerateCodeVerifier()

	auth.SetOAuthCookies(w, h.config.Cookies, state, verifier)
	http.Redirect(w, r, h.service.AuthCodeURL(state, verifier), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /login/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	storedState, verifier := auth.OAuthCookiesFromRequest(r)

	// 結果にかかわらずフロー用Cookieは使い捨てにする
	auth.ClearOAuthCookies(w, h.config.Cookies)

	if code == "" || state == "" || storedState == "" || verifier == "" {
		h.fail(w, model.NewInvalidRequestError("missing code, state or verifier"))
		return
	}
	// トークンエンドポイントへの通信より前に検証する
	if subtle.ConstantTimeCompare([]byte(state), []byte(storedState)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("path", r.URL.Path))
		h.fail(w, model.NewCSRFMismatchError())
		return
	}

	issued, err := h.service.HandleCallback(r.Context(), code, verifier)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.fail(w, err)
		return
	}

	auth.SetSessionCookie(w, h.config.Cookies, issued.Token, issued.Session.ExpiresAt)
	h.metrics.RecordOAuthCallback("success")
	http.Redirect(w, r, h.config.LandingPath, http.StatusFound)
}

func (h *AuthHandler) fail(w http.ResponseWriter, err error) {
	result := model.ErrCodeInternal
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		result = apiErr.Code
	}
	h.metrics.RecordOAuthCallback(result)
	handleServiceError(w, err)
}

// Logout はセッションを破棄してログインページへ戻す。
// GET|POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.SessionTokenFromRequest(r); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			// 失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	auth.DeleteSessionCookie(w, h.config.Cookies)
	http.Redirect(w, r, middleware.LoginPath, http.StatusFound)
}

// LogoutAll は全端末のセッションを破棄する。
// DELETE /api/sessions
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.LogoutAll(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	auth.DeleteSessionCookie(w, h.config.Cookies)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, user)
}
