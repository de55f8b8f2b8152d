package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkshelf/internal/auth"
	"github.com/hitoshi/linkshelf/internal/metrics"
	"github.com/hitoshi/linkshelf/internal/middleware"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionValidator  middleware.SessionValidator
	Cookies           auth.CookieConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用
	HealthChecker HealthChecker
	Metrics       metrics.MetricsCollector
	// MetricsHandler は/metricsのハンドラー。nilの場合は公開しない。
	MetricsHandler http.Handler

	AuthService     AuthServiceInterface
	BookmarkService BookmarkServiceInterface
	Hub             ChangeSubscriber
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → SessionContext → RouteGuard
//
// /api配下はさらに RequireSession → RateLimit(General) → CSRF を通す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.Cookies.Secure,
		CookieDomain: deps.Cookies.Domain,
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.Cookies.Secure}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSessionContextMiddleware(deps.SessionValidator, deps.Cookies))
	r.Use(middleware.NewRouteGuard())

	authHandler := NewAuthHandler(deps.AuthService, AuthHandlerConfig{Cookies: deps.Cookies}, deps.Metrics)
	bookmarkHandler := NewBookmarkHandler(deps.BookmarkService)
	pageHandler := NewPageHandler(deps.BookmarkService, deps.Cookies)
	streamHandler := NewStreamHandler(deps.Hub, deps.CORSAllowedOrigin)

	// --- 運用 ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- ページ ---
	r.Get("/", pageHandler.Home)
	r.Get("/login", pageHandler.Login)
	r.Get("/dashboard", pageHandler.Dashboard)

	// --- OAuthフロー ---
	r.Get("/login/google", authHandler.Login)
	r.Get("/login/google/callback", authHandler.Callback)
	r.Get("/logout", authHandler.Logout)
	r.Post("/logout", authHandler.Logout)

	// --- API ---
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireSessionMiddleware())
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(middleware.NewCSRFMiddleware(csrfConfig))

			r.Get("/me", authHandler.Me)
			r.Delete("/sessions", authHandler.LogoutAll)

			r.Route("/bookmarks", func(r chi.Router) {
				r.Get("/", bookmarkHandler.ListBookmarks)
				r.With(deps.RateLimiter.BookmarkCreateMiddleware()).Post("/", bookmarkHandler.CreateBookmark)
				r.Get("/stream", streamHandler.Stream)
				r.Delete("/{id}", bookmarkHandler.DeleteBookmark)
			})
		})
	})

	return r
}

// healthHandler はDB疎通を含むヘルスチェックを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
