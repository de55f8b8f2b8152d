// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hitoshi/linkshelf/internal/auth"
	"github.com/hitoshi/linkshelf/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey     = contextKey("user")
	resolverContextKey = contextKey("session_resolver")
)

// SessionValidator はセッショントークンの検証に必要なインターフェース。
type SessionValidator interface {
	ValidateSessionToken(ctx context.Context, token string) (*model.SessionValidationResult, error)
}

// sessionResolver はリクエスト単位でセッション検証を1回だけ行う。
type sessionResolver struct {
	once      sync.Once
	validator SessionValidator
	token     string
	w         http.ResponseWriter
	cookies   auth.CookieConfig

	result *model.SessionValidationResult
	err    error
	done   bool
	mu     sync.Mutex
}

func (sr *sessionResolver) resolve(ctx context.Context) (*model.SessionValidationResult, error) {
	sr.once.Do(func() {
		defer func() {
			sr.mu.Lock()
			sr.done = true
			sr.mu.Unlock()
		}()

		if sr.token == "" {
			sr.result = &model.SessionValidationResult{}
			return
		}
		sr.result, sr.err = sr.validator.ValidateSessionToken(ctx, sr.token)
		if sr.err != nil {
			return
		}
		// 延長した場合はCookieの有効期限も合わせる
		if sr.result.Valid() && sr.result.Renewed {
			auth.SetSessionCookie(sr.w, sr.cookies, sr.token, sr.result.Session.ExpiresAt)
		}
	})
	return sr.result, sr.err
}

// resolvedUserID は検証済みの場合のみユーザーIDを返す。未検証なら検証を発生させない。
func (sr *sessionResolver) resolvedUserID() string {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if !sr.done || sr.err != nil || !sr.result.Valid() {
		return ""
	}
	return sr.result.User.ID
}

// NewSessionContextMiddleware はセッションの遅延解決をリクエストコンテキストに登録するミドルウェアを返す。
// 検証はResolveSessionが最初に呼ばれた時点で1回だけ実行され、同一リクエスト内で再利用される。
func NewSessionContextMiddleware(validator SessionValidator, cookies auth.CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resolver := &sessionResolver{
				validator: validator,
				token:     auth.SessionTokenFromRequest(r),
				w:         w,
				cookies:   cookies,
			}
			ctx := context.WithValue(r.Context(), resolverContextKey, resolver)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResolveSession はリクエストのセッションを返す。同一リクエスト内では結果を再利用する。
// 無効なセッションの場合はValid()がfalseの結果を返す。
func ResolveSession(ctx context.Context) (*model.SessionValidationResult, error) {
	resolver, ok := ctx.Value(resolverContextKey).(*sessionResolver)
	if !ok {
		return nil, errors.New("session resolver not found in context")
	}
	return resolver.resolve(ctx)
}

// NewRequireSessionMiddleware は有効なセッションを必須とするAPI用ミドルウェアを返す。
// 認証済みユーザーをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewRequireSessionMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := ResolveSession(r.Context())
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !result.Valid() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), result.User)))
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, errors.New("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// ContextWithUserID はIDのみのユーザーをコンテキストに注入する。テスト用。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithUser(ctx, &model.User{ID: userID})
}

// loggedUserID はログ出力用のユーザーIDを返す。
// 注入済みユーザーを優先し、なければ解決済みセッションから取得する。
func loggedUserID(ctx context.Context) string {
	if userID, err := UserIDFromContext(ctx); err == nil {
		return userID
	}
	if resolver, ok := ctx.Value(resolverContextKey).(*sessionResolver); ok {
		return resolver.resolvedUserID()
	}
	return ""
}
