package middleware

import (
	"net/http"
	"strings"

	"github.com/hitoshi/linkshelf/internal/auth"
)

const (
	// LoginPath はログインページのパス。
	LoginPath = "/login"
	// DashboardPath は認証済みユーザーのランディングページのパス。
	DashboardPath = "/dashboard"
)

// publicPrefixes はセッションなしでアクセスできるページのプレフィックス。
var publicPrefixes = []string{
	LoginPath,
	"/login/google",
	"/login/google/callback",
}

// guardBypassPrefixes はガードの判定対象外とするパス。
// APIは各ハンドラーで401を返すため、ここではリダイレクトしない。
var guardBypassPrefixes = []string{
	"/api/",
	"/static/",
	"/favicon.ico",
	"/robots.txt",
	"/sitemap.xml",
	"/health",
	"/metrics",
}

// GuardAction はルートガードの判定結果。
type GuardAction int

const (
	// GuardPass はリクエストをそのまま通す。
	GuardPass GuardAction = iota
	// GuardRedirectLogin はログインページへリダイレクトする。
	GuardRedirectLogin
	// GuardRedirectDashboard はダッシュボードへリダイレクトする。
	GuardRedirectDashboard
)

// GuardDecision はパスとセッションCookieの有無からガードの判定を行う。
// Cookieの値の正当性は検査しない。
func GuardDecision(path string, hasSessionCookie bool) GuardAction {
	if path == "/" || hasAnyPrefix(path, guardBypassPrefixes) {
		return GuardPass
	}

	if isPublicPath(path) {
		if hasSessionCookie && path == LoginPath {
			return GuardRedirectDashboard
		}
		return GuardPass
	}

	if !hasSessionCookie {
		return GuardRedirectLogin
	}
	return GuardPass
}

// NewRouteGuard はCookieの有無のみでページアクセスを振り分けるミドルウェアを返す。
// セッションストアにはアクセスしない。
func NewRouteGuard() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hasCookie := auth.SessionTokenFromRequest(r) != ""

			switch GuardDecision(r.URL.Path, hasCookie) {
			case GuardRedirectLogin:
				http.Redirect(w, r, LoginPath, http.StatusTemporaryRedirect)
			case GuardRedirectDashboard:
				http.Redirect(w, r, DashboardPath, http.StatusTemporaryRedirect)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// isPublicPath はパスが公開プレフィックスのいずれかにセグメント単位で一致するかを返す。
// "/login"は"/login/google"に一致するが"/loginx"には一致しない。
func isPublicPath(path string) bool {
	for _, prefix := range publicPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// hasAnyPrefix は"/"で終わるプレフィックスは前方一致、それ以外はセグメント単位で判定する。
// "/health"は"/health/ready"に一致するが"/healthx"には一致しない。
func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
