package auth

import (
	"net/http"
	"time"
)

// Cookie名
const (
	SessionCookieName      = "auth-session"
	OAuthStateCookieName   = "google_oauth_state"
	CodeVerifierCookieName = "google_code_verifier"

	// oauthCookieMaxAge はOAuthフロー用Cookieの有効期間（秒）。
	oauthCookieMaxAge = 600
)

// CookieConfig はCookie属性の共通設定。
type CookieConfig struct {
	Domain string
	Secure bool
}

// SetSessionCookie は生のセッショントークンをCookieに設定する。
// 有効期限はセッションのexpiresAtに合わせる。
func SetSessionCookie(w http.ResponseWriter, cfg CookieConfig, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// DeleteSessionCookie は空値と即時失効でセッションCookieを削除する。
func DeleteSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, expiredCookie(SessionCookieName, cfg))
}

// SetOAuthCookies はstateとPKCEのcode_verifierを短命なCookieに保存する。
func SetOAuthCookies(w http.ResponseWriter, cfg CookieConfig, state, codeVerifier string) {
	for name, value := range map[string]string{
		OAuthStateCookieName:   state,
		CodeVerifierCookieName: codeVerifier,
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			MaxAge:   oauthCookieMaxAge,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// ClearOAuthCookies はOAuthフロー用Cookieを削除する。
func ClearOAuthCookies(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, expiredCookie(OAuthStateCookieName, CookieConfig{Secure: cfg.Secure}))
	http.SetCookie(w, expiredCookie(CodeVerifierCookieName, CookieConfig{Secure: cfg.Secure}))
}

// SessionTokenFromRequest はリクエストのセッションCookieの値を返す。未設定の場合は空文字。
func SessionTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// OAuthCookiesFromRequest は保存済みのstateとcode_verifierを返す。
func OAuthCookiesFromRequest(r *http.Request) (state, codeVerifier string) {
	if c, err := r.Cookie(OAuthStateCookieName); err == nil {
		state = c.Value
	}
	if c, err := r.Cookie(CodeVerifierCookieName); err == nil {
		codeVerifier = c.Value
	}
	return state, codeVerifier
}

func expiredCookie(name string, cfg CookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
