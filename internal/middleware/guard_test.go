package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/linkshelf/internal/auth"
)

func TestGuardDecision(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		hasCookie bool
		want      GuardAction
	}{
		{"login with cookie goes to dashboard", "/login", true, GuardRedirectDashboard},
		{"login without cookie", "/login", false, GuardPass},
		{"google start with cookie", "/login/google", true, GuardPass},
		{"google callback with cookie", "/login/google/callback", true, GuardPass},
		{"google callback without cookie", "/login/google/callback", false, GuardPass},
		{"root without cookie", "/", false, GuardPass},
		{"root with cookie", "/", true, GuardPass},
		{"dashboard without cookie", "/dashboard", false, GuardRedirectLogin},
		{"dashboard with cookie", "/dashboard", true, GuardPass},
		{"nested protected without cookie", "/settings/profile", false, GuardRedirectLogin},
		{"logout without cookie", "/logout", false, GuardRedirectLogin},
		{"prefix lookalike is not public", "/loginx", false, GuardRedirectLogin},
		{"api is bypassed", "/api/bookmarks", false, GuardPass},
		{"static is bypassed", "/static/app.js", false, GuardPass},
		{"favicon is bypassed", "/favicon.ico", false, GuardPass},
		{"robots is bypassed", "/robots.txt", false, GuardPass},
		{"sitemap is bypassed", "/sitemap.xml", false, GuardPass},
		{"health is bypassed", "/health", false, GuardPass},
		{"metrics is bypassed", "/metrics", false, GuardPass},
		{"health subpath is bypassed", "/health/ready", false, GuardPass},
		{"health lookalike is protected", "/healthx", false, GuardRedirectLogin},
		{"metrics lookalike is protected", "/metrics-admin", false, GuardRedirectLogin},
		{"favicon lookalike is protected", "/favicon.ico.bak", false, GuardRedirectLogin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GuardDecision(tt.path, tt.hasCookie); got != tt.want {
				t.Errorf("GuardDecision(%q, %v) = %v, want %v", tt.path, tt.hasCookie, got, tt.want)
			}
		})
	}
}

func TestRouteGuard_Redirects(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		cookie       string
		wantStatus   int
		wantLocation string
	}{
		{"protected without cookie", "/dashboard", "", http.StatusTemporaryRedirect, LoginPath},
		{"login with cookie", "/login", "any-token", http.StatusTemporaryRedirect, DashboardPath},
		{"protected with any cookie value", "/dashboard", "not-validated", http.StatusOK, ""},
		{"public without cookie", "/login", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewRouteGuard()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
		})
	}
}

// TestRouteGuard_EmptyCookieValue_TreatedAsMissing は空値のCookie（削除済み）をセッションなしとして扱うことを検証する。
func TestRouteGuard_EmptyCookieValue_TreatedAsMissing(t *testing.T) {
	handler := NewRouteGuard()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: ""})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
}
