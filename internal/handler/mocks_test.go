package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hitoshi/linkshelf/internal/auth"
	"github.com/hitoshi/linkshelf/internal/bookmark"
	"github.com/hitoshi/linkshelf/internal/middleware"
	"github.com/hitoshi/linkshelf/internal/model"
	"github.com/hitoshi/linkshelf/internal/realtime"
)

// --- モック定義 ---

type mockAuthService struct {
	authCodeURLFn    func(state, codeVerifier string) string
	handleCallbackFn func(ctx context.Context, code, codeVerifier string) (*auth.IssuedSession, error)
	logoutFn         func(ctx context.Context, token string) error
	logoutAllFn      func(ctx context.Context, userID string) error

	callbackCalls int
}

func (m *mockAuthService) AuthCodeURL(state, codeVerifier string) string {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(state, codeVerifier)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code, codeVerifier string) (*auth.IssuedSession, error) {
	m.callbackCalls++
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code, codeVerifier)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) LogoutAll(ctx context.Context, userID string) error {
	if m.logoutAllFn != nil {
		return m.logoutAllFn(ctx, userID)
	}
	return nil
}

type mockBookmarkService struct {
	createFn func(ctx context.Context, userID, title, rawURL string) (*model.Bookmark, error)
	listFn   func(ctx context.Context, userID string) ([]*model.Bookmark, error)
	deleteFn func(ctx context.Context, userID, bookmarkID string) error
}

func (m *mockBookmarkService) Create(ctx context.Context, userID, title, rawURL string) (*model.Bookmark, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, title, rawURL)
	}
	return nil, nil
}

func (m *mockBookmarkService) List(ctx context.Context, userID string) ([]*model.Bookmark, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []*model.Bookmark{}, nil
}

func (m *mockBookmarkService) Delete(ctx context.Context, userID, bookmarkID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, bookmarkID)
	}
	return nil
}

type mockSessionValidator struct {
	validateFn func(ctx context.Context, token string) (*model.SessionValidationResult, error)
}

func (m *mockSessionValidator) ValidateSessionToken(ctx context.Context, token string) (*model.SessionValidationResult, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, token)
	}
	return &model.SessionValidationResult{}, nil
}

// compile-time interface checks
var (
	_ AuthServiceInterface        = (*mockAuthService)(nil)
	_ BookmarkServiceInterface    = (*mockBookmarkService)(nil)
	_ middleware.SessionValidator = (*mockSessionValidator)(nil)

	_ AuthServiceInterface     = (*auth.Service)(nil)
	_ BookmarkServiceInterface = (*bookmark.Service)(nil)
	_ ChangeSubscriber         = (*realtime.Hub)(nil)
)

// --- ヘルパー ---

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeErrorBody(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}
