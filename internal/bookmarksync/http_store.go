package bookmarksync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/linkshelf/internal/auth"
	"github.com/hitoshi/linkshelf/internal/model"
)

const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"

	defaultHTTPTimeout = 15 * time.Second
)

// HTTPStore はサーバーのブックマークAPIをStoreとして使うRESTクライアント。
// 認証はセッションCookie、状態変更はダブルサブミットCookieのCSRFトークンで行う。
type HTTPStore struct {
	baseURL      string
	sessionToken string
	client       *http.Client

	mu        sync.Mutex
	csrfToken string
}

// NewHTTPStore はHTTPStoreを生成する。clientがnilの場合はタイムアウト付きの既定クライアントを使う。
func NewHTTPStore(baseURL, sessionToken string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPStore{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		sessionToken: sessionToken,
		client:       client,
	}
}

type bookmarkListResponse struct {
	Bookmarks []model.Bookmark `json:"bookmarks"`
}

type createBookmarkRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type errorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Field    string `json:"field,omitempty"`
}

// CurrentUser はセッションのユーザーを取得する。
// セッションが無効な場合はUNAUTHORIZEDのAPIErrorを返す。
func (s *HTTPStore) CurrentUser(ctx context.Context) (*model.User, error) {
	resp, err := s.do(ctx, http.MethodGet, "/api/me", nil)
	if err != nil {
		return nil, model.NewStoreError("load user", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp, "load user")
	}
	var user model.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, model.NewStoreError("load user", fmt.Errorf("decode response: %w", err))
	}
	return &user, nil
}

// ListBookmarks は自ユーザーのブックマークを新しい順に取得する。
func (s *HTTPStore) ListBookmarks(ctx context.Context) ([]model.Bookmark, error) {
	resp, err := s.do(ctx, http.MethodGet, "/api/bookmarks", nil)
	if err != nil {
		return nil, model.NewStoreError("load bookmarks", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp, "load bookmarks")
	}
	var body bookmarkListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, model.NewStoreError("load bookmarks", fmt.Errorf("decode response: %w", err))
	}
	if body.Bookmarks == nil {
		body.Bookmarks = []model.Bookmark{}
	}
	return body.Bookmarks, nil
}

// CreateBookmark はブックマークを作成する。
func (s *HTTPStore) CreateBookmark(ctx context.Context, title, rawURL string) (*model.Bookmark, error) {
	payload, err := json.Marshal(createBookmarkRequest{Title: title, URL: rawURL})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resp, err := s.doMutation(ctx, http.MethodPost, "/api/bookmarks", payload)
	if err != nil {
		return nil, model.NewStoreError("save bookmark", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeAPIError(resp, "save bookmark")
	}
	var created model.Bookmark
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, model.NewStoreError("save bookmark", fmt.Errorf("decode response: %w", err))
	}
	return &created, nil
}

// DeleteBookmark はブックマークを削除する。
func (s *HTTPStore) DeleteBookmark(ctx context.Context, id string) error {
	resp, err := s.doMutation(ctx, http.MethodDelete, "/api/bookmarks/"+url.PathEscape(id), nil)
	if err != nil {
		return model.NewStoreError("delete bookmark", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp, "delete bookmark")
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// doMutation はCSRFトークンを付けて状態変更リクエストを送る。
// トークンが拒否された場合は1回だけ再取得して再送する。
func (s *HTTPStore) doMutation(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := s.csrf(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}
		resp, err := s.do(ctx, method, path, payload, func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
			req.Header.Set(csrfHeaderName, token)
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusForbidden && attempt == 0 {
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
}

// csrf はキャッシュ済みのCSRFトークンを返す。refreshの場合やキャッシュがない場合は取得し直す。
func (s *HTTPStore) csrf(ctx context.Context, refresh bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.csrfToken != "" && !refresh {
		return s.csrfToken, nil
	}

	resp, err := s.do(ctx, http.MethodGet, "/api/csrf-token", nil)
	if err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch csrf token: status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Token == "" {
		return "", fmt.Errorf("fetch csrf token: invalid response")
	}
	s.csrfToken = body.Token
	return s.csrfToken, nil
}

func (s *HTTPStore) do(ctx context.Context, method, path string, payload []byte, decorate ...func(*http.Request)) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: s.sessionToken})
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, fn := range decorate {
		fn(req)
	}
	return s.client.Do(req)
}

// decodeAPIError はエラーレスポンスをAPIErrorに変換する。
// 統一フォーマットでない応答はSTORE_ERRORとして扱う。
func decodeAPIError(resp *http.Response, op string) error {
	var body errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Code == "" {
		return model.NewStoreError(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return &model.APIError{
		Code:     body.Code,
		Message:  body.Message,
		Category: body.Category,
		Action:   body.Action,
		Field:    body.Field,
	}
}
