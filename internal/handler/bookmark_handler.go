package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkshelf/internal/middleware"
	"github.com/hitoshi/linkshelf/internal/model"
)

// maxBookmarkBody は作成リクエストボディの上限。
const maxBookmarkBody = 16 * 1024

// BookmarkServiceInterface はブックマークハンドラーが必要とするサービスインターフェース。
type BookmarkServiceInterface interface {
	Create(ctx context.Context, userID, title, rawURL string) (*model.Bookmark, error)
	List(ctx context.Context, userID string) ([]*model.Bookmark, error)
	Delete(ctx context.Context, userID, bookmarkID string) error
}

// BookmarkHandler はブックマークCRUDのHTTPハンドラー。
type BookmarkHandler struct {
	service BookmarkServiceInterface
}

// NewBookmarkHandler はBookmarkHandlerを生成する。
func NewBookmarkHandler(service BookmarkServiceInterface) *BookmarkHandler {
	return &BookmarkHandler{service: service}
}

type createBookmarkRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type listBookmarksResponse struct {
	Bookmarks []*model.Bookmark `json:"bookmarks"`
}

// CreateBookmark はブックマークを作成する。
// POST /api/bookmarks
func (h *BookmarkHandler) CreateBookmark(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createBookmarkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBookmarkBody)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("", "Request body must be a JSON object with title and url."))
		return
	}

	bookmark, err := h.service.Create(r.Context(), userID, req.Title, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookmark)
}

// ListBookmarks はユーザーのブックマークを新しい順に返す。
// GET /api/bookmarks
func (h *BookmarkHandler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	bookmarks, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listBookmarksResponse{Bookmarks: bookmarks})
}

// DeleteBookmark はブックマークを削除する。
// DELETE /api/bookmarks/{id}
func (h *BookmarkHandler) DeleteBookmark(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
