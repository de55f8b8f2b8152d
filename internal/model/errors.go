// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, bookmark, sync, system
	Action   string // ユーザー向け対処方法
	Field    string // 入力検証エラーの対象フィールド（該当する場合のみ）

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeCSRFMismatch     = "CSRF_MISMATCH"
	ErrCodeExchangeFailed   = "EXCHANGE_FAILED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeStore            = "STORE_ERROR"
	ErrCodeBookmarkNotFound = "BOOKMARK_NOT_FOUND"
	ErrCodeSyncNotConnected = "SYNC_NOT_CONNECTED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeCSRFTokenInvalid = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited      = "RATE_LIMIT_EXCEEDED"
)

// NewInvalidRequestError は必須パラメータ不足エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "auth",
		Action:   "Start the sign-in flow again from the login page.",
	}
}

// NewCSRFMismatchError はOAuth stateの不一致エラーを生成する。
func NewCSRFMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFMismatch,
		Message:  "Invalid state",
		Category: "auth",
		Action:   "Start the sign-in flow again from the login page.",
	}
}

// NewExchangeFailedError は認可コード交換の失敗エラーを生成する。
func NewExchangeFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeExchangeFailed,
		Message:  "Failed to validate authorization code",
		Category: "auth",
		Action:   "Start the sign-in flow again from the login page.",
		cause:    cause,
	}
}

// NewUnauthorizedError は有効なセッションがない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required",
		Category: "auth",
		Action:   "Sign in to continue.",
	}
}

// NewValidationError はフィールド単位の入力検証エラーを生成する。
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Correct the highlighted field and submit again.",
		Field:    field,
	}
}

// NewStoreError は永続化層の失敗エラーを生成する。
// ユーザーには再試行可能な失敗として提示する。
func NewStoreError(op string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStore,
		Message:  fmt.Sprintf("Failed to %s", op),
		Category: "system",
		Action:   "Please try again in a moment.",
		cause:    cause,
	}
}

// NewBookmarkNotFoundError はブックマーク未検出エラーを生成する。
func NewBookmarkNotFoundError(bookmarkID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookmarkNotFound,
		Message:  fmt.Sprintf("Bookmark not found: %s", bookmarkID),
		Category: "bookmark",
		Action:   "Reload the page to refresh your bookmarks.",
	}
}

// NewSyncNotConnectedError はリアルタイム同期が未接続のため操作を拒否したエラーを生成する。
func NewSyncNotConnectedError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeSyncNotConnected,
		Message:  fmt.Sprintf("Realtime sync is %s", status),
		Category: "sync",
		Action:   "Wait for the connection to be established, or reload to reconnect.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}

// NewCSRFTokenInvalidError は状態変更リクエストのCSRFトークン検証失敗エラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "Reload the page and try again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// HasCode はエラーチェーン中に指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsRetryable はクライアントが再試行を提示すべきエラーかを返す。
func IsRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case ErrCodeStore, ErrCodeSyncNotConnected:
		return true
	default:
		return false
	}
}
