// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IDはローカルで採番し、外部IdPの識別子（ProviderID）とは別に管理する。
type User struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"-"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Image      *string   `json:"image,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session はユーザーのログインセッションを表す。
// IDはセッショントークンのSHA-256ハッシュであり、生のトークンは保持しない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
}

// IsExpired は指定時刻においてセッションが失効しているかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionValidationResult はセッショントークン検証の結果を表す。
// トークンが無効な場合はSessionとUserの両方がnilになる。
type SessionValidationResult struct {
	Session *Session
	User    *User
	// Renewed は検証時に有効期限が延長されたかどうか。
	Renewed bool
}

// Valid は有効なセッションが解決できたかを返す。
func (r *SessionValidationResult) Valid() bool {
	return r != nil && r.Session != nil && r.User != nil
}
