package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/linkshelf/internal/metrics"
	"github.com/hitoshi/linkshelf/internal/model"
	"github.com/hitoshi/linkshelf/internal/repository"
)

const (
	// sessionTokenBytes はセッショントークンの乱数バイト数（144bit）。
	sessionTokenBytes = 18

	// DefaultSessionLifetime はセッションの有効期間。
	DefaultSessionLifetime = 30 * 24 * time.Hour
	// DefaultSessionRenewWindow は有効期限の延長を行う残り期間の閾値。
	DefaultSessionRenewWindow = 15 * 24 * time.Hour
)

// GenerateSessionToken は暗号論的に安全なURLセーフのセッショントークンを生成する。
func GenerateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSessionToken はトークンからセッションIDを導出する（小文字16進のSHA-256）。
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SessionIDForLog はログ出力用にセッションIDの先頭のみを返す。
func SessionIDForLog(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}

// SessionManagerConfig はセッションの有効期間設定。
type SessionManagerConfig struct {
	Lifetime    time.Duration
	RenewWindow time.Duration
}

// SessionManager はセッショントークンのライフサイクルを管理する。
type SessionManager struct {
	sessions repository.SessionRepository
	config   SessionManagerConfig
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewSessionManager はSessionManagerを生成する。
// 期間が0以下の場合はデフォルト値を使用する。
func NewSessionManager(sessions repository.SessionRepository, config SessionManagerConfig, collector metrics.MetricsCollector) *SessionManager {
	if config.Lifetime <= 0 {
		config.Lifetime = DefaultSessionLifetime
	}
	if config.RenewWindow <= 0 || config.RenewWindow > config.Lifetime {
		config.RenewWindow = config.Lifetime / 2
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &SessionManager{
		sessions: sessions,
		config:   config,
		metrics:  collector,
		now:      time.Now,
	}
}

// CreateSession はトークンのハッシュをIDとするセッションを作成し永続化する。
func (m *SessionManager) CreateSession(ctx context.Context, token, userID string) (*model.Session, error) {
	session := &model.Session{
		ID:        HashSessionToken(token),
		UserID:    userID,
		ExpiresAt: m.now().Add(m.config.Lifetime),
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.metrics.RecordSessionCreated()
	return session, nil
}

// ValidateSessionToken はトークンを検証し、セッションと所有ユーザーを返す。
// 該当なし・期限切れの場合はSessionとUserがnilの結果を返す。期限切れの行は削除する。
// 残り期間が更新閾値以下の場合は有効期限を延長する。
func (m *SessionManager) ValidateSessionToken(ctx context.Context, token string) (*model.SessionValidationResult, error) {
	sessionID := HashSessionToken(token)

	session, user, err := m.sessions.FindWithUser(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || user == nil {
		m.metrics.RecordSessionValidation(metrics.ValidationMissing)
		return &model.SessionValidationResult{}, nil
	}

	now := m.now()
	if session.IsExpired(now) {
		if err := m.sessions.DeleteByID(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("failed to delete expired session: %w", err)
		}
		m.metrics.RecordSessionValidation(metrics.ValidationExpired)
		slog.Info("expired session removed",
			slog.String("session_id", SessionIDForLog(session.ID)),
			slog.String("user_id", session.UserID),
		)
		return &model.SessionValidationResult{}, nil
	}

	result := &model.SessionValidationResult{Session: session, User: user}

	// 読み取りと更新は別クエリで行うため、並行リクエストでは二重に更新されうる。
	if !now.Before(session.ExpiresAt.Add(-m.config.RenewWindow)) {
		expiresAt := now.Add(m.config.Lifetime)
		if err := m.sessions.UpdateExpiresAt(ctx, session.ID, expiresAt); err != nil {
			return nil, fmt.Errorf("failed to renew session: %w", err)
		}
		session.ExpiresAt = expiresAt
		result.Renewed = true
		m.metrics.RecordSessionValidation(metrics.ValidationRenewed)
		return result, nil
	}

	m.metrics.RecordSessionValidation(metrics.ValidationValid)
	return result, nil
}

// InvalidateSession はセッションを削除する。存在しない場合も成功とする。
func (m *SessionManager) InvalidateSession(ctx context.Context, sessionID string) error {
	if err := m.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

// InvalidateUserSessions は指定ユーザーの全セッションを削除する。
func (m *SessionManager) InvalidateUserSessions(ctx context.Context, userID string) error {
	if err := m.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate user sessions: %w", err)
	}
	return nil
}
