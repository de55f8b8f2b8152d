// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/linkshelf/internal/model"
	"github.com/hitoshi/linkshelf/internal/repository"
)

// defaultDisplayName はnameクレームもメールアドレスのローカル部もない場合の表示名。
const defaultDisplayName = "User"

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Picture        string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL はstateとPKCEのcode_challengeを付与した認可URLを生成する。
	AuthCodeURL(state, codeVerifier string) string
	// Exchange は認可コードをトークンに交換し、ユーザー情報を取得する。
	Exchange(ctx context.Context, code, codeVerifier string) (*OAuthUserInfo, error)
}

// IssuedSession はログイン成功時に発行したセッション。
// Tokenは生のセッショントークンであり、Cookie以外に出力してはならない。
type IssuedSession struct {
	Token   string
	Session *model.Session
	User    *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	userRepo repository.UserRepository
	sessions *SessionManager
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(oauth OAuthProvider, userRepo repository.UserRepository, sessions *SessionManager) *Service {
	return &Service{
		oauth:    oauth,
		userRepo: userRepo,
		sessions: sessions,
		now:      time.Now,
	}
}

// AuthCodeURL はOAuth認証URLを生成する。
func (s *Service) AuthCodeURL(state, codeVerifier string) string {
	return s.oauth.AuthCodeURL(state, codeVerifier)
}

// HandleCallback は認可コードを交換してユーザーを解決し、セッションを発行する。
// 交換に失敗した場合はセッションを作成しない。
func (s *Service) HandleCallback(ctx context.Context, code, codeVerifier string) (*IssuedSession, error) {
	userInfo, err := s.oauth.Exchange(ctx, code, codeVerifier)
	if err != nil {
		return nil, model.NewExchangeFailedError(err)
	}

	user, err := s.resolveUser(ctx, userInfo)
	if err != nil {
		return nil, model.NewStoreError("resolve user", err)
	}

	token, err := GenerateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	session, err := s.sessions.CreateSession(ctx, token, user.ID)
	if err != nil {
		return nil, model.NewStoreError("create session", err)
	}

	slog.Info("session issued",
		slog.String("user_id", user.ID),
		slog.String("session_id", SessionIDForLog(session.ID)),
		slog.String("provider", userInfo.Provider),
	)

	return &IssuedSession{Token: token, Session: session, User: user}, nil
}

// Logout はトークンに対応するセッションを破棄する。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sessionID := HashSessionToken(token)
	if err := s.sessions.InvalidateSession(ctx, sessionID); err != nil {
		return model.NewStoreError("invalidate session", err)
	}
	slog.Info("user logged out", slog.String("session_id", SessionIDForLog(sessionID)))
	return nil
}

// LogoutAll はユーザーの全端末のセッションを破棄する。
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.sessions.InvalidateUserSessions(ctx, userID); err != nil {
		return model.NewStoreError("invalidate sessions", err)
	}
	slog.Info("user logged out of all sessions", slog.String("user_id", userID))
	return nil
}

// resolveUser はprovider_idでユーザーを検索し、未登録であれば作成する。
func (s *Service) resolveUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	existing, err := s.userRepo.FindByProviderID(ctx, info.ProviderUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	newUser := &model.User{
		ID:         uuid.New().String(),
		ProviderID: info.ProviderUserID,
		Name:       displayName(info),
		Email:      info.Email,
		CreatedAt:  s.now(),
	}
	if info.Picture != "" {
		picture := info.Picture
		newUser.Image = &picture
	}

	created, err := s.userRepo.CreateIfAbsent(ctx, newUser)
	if err != nil {
		return nil, err
	}

	if created.ID == newUser.ID {
		slog.Info("new user created",
			slog.String("user_id", created.ID),
			slog.String("provider", info.Provider),
		)
	}
	return created, nil
}

// displayName はnameクレーム、メールアドレスのローカル部、固定値の順に表示名を決める。
func displayName(info *OAuthUserInfo) string {
	if name := strings.TrimSpace(info.Name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(info.Email, "@"); ok && local != "" {
		return local
	}
	return defaultDisplayName
}
