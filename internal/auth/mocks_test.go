package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/linkshelf/internal/model"
	"github.com/hitoshi/linkshelf/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn         func(ctx context.Context, id string) (*model.User, error)
	findByProviderIDFn func(ctx context.Context, providerID string) (*model.User, error)
	createIfAbsentFn   func(ctx context.Context, user *model.User) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByProviderID(ctx context.Context, providerID string) (*model.User, error) {
	if m.findByProviderIDFn != nil {
		return m.findByProviderIDFn(ctx, providerID)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateIfAbsent(ctx context.Context, user *model.User) (*model.User, error) {
	if m.createIfAbsentFn != nil {
		return m.createIfAbsentFn(ctx, user)
	}
	return user, nil
}

// memorySessionRepo はSessionRepositoryのインメモリ実装。
type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	users    map[string]*model.User

	findErr    error
	createErr  error
	updateErr  error
	updates    int
	deletedIDs []string
}

func newMemorySessionRepo(users ...*model.User) *memorySessionRepo {
	r := &memorySessionRepo{
		sessions: make(map[string]*model.Session),
		users:    make(map[string]*model.User),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *memorySessionRepo) FindWithUser(_ context.Context, id string) (*model.Session, *model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, nil, r.findErr
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil, nil
	}
	copied := *s
	return &copied, r.users[s.UserID], nil
}

func (r *memorySessionRepo) UpdateExpiresAt(_ context.Context, id string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates++
	if s, ok := r.sessions[id]; ok {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (r *memorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedIDs = append(r.deletedIDs, id)
	delete(r.sessions, id)
	return nil
}

func (r *memorySessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *memorySessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.IsExpired(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memorySessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type mockOAuthProvider struct {
	authCodeURLFn func(state, codeVerifier string) string
	exchangeFn    func(ctx context.Context, code, codeVerifier string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) AuthCodeURL(state, codeVerifier string) string {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(state, codeVerifier)
	}
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockOAuthProvider) Exchange(ctx context.Context, code, codeVerifier string) (*OAuthUserInfo, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, codeVerifier)
	}
	return nil, nil
}

// compile-time interface check
var (
	_ repository.UserRepository    = (*mockUserRepo)(nil)
	_ repository.SessionRepository = (*memorySessionRepo)(nil)
	_ OAuthProvider                = (*mockOAuthProvider)(nil)
)
