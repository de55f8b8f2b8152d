package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/hitoshi/linkshelf/internal/bookmarksync"
	"github.com/hitoshi/linkshelf/internal/model"
)

type mockSyncClient struct {
	status    bookmarksync.Status
	bookmarks []model.Bookmark
	createFn  func(ctx context.Context, title, rawURL string) (*model.Bookmark, error)
	deleteFn  func(ctx context.Context, id string) error
}

func (m *mockSyncClient) Status() bookmarksync.Status   { return m.status }
func (m *mockSyncClient) Bookmarks() []model.Bookmark { return m.bookmarks }

func (m *mockSyncClient) Create(ctx context.Context, title, rawURL string) (*model.Bookmark, error) {
	return m.createFn(ctx, title, rawURL)
}

func (m *mockSyncClient) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

// compile-time interface checks
var (
	_ syncClient = (*mockSyncClient)(nil)
	_ syncClient = (*bookmarksync.Client)(nil)
)

func TestRunWatchCommands(t *testing.T) {
	var createdTitle, createdURL, deletedID string
	client := &mockSyncClient{
		status:    bookmarksync.StatusConnected,
		bookmarks: []model.Bookmark{{ID: "b1", Title: "Go", URL: "https://go.dev"}},
		createFn: func(_ context.Context, title, rawURL string) (*model.Bookmark, error) {
			createdTitle, createdURL = title, rawURL
			return &model.Bookmark{ID: "b2"}, nil
		},
		deleteFn: func(_ context.Context, id string) error {
			deletedID = id
			return nil
		},
	}
	in := strings.NewReader("ls\nadd https://pkg.go.dev Go packages\nrm b1\nbogus\nquit\nls\n")
	var out bytes.Buffer

	if err := runWatchCommands(context.Background(), client, in, &out); err != nil {
		t.Fatalf("runWatchCommands() error = %v", err)
	}

	if createdTitle != "Go packages" || createdURL != "https://pkg.go.dev" {
		t.Errorf("Create(%q, %q)", createdTitle, createdURL)
	}
	if deletedID != "b1" {
		t.Errorf("Delete(%q), want b1", deletedID)
	}
	got := out.String()
	for _, want := range []string{"status: connected", "b1\tGo\thttps://go.dev", "added b2", "removed b1", `unknown command "bogus"`} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	// quit以降の入力は処理しない
	if strings.Count(got, "status: connected") != 1 {
		t.Errorf("commands after quit should be ignored:\n%s", got)
	}
}

func TestRunWatchCommands_ReportsRetryableErrors(t *testing.T) {
	client := &mockSyncClient{
		status: bookmarksync.StatusConnecting,
		createFn: func(context.Context, string, string) (*model.Bookmark, error) {
			return nil, model.NewSyncNotConnectedError("connecting")
		},
	}
	var out bytes.Buffer

	runWatchCommands(context.Background(), client, strings.NewReader("add https://go.dev\n"), &out)

	if got := out.String(); !strings.Contains(got, model.ErrCodeSyncNotConnected) || !strings.Contains(got, "retry possible") {
		t.Errorf("output = %q, want SYNC_NOT_CONNECTED with retry hint", got)
	}
}
