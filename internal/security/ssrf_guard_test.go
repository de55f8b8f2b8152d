package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSafeClient_Timeout(t *testing.T) {
	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want %v", client.Timeout, 5*time.Second)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected a dedicated transport")
	}
}

// TestNewSafeClient_BlocksLoopback はhttptestサーバー（127.0.0.1）への接続が拒否されることを検証する。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com", false},
		{"http://blog.example.org/post/1", false},
		{"https://93.184.216.34/", false},
		{"", true},
		{"not-a-url", true},
		{"ftp://example.com/file", true},
		{"file:///etc/passwd", true},
		{"javascript:alert(1)", true},
		{"http://10.0.0.1/", true},
		{"http://172.16.0.1/", true},
		{"http://192.168.1.100/", true},
		{"http://127.0.0.1/", true},
		{"http://127.0.0.2/", true},
		{"http://localhost/", true},
		{"http://LOCALHOST./", true},
		{"http://app.localhost/", true},
		{"http://169.254.169.254/latest/meta-data/", true},
		{"http://100.64.0.1/", true},
		{"http://0.0.0.0/", true},
		{"http://[::1]/", true},
		{"http://[fd00::1]/", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBlockedURL) {
				t.Errorf("error should wrap ErrBlockedURL: %v", err)
			}
		})
	}
}
