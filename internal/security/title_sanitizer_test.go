package security

import (
	"sync"
	"testing"
)

func TestTitleSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewTitleSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Go blog", "Go blog"},
		{"タグを除去する", "<b>Go</b> <i>blog</i>", "Go blog"},
		{"scriptは中身ごと除去する", `Hello<script>alert("x")</script>`, "Hello"},
		{"イベント属性付きのタグも除去する", `<img src=x onerror="alert(1)">Photo`, "Photo"},
		{"エンティティを復元する", "Tom &amp; Jerry", "Tom & Jerry"},
		{"アンパサンドは二重にエスケープしない", "Q&A", "Q&A"},
		{"空白と改行を畳む", "  Go \n\t blog  ", "Go blog"},
		{"日本語", "<p>ブックマーク</p>", "ブックマーク"},
		{"空文字", "", ""},
		{"タグのみ", "<br><hr>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTitleSanitizer_Idempotent(t *testing.T) {
	sanitizer := NewTitleSanitizer()
	inputs := []string{"<b>Go</b> & friends", "Tom &amp; Jerry", "a  b"}

	for _, input := range inputs {
		once := sanitizer.Sanitize(input)
		if twice := sanitizer.Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", input, once, twice)
		}
	}
}

func TestTitleSanitizer_ConcurrentUse(t *testing.T) {
	sanitizer := NewTitleSanitizer()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := sanitizer.Sanitize("<em>x</em>"); got != "x" {
				t.Errorf("Sanitize() = %q, want %q", got, "x")
			}
		}()
	}
	wg.Wait()
}
