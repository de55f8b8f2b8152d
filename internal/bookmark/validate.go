package bookmark

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/linkshelf/internal/model"
	"github.com/hitoshi/linkshelf/internal/security"
)

// 変更通知（pg_notify）のペイロードは8000バイトまで。
// タイトル、URL、favicon URLを上限まで使い、固定フィールドを加えても収まる値にする。
const (
	// MaxTitleRunes はタイトルの最大文字数。超過分は切り詰める。
	MaxTitleRunes = 500
	// MaxTitleBytes はJSONエスケープ後のタイトルの最大バイト長。超過分は切り詰める。
	MaxTitleBytes = 2000
	// MaxURLLength は正規化・JSONエスケープ後のURLの最大バイト長。favicon URLにも適用する。
	MaxURLLength = 2048
)

// NotifyLen は文字列を変更通知のJSONに埋め込んだときのバイト長を返す。
func NotifyLen(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' || c == '\\' || c == '\b' || c == '\f' || c == '\n' || c == '\r' || c == '\t':
			n += 2
		case c < 0x20:
			n += 6 // \u00XX
		default:
			n++
		}
	}
	return n
}

// URLWithinLimit はURLが変更通知に収まる長さかを返す。
func URLWithinLimit(u string) bool {
	return NotifyLen(u) <= MaxURLLength
}

// Input は検証・正規化済みのブックマーク入力。
type Input struct {
	Title string
	URL   string
}

// Validator はブックマーク入力を検証する。並行利用しても安全。
type Validator struct {
	sanitizer *security.TitleSanitizer
}

// NewValidator はValidatorを生成する。
func NewValidator() *Validator {
	return &Validator{sanitizer: security.NewTitleSanitizer()}
}

// Validate はタイトルとURLを検証し、正規化した値を返す。
// 失敗時はFieldを設定したVALIDATION_ERRORを返す。
func (v *Validator) Validate(title, rawURL string) (Input, error) {
	cleanTitle := truncateTitle(v.sanitizer.Sanitize(title))
	if cleanTitle == "" {
		return Input{}, model.NewValidationError("title", "Title is required")
	}

	normalizedURL, apiErr := validateURL(strings.TrimSpace(rawURL))
	if apiErr != nil {
		return Input{}, apiErr
	}

	return Input{Title: cleanTitle, URL: normalizedURL}, nil
}

func validateURL(rawURL string) (string, *model.APIError) {
	if rawURL == "" {
		return "", model.NewValidationError("url", "URL is required")
	}
	if len(rawURL) > MaxURLLength {
		return "", model.NewValidationError("url", "URL is too long")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", model.NewValidationError("url", "URL is malformed")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", model.NewValidationError("url", "URL must start with http:// or https://")
	}
	if parsed.Host == "" {
		return "", model.NewValidationError("url", "URL must include a host")
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	// 非ASCII文字は%XXに展開されるため、正規化後の長さで判定する
	normalized := parsed.String()
	if !URLWithinLimit(normalized) {
		return "", model.NewValidationError("url", "URL is too long")
	}
	return normalized, nil
}

// truncateTitle はタイトルをMaxTitleRunes文字かつMaxTitleBytesバイト以内に切り詰める。
func truncateTitle(s string) string {
	if utf8.RuneCountInString(s) <= MaxTitleRunes && NotifyLen(s) <= MaxTitleBytes {
		return s
	}
	runes := []rune(s)
	if len(runes) > MaxTitleRunes {
		runes = runes[:MaxTitleRunes]
	}
	for len(runes) > 0 && NotifyLen(string(runes)) > MaxTitleBytes {
		runes = runes[:len(runes)-1]
	}
	return strings.TrimSpace(string(runes))
}
