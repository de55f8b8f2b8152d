// Package security はタイトルのサニタイズとSSRF防止を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizer はブックマークのタイトルからHTMLを除去してプレーンテキストにする。
// 並行利用しても安全。
type TitleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はbluemondayのStrictPolicyによるTitleSanitizerを生成する。
func NewTitleSanitizer() *TitleSanitizer {
	return &TitleSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は全てのタグを除去し、エンティティを復元し、空白を1つに畳んだ文字列を返す。
// script・styleの中身は残さない。
func (s *TitleSanitizer) Sanitize(raw string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(cleaned), " ")
}
