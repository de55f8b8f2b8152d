// Package favicon はブックマーク先サイトのfavicon URLを検出する。
package favicon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/linkshelf/internal/bookmark"
	"github.com/hitoshi/linkshelf/internal/security"
)

// ErrNoIcon は利用可能なfaviconが見つからなかったことを表す。
var ErrNoIcon = errors.New("favicon not found")

const (
	// maxPageSize はアイコンリンク解析のために読むHTMLの上限。headに収まれば十分。
	maxPageSize = 512 * 1024
	// sniffSize はContent-Type判定に読むアイコン先頭のバイト数。
	sniffSize  = 512
	userAgent  = "linkshelf/1.0 (+favicon)"
	defaultICO = "/favicon.ico"
)

// URLValidator は取得前のURL検証を抽象化するインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Finder はページのアイコンリンクを解析し、実際に画像を返すURLを探す。
type Finder struct {
	client    *http.Client
	validator URLValidator
}

// NewFinder はSSRF対策済みクライアントを使うFinderを生成する。
func NewFinder(guard *security.SSRFGuard, timeout time.Duration) *Finder {
	return newFinder(guard.NewSafeClient(timeout), guard)
}

func newFinder(client *http.Client, validator URLValidator) *Finder {
	return &Finder{client: client, validator: validator}
}

// Find はpageURLのfavicon URLを返す。
// <link rel="icon">の候補を順に確認し、なければ/favicon.icoを確認する。
// 候補がいずれも画像でない場合はErrNoIconを返す。
func (f *Finder) Find(ctx context.Context, pageURL string) (string, error) {
	if err := f.validator.ValidateURL(pageURL); err != nil {
		return "", err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}

	// ページ取得に失敗してもルートのfavicon.icoは確認する
	candidates, _ := f.pageIconLinks(ctx, pageURL)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	candidates = append(candidates, resolve(base, defaultICO))

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}

		if f.validator.ValidateURL(candidate) != nil {
			continue
		}
		ok, err := f.isImage(ctx, candidate)
		if err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		if ok {
			return candidate, nil
		}
	}
	return "", ErrNoIcon
}

func (f *Finder) pageIconLinks(ctx context.Context, pageURL string) ([]string, error) {
	resp, err := f.get(ctx, pageURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.Contains(strings.ToLower(mediaType), "html") {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	// リダイレクト後のURLを基準に相対パスを解決する
	return ParseIconLinks(body, resp.Request.URL.String()), nil
}

// isImage はURLが画像を返すかを確認する。
// Content-Typeヘッダーがimage/*でない場合は先頭バイトから判定する。
func (f *Finder) isImage(ctx context.Context, iconURL string) (bool, error) {
	resp, err := f.get(ctx, iconURL, "image/*")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(strings.ToLower(mediaType), "image/") {
		return true, nil
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, sniffSize))
	if err != nil || len(head) == 0 {
		return false, err
	}
	return strings.HasPrefix(http.DetectContentType(head), "image/"), nil
}

func (f *Finder) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	return f.client.Do(req)
}

// ParseIconLinks はHTMLのheadからアイコンリンクを抽出し、絶対URLで返す。
// rel="icon"（"shortcut icon"を含む）をapple-touch-iconより優先する。
func ParseIconLinks(htmlBody []byte, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var icons, touchIcons []string
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return append(icons, touchIcons...)

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tag := string(tn)
			if tag == "body" {
				return append(icons, touchIcons...)
			}
			if tag != "link" || !hasAttr {
				continue
			}

			var rel, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "href":
					href = strings.TrimSpace(string(val))
				}
				if !more {
					break
				}
			}
			if href == "" || strings.HasPrefix(strings.ToLower(href), "data:") {
				continue
			}

			resolved := resolve(base, href)
			if resolved == "" {
				continue
			}
			switch relKind(rel) {
			case relIcon:
				icons = append(icons, resolved)
			case relTouchIcon:
				touchIcons = append(touchIcons, resolved)
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return append(icons, touchIcons...)
			}
		}
	}
}

type iconRel int

const (
	relNone iconRel = iota
	relIcon
	relTouchIcon
)

func relKind(rel string) iconRel {
	kind := relNone
	for _, token := range strings.Fields(rel) {
		switch token {
		case "icon":
			return relIcon
		case "apple-touch-icon", "apple-touch-icon-precomposed":
			kind = relTouchIcon
		}
	}
	return kind
}

// resolve はrawRefをbase基準の絶対URLにする。
// http(s)以外や、変更通知に収まらない長さのURLは空文字を返す。
func resolve(base *url.URL, rawRef string) string {
	if len(rawRef) > bookmark.MaxURLLength {
		return ""
	}
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	out := resolved.String()
	if !bookmark.URLWithinLimit(out) {
		return ""
	}
	return out
}
