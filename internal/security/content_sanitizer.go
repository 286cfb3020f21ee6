// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はキュレーション済み記事のタイトルとリンクを表示用に整える。
// タイトルに混入したHTML要素はbluemondayのStrictPolicyで除去し、
// リンクはjavascript:などの危険なスキームのみを拒否する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FallbackLink は解決できない、または安全でないリンクの代替値。
const FallbackLink = "#"

// blockedLinkSchemes はリンクとして出力しないスキーム。
var blockedLinkSchemes = map[string]bool{
	"javascript": true,
	"vbscript":   true,
	"data":       true,
}

// TextSanitizerService はタイトルとリンクの整形機能のインターフェース。
type TextSanitizerService interface {
	// CleanTitle はタイトルに含まれるHTML要素を除去してエンティティを復元する。
	// HTML要素を含まない入力はそのまま返す。
	CleanTitle(raw string) string

	// SafeLink は危険なスキームと空文字のみFallbackLinkに置き換え、それ以外はそのまま返す。
	SafeLink(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// CleanTitle はタイトルからHTML要素を除去する。
// "<Basic Law>" のようにHTML要素名でない山括弧の文字列は本文として残す。
func (s *textSanitizer) CleanTitle(raw string) string {
	if !containsMarkup(raw) {
		return raw
	}
	// StrictPolicyはエンティティをエスケープした状態で返す
	return html.UnescapeString(s.policy.Sanitize(raw))
}

// containsMarkup は既知のHTML要素のタグが含まれるかを判定する。
func containsMarkup(raw string) bool {
	if !strings.ContainsRune(raw, '<') {
		return false
	}
	z := xhtml.NewTokenizer(strings.NewReader(raw))
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return false
		case xhtml.StartTagToken, xhtml.EndTagToken, xhtml.SelfClosingTagToken:
			// TagNameは小文字化済み
			name, _ := z.TagName()
			if atom.Lookup(name) != 0 {
				return true
			}
		}
	}
}

// SafeLink は危険なスキームのリンクのみをFallbackLinkに置き換える。
// スキームのない相対URLやプロトコル相対URLはそのまま返す。
func (s *textSanitizer) SafeLink(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return FallbackLink
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		// 制御文字を含むなど解釈できないリンク
		return FallbackLink
	}
	if blockedLinkSchemes[strings.ToLower(u.Scheme)] {
		return FallbackLink
	}
	return trimmed
}
