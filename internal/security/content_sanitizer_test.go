package security

import "testing"

func TestCleanTitle(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Ceasefire talks resume", "Ceasefire talks resume"},
		{"ヘブライ語", "הפסקת אש: המגעים חודשו", "הפסקת אש: המגעים חודשו"},
		{"タグを除去", "<b>Breaking</b> news", "Breaking news"},
		{"scriptを内容ごと除去", "Title<script>alert(1)</script>", "Title"},
		{"エンティティを復元", "<i>Q&amp;A</i> session", "Q&A session"},
		{"タグなしのアンパサンドは変更しない", "Q&A session", "Q&A session"},
		{"空白はそのまま", "Line one\nLine  two", "Line one\nLine  two"},
		{"HTML要素でない山括弧は残す", "Knesset vote on <Basic Law> bill", "Knesset vote on <Basic Law> bill"},
		{"比較記号は残す", "Turnout < 60% in 3 cities", "Turnout < 60% in 3 cities"},
		{"大文字のタグも除去", "<B>Breaking</B> news", "Breaking news"},
		{"空文字", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.CleanTitle(tt.input); got != tt.want {
				t.Errorf("CleanTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanTitle_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	input := "<p>Israel &amp; Gaza: <em>latest</em></p>"

	first := s.CleanTitle(input)
	if second := s.CleanTitle(first); first != second {
		t.Errorf("CleanTitle is not idempotent: %q -> %q", first, second)
	}
}

func TestSafeLink(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"https", "https://www.bbc.com/news/world-1", "https://www.bbc.com/news/world-1"},
		{"http", "http://www.ynet.co.il/articles/1", "http://www.ynet.co.il/articles/1"},
		{"前後の空白を除去", "  https://example.com/a ", "https://example.com/a"},
		{"空文字", "", FallbackLink},
		{"javascriptスキーム", "javascript:alert(1)", FallbackLink},
		{"dataスキーム", "data:text/html,<script>alert(1)</script>", FallbackLink},
		{"大文字のjavascriptスキーム", "JavaScript:alert(1)", FallbackLink},
		{"vbscriptスキーム", "vbscript:msgbox(1)", FallbackLink},
		{"制御文字を含む", "java\tscript:alert(1)", FallbackLink},
		{"空白のみ", "   ", FallbackLink},
		{"パスのみの相対URL", "/2025/01/01/world/story", "/2025/01/01/world/story"},
		{"プロトコル相対URL", "//www.ynet.co.il/news/1", "//www.ynet.co.il/news/1"},
		{"スキームなし", "news.walla.co.il/item/2", "news.walla.co.il/item/2"},
		{"フォールバック値", "#", "#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SafeLink(tt.input); got != tt.want {
				t.Errorf("SafeLink(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizerService = NewTextSanitizer()
}
