// Package model はドメインモデルを定義する。
package model

// Article はスクレイピング済みの元記事（articlesテーブルの行）を表す。
// スクレイピング後は不変で、このシステムからは読み取りのみ行う。
// 日時はストアが返した文字列をそのまま保持する。
type Article struct {
	ID            int64  `json:"id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Source        string `json:"source"`
	Language      string `json:"language"`
	PublishedDate string `json:"published_date"`
	ScrapedAt     string `json:"scraped_at"`
}

// CuratedArticle は上流のキュレーション処理が生成した記事（curated_articlesテーブルの行）を表す。
// 同一キュレーション実行で生成された行はすべて同じCuratedAtを持ち、これがバッチキーとなる。
type CuratedArticle struct {
	ID                 int64   `json:"id"`
	UnifiedTitle       string  `json:"unified_title"`
	OriginalArticleIDs []int64 `json:"original_article_ids"`
	ArticleCount       int     `json:"article_count"`
	RankPosition       int     `json:"rank_position"`
	IsraelRelevant     bool    `json:"israel_relevant"`
	TargetLanguage     string  `json:"target_language"`
	CuratedAt          string  `json:"curated_at"`
}

// FirstOriginalArticleID は表示用のソース解決に使う最初の元記事IDを返す。
// 元記事IDが1件もない場合はfalseを返す。
func (c *CuratedArticle) FirstOriginalArticleID() (int64, bool) {
	if len(c.OriginalArticleIDs) == 0 {
		return 0, false
	}
	return c.OriginalArticleIDs[0], true
}

// Language は記事の対象言語コード。
type Language string

const (
	// LanguageHebrew はヘブライ語。
	LanguageHebrew Language = "he"
	// LanguageArabic はアラビア語。
	LanguageArabic Language = "ar"
	// LanguageEnglish は英語。
	LanguageEnglish Language = "en"
)

// DefaultLanguage はリクエストで言語が指定されなかった場合の言語。
const DefaultLanguage = LanguageHebrew

// SupportedLanguages はフロントエンドが提供する言語の一覧。
var SupportedLanguages = []Language{LanguageHebrew, LanguageArabic, LanguageEnglish}

// IsSupported は言語がフロントエンドの提供言語に含まれるかを返す。
func (l Language) IsSupported() bool {
	for _, s := range SupportedLanguages {
		if l == s {
			return true
		}
	}
	return false
}
