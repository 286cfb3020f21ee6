// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: config, backend, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeCuratedQueryFailed  = "CURATED_QUERY_FAILED"
	ErrCodeArticlesQueryFailed = "ARTICLES_QUERY_FAILED"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeUnsupportedLanguage = "UNSUPPORTED_LANGUAGE"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewConfigurationError はバックエンドの認証情報が未設定の場合のエラーを生成する。
// クエリを発行する前に返される。
func NewConfigurationError() *APIError {
	return &APIError{
		Code:     ErrCodeConfiguration,
		Message:  "Server configuration error: Missing database credentials",
		Category: "config",
		Action:   "Set SUPABASE_URL and SUPABASE_ANON_KEY and restart the server.",
	}
}

// NewCuratedQueryError はcurated_articlesの取得失敗エラーを生成する。
// バックエンドのメッセージをそのまま含める。
func NewCuratedQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCuratedQueryFailed,
		Message:  fmt.Sprintf("Failed to fetch curated articles: %s", reason),
		Category: "backend",
		Action:   "Please try again later.",
	}
}

// NewArticlesQueryError はarticlesの取得失敗エラーを生成する。
func NewArticlesQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeArticlesQueryFailed,
		Message:  fmt.Sprintf("Failed to fetch original articles: %s", reason),
		Category: "backend",
		Action:   "Please try again later.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewUnsupportedLanguageError はリアルタイム配信の対象外の言語が指定された場合のエラーを生成する。
func NewUnsupportedLanguageError(language string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedLanguage,
		Message:  fmt.Sprintf("Live updates are not available for language %q", language),
		Category: "validation",
		Action:   "Use one of the languages the server listens on.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Failed to fetch latest news brief",
		Category: "system",
		Action:   "Please try again later.",
	}
}
