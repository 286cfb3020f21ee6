// Package repository はarticles / curated_articles の読み取りインターフェースを定義する。
// ホスト型バックエンドのREST API経由の実装と、PostgreSQLへの直接接続による実装を持つ。
package repository

import (
	"context"

	"github.com/hitoshi/newsbrief/internal/model"
)

// テーブル名
const (
	TableArticles        = "articles"
	TableCuratedArticles = "curated_articles"
)

// CuratedArticleRepository はキュレーション済み記事の読み取りインターフェース。
type CuratedArticleRepository interface {
	// ListLatestByLanguage は指定言語の行をcurated_at降順で最大limit件取得する。
	// 該当行がない場合は空スライスを返す。
	ListLatestByLanguage(ctx context.Context, language string, limit int) ([]model.CuratedArticle, error)
}

// ArticleRepository は元記事の読み取りインターフェース。
type ArticleRepository interface {
	// FindByIDs は指定IDの元記事を1回のクエリで取得する。
	// 存在しないIDは結果に含まれない。順序は保証しない。
	FindByIDs(ctx context.Context, ids []int64) ([]model.Article, error)
}

// ConnectionProber はバックエンドへの疎通確認を行う。
type ConnectionProber interface {
	// Probe はcurated_articlesから最大1件のidを取得し、取得件数を返す。
	Probe(ctx context.Context) (int, error)
}
