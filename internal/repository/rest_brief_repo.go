package repository

import (
	"context"

	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/supabase"
)

// RESTSelecter はPostgRESTのSELECTを実行するクライアントのインターフェース。
// *supabase.Client が実装する。
type RESTSelecter interface {
	Select(ctx context.Context, q *supabase.Query, dest any) error
}

// RESTCuratedArticleRepo はREST API経由のキュレーション済み記事リポジトリ。
type RESTCuratedArticleRepo struct {
	client RESTSelecter
}

// NewRESTCuratedArticleRepo はRESTCuratedArticleRepoを生成する。
func NewRESTCuratedArticleRepo(client RESTSelecter) *RESTCuratedArticleRepo {
	return &RESTCuratedArticleRepo{client: client}
}

// ListLatestByLanguage は指定言語の行をcurated_at降順で最大limit件取得する。
func (r *RESTCuratedArticleRepo) ListLatestByLanguage(ctx context.Context, language string, limit int) ([]model.CuratedArticle, error) {
	q := supabase.From(TableCuratedArticles).
		Eq("target_language", language).
		Order("curated_at", false).
		Limit(limit)

	var rows []model.CuratedArticle
	if err := r.client.Select(ctx, q, &rows); err != nil {
		return nil, newQueryError(TableCuratedArticles, err)
	}
	if rows == nil {
		rows = []model.CuratedArticle{}
	}
	return rows, nil
}

// Probe はcurated_articlesから最大1件のidを取得し、取得件数を返す。
func (r *RESTCuratedArticleRepo) Probe(ctx context.Context) (int, error) {
	q := supabase.From(TableCuratedArticles).Select("id").Limit(1)

	var rows []struct {
		ID int64 `json:"id"`
	}
	if err := r.client.Select(ctx, q, &rows); err != nil {
		return 0, newQueryError(TableCuratedArticles, err)
	}
	return len(rows), nil
}

// RESTArticleRepo はREST API経由の元記事リポジトリ。
type RESTArticleRepo struct {
	client RESTSelecter
}

// NewRESTArticleRepo はRESTArticleRepoを生成する。
func NewRESTArticleRepo(client RESTSelecter) *RESTArticleRepo {
	return &RESTArticleRepo{client: client}
}

// FindByIDs は指定IDの元記事を1回のクエリで取得する。
// idsが空の場合はクエリを発行しない。
func (r *RESTArticleRepo) FindByIDs(ctx context.Context, ids []int64) ([]model.Article, error) {
	if len(ids) == 0 {
		return []model.Article{}, nil
	}

	q := supabase.From(TableArticles).InInt64("id", ids)

	var rows []model.Article
	if err := r.client.Select(ctx, q, &rows); err != nil {
		return nil, newQueryError(TableArticles, err)
	}
	if rows == nil {
		rows = []model.Article{}
	}
	return rows, nil
}
