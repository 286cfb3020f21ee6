package repository

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/newsbrief/internal/model"
)

// psql はPostgreSQLのプレースホルダ（$1, $2...）を使うステートメントビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var curatedColumns = []string{
	"id", "unified_title", "original_article_ids", "article_count",
	"rank_position", "israel_relevant", "target_language", "curated_at",
}

var articleColumns = []string{
	"id", "url", "title", "source", "language", "published_date", "scraped_at",
}

// formatTimestamp はタイムスタンプ列をバッチキーとして比較可能な文字列に変換する。
// 同じ値は常に同じ文字列になる。
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func latestCuratedQuery(language string, limit int) sq.SelectBuilder {
	b := psql.Select(curatedColumns...).
		From(TableCuratedArticles).
		Where(sq.Eq{"target_language": language}).
		OrderBy("curated_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return b
}

func articlesByIDsQuery(ids []int64) sq.SelectBuilder {
	return psql.Select(articleColumns...).
		From(TableArticles).
		Where(sq.Expr("id = ANY(?)", pq.Array(ids)))
}

func probeQuery() sq.SelectBuilder {
	return psql.Select("id").From(TableCuratedArticles).Limit(1)
}

// PostgresCuratedArticleRepo はPostgreSQLを使用したキュレーション済み記事リポジトリ。
type PostgresCuratedArticleRepo struct {
	db *sql.DB
}

// NewPostgresCuratedArticleRepo はPostgresCuratedArticleRepoを生成する。
func NewPostgresCuratedArticleRepo(db *sql.DB) *PostgresCuratedArticleRepo {
	return &PostgresCuratedArticleRepo{db: db}
}

// ListLatestByLanguage は指定言語の行をcurated_at降順で最大limit件取得する。
func (r *PostgresCuratedArticleRepo) ListLatestByLanguage(ctx context.Context, language string, limit int) ([]model.CuratedArticle, error) {
	query, args, err := latestCuratedQuery(language, limit).ToSql()
	if err != nil {
		return nil, newQueryError(TableCuratedArticles, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newQueryError(TableCuratedArticles, err)
	}
	defer rows.Close()

	result := []model.CuratedArticle{}
	for rows.Next() {
		var (
			c         model.CuratedArticle
			ids       pq.Int64Array
			curatedAt time.Time
		)
		if err := rows.Scan(
			&c.ID, &c.UnifiedTitle, &ids, &c.ArticleCount,
			&c.RankPosition, &c.IsraelRelevant, &c.TargetLanguage, &curatedAt,
		); err != nil {
			return nil, newQueryError(TableCuratedArticles, err)
		}
		c.OriginalArticleIDs = []int64(ids)
		c.CuratedAt = formatTimestamp(curatedAt)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, newQueryError(TableCuratedArticles, err)
	}

	return result, nil
}

// Probe はcurated_articlesから最大1件のidを取得し、取得件数を返す。
func (r *PostgresCuratedArticleRepo) Probe(ctx context.Context) (int, error) {
	query, args, err := probeQuery().ToSql()
	if err != nil {
		return 0, newQueryError(TableCuratedArticles, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, newQueryError(TableCuratedArticles, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, newQueryError(TableCuratedArticles, err)
	}
	return count, nil
}

// PostgresArticleRepo はPostgreSQLを使用した元記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// FindByIDs は指定IDの元記事を1回のクエリで取得する。
// idsが空の場合はクエリを発行しない。
func (r *PostgresArticleRepo) FindByIDs(ctx context.Context, ids []int64) ([]model.Article, error) {
	if len(ids) == 0 {
		return []model.Article{}, nil
	}

	query, args, err := articlesByIDsQuery(ids).ToSql()
	if err != nil {
		return nil, newQueryError(TableArticles, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newQueryError(TableArticles, err)
	}
	defer rows.Close()

	result := []model.Article{}
	for rows.Next() {
		var (
			a         model.Article
			published sql.NullTime
			scrapedAt time.Time
		)
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Source, &a.Language, &published, &scrapedAt); err != nil {
			return nil, newQueryError(TableArticles, err)
		}
		if published.Valid {
			a.PublishedDate = formatTimestamp(published.Time)
		}
		a.ScrapedAt = formatTimestamp(scrapedAt)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, newQueryError(TableArticles, err)
	}

	return result, nil
}
