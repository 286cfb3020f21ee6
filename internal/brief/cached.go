package brief

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
)

// JSONCache はCachedServiceが使うキャッシュのインターフェース。
// *cache.RedisCache が実装する。
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CachedService はRetrieverの結果を言語ごとにキャッシュするデコレータ。
// 空のブリーフとエラーはキャッシュしない。
// キャッシュの障害はログに記録し、元のRetrieverにフォールバックする。
type CachedService struct {
	next   Retriever
	cache  JSONCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedService はCachedServiceを生成する。
func NewCachedService(next Retriever, cache JSONCache, ttl time.Duration, logger *slog.Logger) *CachedService {
	return &CachedService{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(language string) string {
	return "brief:" + language
}

// Latest はキャッシュを確認し、なければ元のRetrieverから取得して保存する。
func (c *CachedService) Latest(ctx context.Context, language string) (*model.BriefResponse, error) {
	if language == "" {
		language = string(model.DefaultLanguage)
	}
	key := cacheKey(language)

	var cached model.BriefResponse
	found, err := c.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		c.logger.Warn("ブリーフキャッシュの読み取りに失敗しました",
			slog.String("language", language),
			slog.String("error", err.Error()),
		)
	}
	if found {
		return &cached, nil
	}

	resp, err := c.next.Latest(ctx, language)
	if err != nil {
		return nil, err
	}

	if resp.Metadata.TotalArticles > 0 {
		if err := c.cache.SetJSON(ctx, key, resp, c.ttl); err != nil {
			c.logger.Warn("ブリーフキャッシュの書き込みに失敗しました",
				slog.String("language", language),
				slog.String("error", err.Error()),
			)
		}
	}
	return resp, nil
}

// Invalidate は指定言語のキャッシュを削除する。
// 新しいバッチの挿入を検知したときに呼ばれる。
func (c *CachedService) Invalidate(ctx context.Context, language string) error {
	return c.cache.Delete(ctx, cacheKey(language))
}
