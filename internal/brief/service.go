// Package brief は最新ブリーフの取得と整形を提供する。
//
// 言語ごとに最新のキュレーションバッチを選び、元記事と結合して表示用フィールドを導出し、
// ランク順に並べてから関連度フラグで2つのバケットに分ける。
package brief

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/repository"
	"github.com/hitoshi/newsbrief/internal/security"
)

// DefaultFetchWindow は1回の取得で走査するcurated_articlesの行数。
const DefaultFetchWindow = 100

// 取得結果の分類
const (
	OutcomeOK     = "ok"
	OutcomeEmpty  = "empty"
	OutcomeError  = "error"
	OutcomeConfig = "config_error"
)

// Retriever は言語を指定して最新ブリーフを返す。
type Retriever interface {
	Latest(ctx context.Context, language string) (*model.BriefResponse, error)
}

// Recorder は取得処理の計測値を受け取る。
type Recorder interface {
	ObserveQuery(table string, d time.Duration)
	RecordBrief(language, outcome string, articles int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveQuery(string, time.Duration) {}
func (nopRecorder) RecordBrief(string, string, int)    {}

// Service は最新ブリーフの取得サービス。
// リクエスト間で可変状態を共有しないため、並行に呼び出してよい。
type Service struct {
	curatedRepo repository.CuratedArticleRepository
	articleRepo repository.ArticleRepository
	sanitizer   security.TextSanitizerService
	codes       *SourceCodes
	logger      *slog.Logger

	fetchWindow int
	recorder    Recorder
	now         func() time.Time
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithFetchWindow は走査する行数を設定する。0以下は無視する。
func WithFetchWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fetchWindow = n
		}
	}
}

// WithRecorder は計測値の送り先を設定する。
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock は現在時刻の取得関数を設定する。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	curatedRepo repository.CuratedArticleRepository,
	articleRepo repository.ArticleRepository,
	sanitizer security.TextSanitizerService,
	codes *SourceCodes,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if codes == nil {
		codes = DefaultSourceCodes()
	}
	s := &Service{
		curatedRepo: curatedRepo,
		articleRepo: articleRepo,
		sanitizer:   sanitizer,
		codes:       codes,
		logger:      logger,
		fetchWindow: DefaultFetchWindow,
		recorder:    nopRecorder{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// derivedArticle は導出済みの記事と、分類に使う関連度フラグの組。
// ソート後も記事とフラグの対応が崩れないように一緒に持ち運ぶ。
type derivedArticle struct {
	article  model.BriefArticle
	relevant bool
}

// Latest は指定言語の最新キュレーションバッチを返す。
// 言語が空の場合はヘブライ語とする。
// 該当行がない場合は空のレスポンスを返し、エラーにはしない。
// いずれかのクエリが失敗した場合はバックエンドのメッセージを含むAPIErrorを返し、部分的な結果は返さない。
func (s *Service) Latest(ctx context.Context, language string) (*model.BriefResponse, error) {
	if language == "" {
		language = string(model.DefaultLanguage)
	}

	start := s.now()
	rows, err := s.curatedRepo.ListLatestByLanguage(ctx, language, s.fetchWindow)
	s.recorder.ObserveQuery(repository.TableCuratedArticles, s.now().Sub(start))
	if err != nil {
		s.logger.Error("curated_articlesの取得に失敗しました",
			slog.String("language", language),
			slog.String("error", err.Error()),
		)
		s.recorder.RecordBrief(language, OutcomeError, 0)
		return nil, model.NewCuratedQueryError(repository.ClientMessage(err))
	}

	if len(rows) == 0 {
		s.recorder.RecordBrief(language, OutcomeEmpty, 0)
		return model.NewEmptyBrief(language, s.now()), nil
	}

	batchKey, batch := latestBatch(rows)

	start = s.now()
	articles, err := s.articleRepo.FindByIDs(ctx, collectArticleIDs(batch))
	s.recorder.ObserveQuery(repository.TableArticles, s.now().Sub(start))
	if err != nil {
		s.logger.Error("articlesの取得に失敗しました",
			slog.String("language", language),
			slog.String("batch", batchKey),
			slog.String("error", err.Error()),
		)
		s.recorder.RecordBrief(language, OutcomeError, 0)
		return nil, model.NewArticlesQueryError(repository.ClientMessage(err))
	}

	byID := make(map[int64]model.Article, len(articles))
	for _, a := range articles {
		byID[a.ID] = a
	}

	derived := make([]derivedArticle, 0, len(batch))
	for _, row := range batch {
		derived = append(derived, s.derive(row, byID))
	}

	resp := partition(derived, language, batchKey)

	s.logger.Debug("最新ブリーフを生成しました",
		slog.String("language", language),
		slog.String("batch", batchKey),
		slog.Int("total", resp.Metadata.TotalArticles),
		slog.Int("israel_relevant", resp.Metadata.IsraelRelevantCount),
	)
	s.recorder.RecordBrief(language, OutcomeOK, resp.Metadata.TotalArticles)
	return resp, nil
}

// latestBatch は先頭行のcurated_atをバッチキーとし、完全一致する行だけを返す。
// rowsはcurated_at降順で1件以上あること。
func latestBatch(rows []model.CuratedArticle) (string, []model.CuratedArticle) {
	key := rows[0].CuratedAt
	batch := make([]model.CuratedArticle, 0, len(rows))
	for _, row := range rows {
		if row.CuratedAt == key {
			batch = append(batch, row)
		}
	}
	return key, batch
}

// collectArticleIDs はバッチ内の全元記事IDを重複なく出現順に集める。
func collectArticleIDs(batch []model.CuratedArticle) []int64 {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0, len(batch))
	for _, row := range batch {
		for _, id := range row.OriginalArticleIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// derive はキュレーション行と最初の元記事から表示用記事を導出する。
func (s *Service) derive(row model.CuratedArticle, byID map[int64]model.Article) derivedArticle {
	source := UnknownSource
	link := security.FallbackLink

	if id, ok := row.FirstOriginalArticleID(); ok {
		if a, found := byID[id]; found {
			if a.Source != "" {
				source = a.Source
			}
			if a.URL != "" {
				link = s.sanitizer.SafeLink(a.URL)
			}
		}
	}

	return derivedArticle{
		article: model.BriefArticle{
			ID:             row.ID,
			Title:          s.sanitizer.CleanTitle(row.UnifiedTitle),
			Source:         source,
			SourceInitials: s.codes.ShortCode(source),
			URL:            link,
			RankPosition:   row.RankPosition,
			ArticleCount:   row.ArticleCount,
		},
		relevant: row.IsraelRelevant,
	}
}

// partition はランク昇順に安定ソートしてから関連度フラグで分類する。
// 各バケットはソート順を保つ。
func partition(derived []derivedArticle, language, batchKey string) *model.BriefResponse {
	sort.SliceStable(derived, func(i, j int) bool {
		return derived[i].article.RankPosition < derived[j].article.RankPosition
	})

	resp := &model.BriefResponse{
		IsraelRelevant: []model.BriefArticle{},
		OtherCoverage:  []model.BriefArticle{},
	}
	for _, d := range derived {
		if d.relevant {
			resp.IsraelRelevant = append(resp.IsraelRelevant, d.article)
		} else {
			resp.OtherCoverage = append(resp.OtherCoverage, d.article)
		}
	}

	resp.Metadata = model.BriefMetadata{
		TotalArticles:       len(resp.IsraelRelevant) + len(resp.OtherCoverage),
		IsraelRelevantCount: len(resp.IsraelRelevant),
		OtherCoverageCount:  len(resp.OtherCoverage),
		GeneratedAt:         batchKey,
		Language:            language,
	}
	return resp
}

// Unavailable はバックエンドの認証情報が未設定のときに使うRetriever。
// クエリを発行せずに設定エラーを返す。
type Unavailable struct {
	recorder Recorder
}

// NewUnavailable はUnavailableを生成する。recorderはnilでもよい。
func NewUnavailable(recorder Recorder) *Unavailable {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Unavailable{recorder: recorder}
}

// Latest は常に設定エラーを返す。
func (u *Unavailable) Latest(_ context.Context, language string) (*model.BriefResponse, error) {
	if language == "" {
		language = string(model.DefaultLanguage)
	}
	u.recorder.RecordBrief(language, OutcomeConfig, 0)
	return nil, model.NewConfigurationError()
}
