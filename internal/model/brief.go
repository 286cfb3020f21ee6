package model

import "time"

// ISOTimeLayout は生成日時の出力形式（ミリ秒精度のUTC）。
const ISOTimeLayout = "2006-01-02T15:04:05.000Z"

// BriefArticle はCuratedArticleと最初の元記事を結合した表示用の記事。
// 永続化はされない。
type BriefArticle struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Source         string `json:"source"`
	SourceInitials string `json:"sourceInitials"`
	URL            string `json:"url"`
	RankPosition   int    `json:"rankPosition"`
	ArticleCount   int    `json:"articleCount"`
}

// BriefMetadata は1回のレスポンスの件数と生成日時を表す。
type BriefMetadata struct {
	TotalArticles       int    `json:"totalArticles"`
	IsraelRelevantCount int    `json:"israelRelevantCount"`
	OtherCoverageCount  int    `json:"otherCoverageCount"`
	GeneratedAt         string `json:"generatedAt"`
	Language            string `json:"language"`
}

// BriefResponse は最新ブリーフのレスポンス。
// 2つのバケットはいずれもランク昇順で並ぶ。
type BriefResponse struct {
	IsraelRelevant []BriefArticle `json:"israelRelevant"`
	OtherCoverage  []BriefArticle `json:"otherCoverage"`
	Metadata       BriefMetadata  `json:"metadata"`
}

// NewEmptyBrief は記事が存在しない場合の空レスポンスを生成する。
// バケットはnullではなく空配列としてシリアライズされる。
func NewEmptyBrief(language string, generatedAt time.Time) *BriefResponse {
	return &BriefResponse{
		IsraelRelevant: []BriefArticle{},
		OtherCoverage:  []BriefArticle{},
		Metadata: BriefMetadata{
			GeneratedAt: generatedAt.UTC().Format(ISOTimeLayout),
			Language:    language,
		},
	}
}
